package logger

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/txlife/internal/events"
)

var journalHeader = []string{
	"timestamp", "event_id", "type", "handle", "method", "state",
	"block", "confirmations", "fee", "error_kind", "error",
}

// Journal appends every lifecycle event it handles to a CSV file. Writes are buffered and
// flushed periodically and on Close.
type Journal struct {
	mu       sync.Mutex
	writer   *csv.Writer
	file     *os.File
	ticker   *time.Ticker
	done     chan struct{}
	stopped  sync.WaitGroup
	logger   *zap.Logger
	filePath string

	writtenRecords uint64
	flushCount     uint64
}

// NewJournal opens filePath in append mode, writing the header if the file is empty.
func NewJournal(filePath string, flushInterval time.Duration, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	j := &Journal{
		writer:   csv.NewWriter(file),
		file:     file,
		ticker:   time.NewTicker(flushInterval),
		done:     make(chan struct{}),
		logger:   logger.Named("journal"),
		filePath: filePath,
	}

	if stat.Size() == 0 {
		if err := j.writer.Write(journalHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		j.writer.Flush()
	}

	j.stopped.Add(1)
	go j.periodicFlush()

	return j, nil
}

// Subscribe attaches the journal to every lifecycle event of bus.
func (j *Journal) Subscribe(bus *events.Bus) events.Subscription {
	return bus.SubscribeLifecycle(j)
}

// Handle records a lifecycle event.
func (j *Journal) Handle(_ context.Context, event events.Event) error {
	txEvent, ok := event.(*events.TransactionEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}
	return j.WriteRecord([]string{
		txEvent.Timestamp().UTC().Format(time.RFC3339Nano),
		txEvent.ID(),
		string(txEvent.Type()),
		txEvent.Handle,
		txEvent.Method,
		txEvent.State,
		strconv.FormatUint(txEvent.BlockNumber, 10),
		strconv.FormatUint(txEvent.Confirmations, 10),
		strconv.FormatUint(txEvent.Fee, 10),
		txEvent.ErrorKind,
		txEvent.Error,
	})
}

// WriteRecord writes a raw CSV record.
func (j *Journal) WriteRecord(record []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	j.writtenRecords++
	return nil
}

// Flush writes buffered records to disk.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flushLocked()
}

func (j *Journal) flushLocked() error {
	j.writer.Flush()
	if err := j.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	j.flushCount++
	return nil
}

func (j *Journal) periodicFlush() {
	defer j.stopped.Done()
	for {
		select {
		case <-j.ticker.C:
			if err := j.Flush(); err != nil {
				j.logger.Error("Periodic journal flush failed",
					zap.String("file", j.filePath),
					zap.Error(err))
			}
		case <-j.done:
			return
		}
	}
}

// Close flushes pending records and closes the file.
func (j *Journal) Close() error {
	close(j.done)
	j.ticker.Stop()
	j.stopped.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.flushLocked(); err != nil {
		j.file.Close()
		return err
	}
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	j.logger.Info("Journal closed",
		zap.String("file", j.filePath),
		zap.Uint64("records", j.writtenRecords),
		zap.Uint64("flushes", j.flushCount))
	return nil
}

// Stats returns the number of records written and flushes performed.
func (j *Journal) Stats() (records, flushes uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writtenRecords, j.flushCount
}
