package logger

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/txlife/internal/events"
)

func readRecords(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	return records
}

func minedEvent(handle string) *events.TransactionEvent {
	return &events.TransactionEvent{
		BaseEvent: events.BaseEvent{
			EventID:   "evt-" + handle,
			EventType: events.TransactionMined,
			EventTime: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		Handle:        handle,
		Method:        "transfer",
		State:         "mined",
		BlockNumber:   42,
		Confirmations: 1,
		Fee:           5000,
	}
}

func TestJournalRecordsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.csv")
	journal, err := NewJournal(path, time.Hour, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, journal.Handle(context.Background(), minedEvent("sig1")))
	require.NoError(t, journal.Close())

	records := readRecords(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, journalHeader, records[0])
	assert.Equal(t, []string{
		"2026-01-02T03:04:05Z", "evt-sig1", "transaction.mined", "sig1", "transfer", "mined",
		"42", "1", "5000", "", "",
	}, records[1])
}

func TestJournalAppendsWithoutSecondHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.csv")

	for _, handle := range []string{"a", "b"} {
		journal, err := NewJournal(path, time.Hour, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, journal.Handle(context.Background(), minedEvent(handle)))
		require.NoError(t, journal.Close())
	}

	records := readRecords(t, path)
	require.Len(t, records, 3)
	assert.Equal(t, "a", records[1][3])
	assert.Equal(t, "b", records[2][3])
}

func TestJournalConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.csv")
	journal, err := NewJournal(path, 10*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	numGoroutines := 8
	perGoroutine := 50

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				if err := journal.Handle(context.Background(), minedEvent(fmt.Sprintf("g%d-%d", id, j))); err != nil {
					t.Errorf("write failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	records, _ := journal.Stats()
	assert.Equal(t, uint64(numGoroutines*perGoroutine), records)
	require.NoError(t, journal.Close())

	assert.Len(t, readRecords(t, path), numGoroutines*perGoroutine+1)
}

func TestJournalOnBus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.csv")
	journal, err := NewJournal(path, time.Hour, zaptest.NewLogger(t))
	require.NoError(t, err)

	bus := events.NewBus(zaptest.NewLogger(t), 16)
	journal.Subscribe(bus)
	require.NoError(t, bus.Publish(minedEvent("sig1")))
	require.NoError(t, bus.Shutdown(context.Background()))
	require.NoError(t, journal.Close())

	assert.Len(t, readRecords(t, path), 2)
}

func TestJournalRejectsForeignEvents(t *testing.T) {
	journal, err := NewJournal(filepath.Join(t.TempDir(), "journal.csv"), time.Hour, zap.NewNop())
	require.NoError(t, err)
	defer journal.Close()

	assert.Error(t, journal.Handle(context.Background(), events.BaseEvent{EventType: "other"}))
}

func TestNewLoggerWithFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debug = true
	cfg.LogFile = filepath.Join(t.TempDir(), "txlife.log")

	log := New(cfg)
	log.Info("hello", zap.String("component", "test"))
	_ = Sync(log)

	data, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"component":"test"`)
}
