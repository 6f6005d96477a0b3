// internal/notify/publisher.go
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/txlife/internal/events"
)

// Publisher delivers lifecycle events to an external broker.
type Publisher interface {
	// PublishTransaction publishes one event to Subject(prefix, event).
	PublishTransaction(ctx context.Context, event *events.TransactionEvent) error
	// PublishTransactionBatch publishes events in order and stops at the first failure.
	PublishTransactionBatch(ctx context.Context, evs []*events.TransactionEvent) error
	// Close releases the broker connection.
	Close() error
}

const (
	DefaultStreamName    = "TXLIFE"
	DefaultSubjectPrefix = "txlife"
	// StreamRetention is how long lifecycle events are kept.
	StreamRetention = 7 * 24 * time.Hour
	// DuplicateWindow deduplicates republished events by ID.
	DuplicateWindow = 2 * time.Minute
)

// Subject returns the subject an event is published to, e.g. "txlife.mined".
func Subject(prefix string, event *events.TransactionEvent) string {
	return prefix + "." + event.Type().Name()
}

// Options configures a JetStreamPublisher.
type Options struct {
	URL           string
	Stream        string
	SubjectPrefix string
}

func (o Options) withDefaults() Options {
	if o.Stream == "" {
		o.Stream = DefaultStreamName
	}
	if o.SubjectPrefix == "" {
		o.SubjectPrefix = DefaultSubjectPrefix
	}
	return o
}

// JetStreamPublisher publishes lifecycle events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	options Options
	logger  *zap.Logger
}

var _ Publisher = (*JetStreamPublisher)(nil)

// NewJetStreamPublisher connects to NATS and makes sure the stream exists.
func NewJetStreamPublisher(ctx context.Context, options Options, logger *zap.Logger) (*JetStreamPublisher, error) {
	options = options.withDefaults()
	logger = logger.Named("nats-publisher")

	nc, err := nats.Connect(options.URL,
		nats.Name("txlife-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", conn.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		options: options,
		logger:  logger,
	}

	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		zap.String("url", options.URL),
		zap.String("stream", options.Stream),
		zap.String("subjects", options.SubjectPrefix+".*"))

	return p, nil
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, p.options.Stream)
	if err == nil {
		if info, err := stream.Info(ctx); err == nil {
			p.logger.Debug("JetStream stream already exists",
				zap.String("stream", p.options.Stream),
				zap.Uint64("messages", info.State.Msgs))
		}
		return nil
	}

	p.logger.Info("Creating JetStream stream", zap.String("stream", p.options.Stream))

	_, err = p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        p.options.Stream,
		Description: "Transaction lifecycle events",
		Subjects:    []string{p.options.SubjectPrefix + ".*"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Duplicates:  DuplicateWindow,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// PublishTransaction publishes a single event. The event ID is the JetStream message ID.
func (p *JetStreamPublisher) PublishTransaction(ctx context.Context, event *events.TransactionEvent) error {
	subject := Subject(p.options.SubjectPrefix, event)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle event: %w", err)
	}

	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID()))
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	p.logger.Debug("Published lifecycle event",
		zap.String("subject", subject),
		zap.String("handle", event.Handle),
		zap.Uint64("sequence", ack.Sequence),
		zap.Bool("duplicate", ack.Duplicate))

	return nil
}

// PublishTransactionBatch publishes events in order.
func (p *JetStreamPublisher) PublishTransactionBatch(ctx context.Context, evs []*events.TransactionEvent) error {
	for _, event := range evs {
		if err := p.PublishTransaction(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the NATS connection.
func (p *JetStreamPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	p.logger.Info("NATS publisher closed")
	return nil
}
