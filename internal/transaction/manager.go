// internal/transaction/manager.go
package transaction

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/txlife/internal/blockchain"
)

// Manager submits payloads through an Adapter and tracks every resulting Transaction until it
// reaches a terminal state.
type Manager struct {
	adapter    blockchain.Adapter
	logger     *zap.Logger
	config     Config
	classifier *Classifier
	validator  *Validator
	metrics    *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	active    map[blockchain.Handle]*Transaction
	observers []func(*Transaction)
}

// NewManager creates a Manager. metrics may be nil.
func NewManager(adapter blockchain.Adapter, logger *zap.Logger, config Config, metrics *Metrics) *Manager {
	logger = nopIfNil(logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		adapter:    adapter,
		logger:     logger.Named("tx-manager"),
		config:     config.withDefaults(),
		classifier: NewClassifier(logger, metrics),
		validator:  NewValidator(logger),
		metrics:    metrics,
		ctx:        ctx,
		cancel:     cancel,
		active:     make(map[blockchain.Handle]*Transaction),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

// OnTransaction registers observer for every transaction the manager creates, including
// rejected ones. It runs before the transaction is tracked, so listeners it attaches see
// every transition.
func (m *Manager) OnTransaction(observer func(*Transaction)) {
	if observer == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, observer)
}

// Submit checks payload against the network fee policy, submits it and starts tracking it.
// The returned transaction is never nil; submission failures leave it in StateError.
func (m *Manager) Submit(ctx context.Context, payload blockchain.Payload) *Transaction {
	if m.isClosed() {
		return m.reject(payload, m.classifier.Stopped(ErrManagerClosed))
	}

	policy, err := m.adapter.FeePolicy(ctx)
	if err != nil {
		return m.reject(payload, m.classifier.ClassifyProvider("fee policy", err))
	}
	if cause := m.validator.ValidatePayload(payload, policy); cause != nil {
		return m.reject(payload, cause)
	}

	submitCtx := ctx
	if m.config.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, m.config.SubmitTimeout)
		defer cancel()
	}

	handle, err := m.adapter.Submit(submitCtx, payload)
	if err != nil {
		return m.reject(payload, m.classifier.ClassifyProvider("submit", err))
	}
	if handle.IsZero() {
		return m.reject(payload, m.classifier.ClassifyProvider("submit", errors.New("adapter returned an empty handle")))
	}

	m.logger.Info("Transaction submitted",
		zap.String("handle", handle.String()),
		zap.String("method", payload.Method))

	return m.start(handle, payload, false)
}

// Track attaches a new Transaction to an operation that was submitted elsewhere. The network
// is polled right away since the operation may already be included. A handle that is already
// tracked returns its existing Transaction.
func (m *Manager) Track(handle blockchain.Handle, payload blockchain.Payload) *Transaction {
	if tx, ok := m.Get(handle); ok {
		return tx
	}
	return m.start(handle, payload, true)
}

func (m *Manager) start(handle blockchain.Handle, payload blockchain.Payload, pollOnStart bool) *Transaction {
	tx := newTransaction(handle, payload, m.logger)
	m.metrics.ObserveTransition(StatePending)
	m.notify(tx)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.classifier.Reject(tx, m.classifier.Stopped(ErrManagerClosed), blockchain.BlockRef{})
		return tx
	}
	m.active[handle] = tx
	m.wg.Add(1)
	m.mu.Unlock()

	// subscribe before returning so that no head produced after Submit is missed
	tr := newTracker(m, tx)
	unsubscribe := m.adapter.OnNewBlock(tr.offer)

	m.metrics.TrackStarted()
	go m.track(tr, unsubscribe, pollOnStart)

	return tx
}

// Get returns the tracked transaction for handle, if it is still being tracked.
func (m *Manager) Get(handle blockchain.Handle) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.active[handle]
	return tx, ok
}

// Active returns the transactions that have not reached a terminal state.
func (m *Manager) Active() []*Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Transaction, 0, len(m.active))
	for _, tx := range m.active {
		out = append(out, tx)
	}
	return out
}

// Close stops tracking. Transactions that are not terminal yet fail with ErrTrackingStopped.
func (m *Manager) Close(ctx context.Context) error {
	m.logger.Info("Shutting down transaction manager")

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Transaction manager shutdown complete")
		return nil
	case <-ctx.Done():
		m.logger.Warn("Transaction manager shutdown timeout")
		return ctx.Err()
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) reject(payload blockchain.Payload, cause *Error) *Transaction {
	m.logger.Warn("Transaction rejected before submission",
		zap.String("method", payload.Method),
		zap.String("kind", cause.Kind.String()),
		zap.Error(cause))

	tx := newRejectedTransaction(payload, cause, m.logger)
	m.metrics.ObserveFailure(cause.Kind)
	m.notify(tx)
	return tx
}

func (m *Manager) notify(tx *Transaction) {
	m.mu.Lock()
	observers := append([]func(*Transaction){}, m.observers...)
	m.mu.Unlock()

	for _, observer := range observers {
		observer(tx)
	}
}

func (m *Manager) track(tr *tracker, unsubscribe func(), pollOnStart bool) {
	defer m.wg.Done()
	defer m.metrics.TrackStopped()
	defer func() {
		m.mu.Lock()
		if m.active[tr.tx.Handle()] == tr.tx {
			delete(m.active, tr.tx.Handle())
		}
		m.mu.Unlock()
	}()
	defer unsubscribe()

	tr.run(m.ctx, pollOnStart)
}
