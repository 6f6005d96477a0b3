// internal/transaction/transaction.go
package transaction

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/txlife/internal/blockchain"
)

// Event is the payload delivered to lifecycle listeners.
type Event struct {
	Tx     *Transaction
	State  State
	Handle blockchain.Handle
	// Block is the inclusion block; zero before the transaction is mined.
	Block blockchain.BlockRef
	// Head is the network head observed when the transition happened.
	Head          blockchain.BlockRef
	Receipt       *blockchain.Receipt
	Confirmations uint64
	Err           *Error
	Time          time.Time
}

// Listener observes a lifecycle transition.
type Listener func(Event)

// Transaction tracks one submitted operation through pending, mined and finalized, or error.
//
// Listeners registered for a state that was already reached fire at registration time with the
// event recorded for that state. Listeners for one state fire in registration order, and each
// listener fires at most once. Listeners must not block waiting on the same transaction.
type Transaction struct {
	handle    blockchain.Handle
	payload   blockchain.Payload
	logger    *zap.Logger
	createdAt time.Time

	// transitionMu keeps transitions strictly sequential, listener dispatch included.
	transitionMu sync.Mutex

	mu            sync.RWMutex
	state         State
	events        [numStates]*Event
	dispatched    [numStates]bool
	listeners     [numStates][]Listener
	reorgs        []Listener
	block         blockchain.BlockRef
	receipt       *blockchain.Receipt
	confirmations uint64
	err           *Error
	changed       chan struct{}
	done          chan struct{}
}

func newTransaction(handle blockchain.Handle, payload blockchain.Payload, logger *zap.Logger) *Transaction {
	t := &Transaction{
		handle:    handle,
		payload:   payload,
		logger:    nopIfNil(logger),
		createdAt: time.Now(),
		state:     StatePending,
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	t.events[StatePending] = &Event{
		Tx:     t,
		State:  StatePending,
		Handle: handle,
		Time:   t.createdAt,
	}
	t.dispatched[StatePending] = true
	return t
}

// newRejectedTransaction builds a transaction that failed before the network accepted it.
// It never passes through pending.
func newRejectedTransaction(payload blockchain.Payload, cause *Error, logger *zap.Logger) *Transaction {
	t := &Transaction{
		payload:   payload,
		logger:    nopIfNil(logger),
		createdAt: time.Now(),
		state:     StateError,
		err:       cause,
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	t.events[StateError] = &Event{
		Tx:    t,
		State: StateError,
		Err:   cause,
		Time:  t.createdAt,
	}
	t.dispatched[StateError] = true
	close(t.done)
	return t
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// Handle returns the network handle. It is zero for operations rejected before submission.
func (t *Transaction) Handle() blockchain.Handle {
	return t.handle
}

// Payload returns the submitted payload.
func (t *Transaction) Payload() blockchain.Payload {
	return t.payload
}

// CreatedAt returns when the transaction was created.
func (t *Transaction) CreatedAt() time.Time {
	return t.createdAt
}

// State returns the current lifecycle state.
func (t *Transaction) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Reached reports whether the transaction has passed through state.
func (t *Transaction) Reached(state State) bool {
	if !state.valid() {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.events[state] != nil
}

func (t *Transaction) IsPending() bool   { return t.State() == StatePending }
func (t *Transaction) IsMined() bool     { return t.Reached(StateMined) }
func (t *Transaction) IsFinalized() bool { return t.Reached(StateFinalized) }
func (t *Transaction) IsConfirmed() bool { return t.Reached(StateConfirmed) }
func (t *Transaction) IsFailed() bool    { return t.Reached(StateError) }

// Err returns the classified error once the transaction failed, nil otherwise.
func (t *Transaction) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.err == nil {
		return nil
	}
	return t.err
}

// Block returns the inclusion block, zero until mined.
func (t *Transaction) Block() blockchain.BlockRef {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.block
}

// Receipt returns the execution receipt once mined.
func (t *Transaction) Receipt() *blockchain.Receipt {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.receipt
}

// Fee returns the fee paid. ok is false until the receipt is known.
func (t *Transaction) Fee() (fee uint64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.receipt == nil {
		return 0, false
	}
	return t.receipt.Fee, true
}

// Confirmations returns the current confirmation count, zero while not included.
func (t *Transaction) Confirmations() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.confirmations
}

// Done is closed once a terminal state was reached and its listeners fired.
func (t *Transaction) Done() <-chan struct{} {
	return t.done
}

// OnState registers listener for the transition into state. If the state was already reached
// the listener fires before OnState returns. Listeners for states that can no longer be reached
// are discarded.
func (t *Transaction) OnState(state State, listener Listener) {
	if listener == nil || !state.valid() {
		return
	}

	t.mu.Lock()
	ev := t.events[state]
	switch {
	case ev != nil && t.dispatched[state]:
		t.mu.Unlock()
		t.invoke(listener, *ev)
	case ev == nil && t.state.IsTerminal():
		t.mu.Unlock()
	default:
		// not reached yet, or reached and its listeners are being dispatched right now
		t.listeners[state] = append(t.listeners[state], listener)
		t.mu.Unlock()
	}
}

func (t *Transaction) OnPending(listener Listener)   { t.OnState(StatePending, listener) }
func (t *Transaction) OnMined(listener Listener)     { t.OnState(StateMined, listener) }
func (t *Transaction) OnFinalized(listener Listener) { t.OnState(StateFinalized, listener) }
func (t *Transaction) OnConfirmed(listener Listener) { t.OnState(StateConfirmed, listener) }
func (t *Transaction) OnError(listener Listener)     { t.OnState(StateError, listener) }

// OnReorg registers listener for every reorg that drops the inclusion block.
// Past reorgs are not replayed.
func (t *Transaction) OnReorg(listener Listener) {
	if listener == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsTerminal() {
		return
	}
	t.reorgs = append(t.reorgs, listener)
}

// Await blocks until target was reached and its listeners fired. It returns the classified
// error if the transaction failed first, ErrStateUnreachable if it finalized while awaiting
// StateError, or the context error.
func (t *Transaction) Await(ctx context.Context, target State) error {
	if !target.valid() {
		return ErrInvalidState
	}

	for {
		t.mu.RLock()
		reached := t.dispatched[target]
		failed := t.dispatched[StateError]
		finalized := t.dispatched[StateFinalized]
		cause := t.err
		changed := t.changed
		t.mu.RUnlock()

		switch {
		case reached:
			return nil
		case failed:
			return cause
		case finalized:
			return ErrStateUnreachable
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func (t *Transaction) AwaitMined(ctx context.Context) error     { return t.Await(ctx, StateMined) }
func (t *Transaction) AwaitFinalized(ctx context.Context) error { return t.Await(ctx, StateFinalized) }
func (t *Transaction) AwaitConfirmed(ctx context.Context) error { return t.Await(ctx, StateConfirmed) }

// advance moves the transaction into ev.State and fires its listeners. It returns false
// when the lifecycle graph has no such edge, which makes repeated terminal transitions no-ops.
func (t *Transaction) advance(ev Event) bool {
	t.transitionMu.Lock()
	defer t.transitionMu.Unlock()

	t.mu.Lock()
	if !canAdvance(t.state, ev.State) {
		t.mu.Unlock()
		return false
	}

	ev.Tx = t
	ev.Handle = t.handle
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	t.state = ev.State
	switch ev.State {
	case StateMined:
		t.block = ev.Block
		t.receipt = ev.Receipt
		t.confirmations = ev.Confirmations
	case StateFinalized:
		t.confirmations = ev.Confirmations
		ev.Block = t.block
		ev.Receipt = t.receipt
	case StateError:
		t.err = ev.Err
		ev.Block = t.block
		ev.Receipt = t.receipt
	}
	t.events[ev.State] = &ev
	t.mu.Unlock()

	t.dispatch(ev)

	t.mu.Lock()
	close(t.changed)
	t.changed = make(chan struct{})
	if ev.State.IsTerminal() {
		// listeners for states that were skipped will never fire
		for s := range t.listeners {
			t.listeners[s] = nil
		}
		t.reorgs = nil
		close(t.done)
	}
	t.mu.Unlock()

	return true
}

// dispatch drains the listener queue of ev.State, including listeners registered while
// dispatching, then marks the state as dispatched.
func (t *Transaction) dispatch(ev Event) {
	for {
		t.mu.Lock()
		queue := t.listeners[ev.State]
		if len(queue) == 0 {
			t.dispatched[ev.State] = true
			t.mu.Unlock()
			return
		}
		t.listeners[ev.State] = nil
		t.mu.Unlock()

		for _, listener := range queue {
			t.invoke(listener, ev)
		}
	}
}

func (t *Transaction) invoke(listener Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Transaction listener panicked",
				zap.String("handle", t.handle.String()),
				zap.String("state", ev.State.String()),
				zap.Any("panic", r))
		}
	}()
	listener(ev)
}

// setConfirmations records a new confirmation count without a transition.
func (t *Transaction) setConfirmations(n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateMined {
		t.confirmations = n
	}
}

// reincluded records the block and receipt of a re-inclusion after a reorg.
func (t *Transaction) reincluded(block blockchain.BlockRef, receipt *blockchain.Receipt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateMined {
		return
	}
	t.block = block
	t.receipt = receipt
	t.confirmations = 1
}

// reorged drops the inclusion block and notifies reorg listeners. The state stays mined.
func (t *Transaction) reorged(head blockchain.BlockRef) {
	t.transitionMu.Lock()
	defer t.transitionMu.Unlock()

	t.mu.Lock()
	if t.state != StateMined {
		t.mu.Unlock()
		return
	}
	ev := Event{
		Tx:      t,
		State:   t.state,
		Handle:  t.handle,
		Block:   t.block,
		Head:    head,
		Receipt: t.receipt,
		Time:    time.Now(),
	}
	t.block = blockchain.BlockRef{}
	t.confirmations = 0
	listeners := append([]Listener(nil), t.reorgs...)
	t.mu.Unlock()

	for _, listener := range listeners {
		t.invoke(listener, ev)
	}
}
