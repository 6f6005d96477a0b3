package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/txlife/internal/blockchain"
	"github.com/rovshanmuradov/txlife/internal/blockchain/simnet"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func transferPayload() blockchain.Payload {
	return blockchain.Payload{Method: "transfer", GasLimit: 50000, FeeCap: 10}
}

func newTestManager(t *testing.T, adapter blockchain.Adapter, config Config) (*Manager, *Metrics) {
	t.Helper()
	metrics := NewMetrics(prometheus.NewRegistry())
	m := NewManager(adapter, zaptest.NewLogger(t), config, metrics)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m, metrics
}

func awaitState(t *testing.T, tx *Transaction, state State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, tx.Await(ctx, state))
}

func awaitFailure(t *testing.T, tx *Transaction) *Error {
	t.Helper()
	select {
	case <-tx.Done():
	case <-time.After(waitFor):
		t.Fatalf("transaction still %s", tx.State())
	}
	require.Equal(t, StateError, tx.State())

	var classified *Error
	require.True(t, errors.As(tx.Err(), &classified))
	return classified
}

// delayedAdapter slows every inclusion lookup down.
type delayedAdapter struct {
	blockchain.Adapter
	delay time.Duration
}

func (a *delayedAdapter) InclusionStatus(ctx context.Context, handle blockchain.Handle) (*blockchain.Inclusion, error) {
	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return a.Adapter.InclusionStatus(ctx, handle)
}

// brokenReceiptAdapter fails every receipt lookup.
type brokenReceiptAdapter struct {
	blockchain.Adapter
	err error
}

func (a *brokenReceiptAdapter) Receipt(context.Context, blockchain.Handle) (*blockchain.Receipt, error) {
	return nil, a.err
}

// laggingReceiptAdapter reports receipts as not found for the first lag lookups, like an RPC
// node serving signature statuses before transaction details. A negative lag never catches up.
type laggingReceiptAdapter struct {
	blockchain.Adapter
	lag   int32
	calls atomic.Int32
}

func (a *laggingReceiptAdapter) Receipt(ctx context.Context, handle blockchain.Handle) (*blockchain.Receipt, error) {
	if n := a.calls.Add(1); a.lag < 0 || n <= a.lag {
		return nil, fmt.Errorf("%w: no details for %s yet", blockchain.ErrNotFound, handle)
	}
	return a.Adapter.Receipt(ctx, handle)
}

func TestManager_MinedThenFinalized(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t))
	m, metrics := newTestManager(t, net, Config{Confirmations: 3})

	mined, finalized := &recorder{}, &recorder{}
	tx := m.Submit(context.Background(), transferPayload())
	tx.OnMined(mined.listener)
	tx.OnFinalized(finalized.listener)

	require.Equal(t, StatePending, tx.State())
	require.False(t, tx.Handle().IsZero())

	net.Mine()
	awaitState(t, tx, StateMined)
	assert.Equal(t, uint64(1), tx.Block().Number)
	assert.Equal(t, uint64(1), tx.Confirmations())

	net.Mine()
	require.Eventually(t, func() bool { return tx.Confirmations() == 2 }, waitFor, tick)
	assert.Equal(t, StateMined, tx.State())
	assert.Equal(t, 0, finalized.Len())

	net.Mine()
	awaitState(t, tx, StateFinalized)

	require.Equal(t, 1, mined.Len())
	require.Equal(t, 1, finalized.Len())
	assert.Equal(t, uint64(1), mined.Events()[0].Head.Number)
	assert.Equal(t, uint64(3), finalized.Events()[0].Head.Number)
	assert.Equal(t, uint64(3), finalized.Events()[0].Confirmations)

	fee, ok := tx.Fee()
	require.True(t, ok)
	assert.Equal(t, uint64(25000*10), fee)

	late := &recorder{}
	tx.OnConfirmed(late.listener)
	assert.Equal(t, 1, late.Len())

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitions.WithLabelValues("pending")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitions.WithLabelValues("mined")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitions.WithLabelValues("finalized")))
	require.Eventually(t, func() bool { return testutil.ToFloat64(metrics.tracked) == 0 }, waitFor, tick)

	require.Eventually(t, func() bool {
		_, tracked := m.Get(tx.Handle())
		return !tracked
	}, waitFor, tick)
}

func TestManager_RevertedExecution(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t), simnet.WithExecutor(func(p blockchain.Payload) simnet.Execution {
		return simnet.Execution{GasUsed: 30000, RevertReason: "insufficient collateral"}
	}))
	m, metrics := newTestManager(t, net, Config{Confirmations: 3})

	mined := &recorder{}
	tx := m.Submit(context.Background(), transferPayload())
	tx.OnMined(mined.listener)

	net.Mine()
	cause := awaitFailure(t, tx)

	assert.Equal(t, KindRevertedExecution, cause.Kind)
	assert.Regexp(t, "reverted", cause.Error())
	assert.Contains(t, cause.Error(), "insufficient collateral")
	assert.Equal(t, 0, mined.Len())
	assert.False(t, tx.Reached(StateMined))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.failures.WithLabelValues("RevertedExecution")))
}

func TestManager_ExhaustedGas(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t), simnet.WithExecutor(func(p blockchain.Payload) simnet.Execution {
		return simnet.Execution{GasUsed: p.GasLimit}
	}))
	m, _ := newTestManager(t, net, Config{Confirmations: 3})

	tx := m.Submit(context.Background(), transferPayload())
	net.Mine()
	cause := awaitFailure(t, tx)

	assert.Equal(t, KindExhaustedGas, cause.Kind)
	assert.ErrorIs(t, tx.Err(), ErrExhaustedGas)
	assert.ErrorIs(t, tx.Err(), ErrRevertedExecution)
}

func TestManager_FeePolicyRejection(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t), simnet.WithFeePolicy(blockchain.FeePolicy{MinFeePerGas: 10}))
	m, _ := newTestManager(t, net, Config{Confirmations: 3})

	observed := &recorder{}
	m.OnTransaction(func(tx *Transaction) {
		tx.OnPending(observed.listener)
		tx.OnError(observed.listener)
	})

	payload := blockchain.Payload{Method: "transfer", GasLimit: 21000, FeeCap: 5}
	tx := m.Submit(context.Background(), payload)

	pending := &recorder{}
	tx.OnPending(pending.listener)

	require.Equal(t, StateError, tx.State())
	assert.Equal(t,
		"fee policy rejection (min-fee): fee cap 5 per gas is below network minimum 10 (ceiling 105000 < 210000)",
		tx.Err().Error())
	assert.ErrorIs(t, tx.Err(), ErrFeePolicyRejection)
	assert.Equal(t, 0, pending.Len())
	assert.Equal(t, []State{StateError}, observed.States())
	assert.Equal(t, 0, net.Pending())
	assert.True(t, tx.Handle().IsZero())
}

func TestManager_NetworkRefusesUnderpriced(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t))
	// the policy changes between the policy read and the submission
	m, _ := newTestManager(t, &policyRaceAdapter{Adapter: net, net: net}, Config{Confirmations: 3})

	tx := m.Submit(context.Background(), transferPayload())
	cause := awaitFailure(t, tx)

	assert.Equal(t, KindFeePolicyRejection, cause.Kind)
	assert.Equal(t, PolicyMinFee, cause.Policy)
	assert.ErrorIs(t, tx.Err(), blockchain.ErrFeeTooLow)
}

type policyRaceAdapter struct {
	blockchain.Adapter
	net *simnet.Network
}

func (a *policyRaceAdapter) FeePolicy(ctx context.Context) (blockchain.FeePolicy, error) {
	policy, err := a.Adapter.FeePolicy(ctx)
	a.net.SetFeePolicy(blockchain.FeePolicy{MinFeePerGas: 1000})
	return policy, err
}

func TestManager_SlowAdapter(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t))
	m, _ := newTestManager(t, &delayedAdapter{Adapter: net, delay: 30 * time.Millisecond}, Config{Confirmations: 3})

	mined := &recorder{}
	tx := m.Submit(context.Background(), transferPayload())
	tx.OnMined(mined.listener)

	net.MineN(3)
	awaitState(t, tx, StateFinalized)

	assert.Equal(t, 1, mined.Len())
	assert.Equal(t, uint64(1), tx.Block().Number)
	assert.Equal(t, uint64(3), tx.Confirmations())
}

func TestManager_ReceiptProviderError(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t))
	adapter := &brokenReceiptAdapter{Adapter: net, err: errors.New("rpc: receipt endpoint unavailable")}
	m, _ := newTestManager(t, adapter, Config{Confirmations: 3})

	tx := m.Submit(context.Background(), transferPayload())
	net.Mine()
	cause := awaitFailure(t, tx)

	assert.Equal(t, KindProviderError, cause.Kind)
	assert.Contains(t, cause.Error(), "rpc: receipt endpoint unavailable")
	assert.ErrorIs(t, tx.Err(), adapter.err)
	assert.False(t, tx.Reached(StateMined))
}

func TestManager_DroppedOperation(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t))
	m, _ := newTestManager(t, net, Config{Confirmations: 3, DroppedAfterBlocks: 3})

	tx := m.Submit(context.Background(), transferPayload())
	net.Drop(tx.Handle())

	require.Eventually(t, func() bool {
		net.Mine()
		return tx.IsFailed()
	}, waitFor, 10*time.Millisecond)

	cause := awaitFailure(t, tx)
	assert.Equal(t, KindNotFound, cause.Kind)
	assert.ErrorIs(t, tx.Err(), ErrNotFound)
}

func TestManager_TrackUnknownHandle(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t))
	m, _ := newTestManager(t, net, Config{Confirmations: 3})

	tx := m.Track("0xdeadbeef", blockchain.Payload{})
	cause := awaitFailure(t, tx)

	assert.Equal(t, KindNotFound, cause.Kind)
	assert.Equal(t, "transaction not found during inclusion", cause.Message)
}

func TestManager_TrackAlreadyIncluded(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t))
	m, _ := newTestManager(t, net, Config{Confirmations: 3})

	handle, err := net.Submit(context.Background(), transferPayload())
	require.NoError(t, err)
	net.Mine()

	tx := m.Track(handle, transferPayload())
	awaitState(t, tx, StateMined)
	assert.Equal(t, uint64(1), tx.Block().Number)

	net.MineN(2)
	awaitState(t, tx, StateFinalized)
}

func TestManager_ReorgReinclusion(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t))
	m, metrics := newTestManager(t, net, Config{Confirmations: 5})

	mined, reorgs := &recorder{}, &recorder{}
	tx := m.Submit(context.Background(), transferPayload())
	tx.OnMined(mined.listener)
	tx.OnReorg(reorgs.listener)

	net.Mine()
	awaitState(t, tx, StateMined)
	net.Mine()
	require.Eventually(t, func() bool { return tx.Confirmations() == 2 }, waitFor, tick)

	net.Reorg(2)
	require.Eventually(t, func() bool { return reorgs.Len() == 1 }, waitFor, tick)
	assert.Equal(t, StateMined, tx.State())
	assert.Equal(t, uint64(1), reorgs.Events()[0].Block.Number)

	net.Mine()
	require.Eventually(t, func() bool { return tx.Block().Number == 3 }, waitFor, tick)

	net.MineN(4)
	awaitState(t, tx, StateFinalized)

	assert.Equal(t, 1, mined.Len())
	assert.Equal(t, 1, reorgs.Len())
	assert.Equal(t, uint64(3), tx.Block().Number)
	assert.Equal(t, uint64(5), tx.Confirmations())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.reorgs))
}

func TestManager_ListenerPanicDoesNotStopTracking(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t))
	m, _ := newTestManager(t, net, Config{Confirmations: 2})

	after := &recorder{}
	m.OnTransaction(func(tx *Transaction) {
		tx.OnMined(func(Event) { panic("observer failure") })
		tx.OnMined(after.listener)
	})

	tx := m.Submit(context.Background(), transferPayload())
	net.MineN(2)
	awaitState(t, tx, StateFinalized)
	assert.Equal(t, 1, after.Len())
}

func TestManager_Close(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t))
	m, _ := newTestManager(t, net, Config{Confirmations: 3})

	tx := m.Submit(context.Background(), transferPayload())
	_, tracked := m.Get(tx.Handle())
	require.True(t, tracked)
	assert.Len(t, m.Active(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, m.Close(ctx))

	cause := awaitFailure(t, tx)
	assert.Equal(t, KindProviderError, cause.Kind)
	assert.ErrorIs(t, tx.Err(), ErrTrackingStopped)
	assert.ErrorIs(t, tx.Err(), context.Canceled)
	assert.Empty(t, m.Active())

	late := m.Submit(context.Background(), transferPayload())
	require.Equal(t, StateError, late.State())
	assert.ErrorIs(t, late.Err(), ErrManagerClosed)
	assert.Equal(t, 1, net.Pending(), "only the first payload reached the network")
}

func TestManager_AwaitAllMixedOutcome(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t), simnet.WithExecutor(func(p blockchain.Payload) simnet.Execution {
		if p.Method == "revert" {
			return simnet.Execution{GasUsed: 1000, RevertReason: "guard"}
		}
		return simnet.DefaultExecutor(p)
	}))
	m, _ := newTestManager(t, net, Config{Confirmations: 2})

	ok1 := m.Submit(context.Background(), transferPayload())
	ok2 := m.Submit(context.Background(), transferPayload())
	net.MineN(2)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, AwaitAll(ctx, StateFinalized, ok1, ok2))

	bad := m.Submit(context.Background(), blockchain.Payload{Method: "revert", GasLimit: 50000, FeeCap: 10})
	ok3 := m.Submit(context.Background(), transferPayload())
	net.MineN(2)

	err := AwaitAll(ctx, StateFinalized, ok3, bad)
	assert.ErrorIs(t, err, ErrRevertedExecution)
}

func TestManager_ReceiptLagsInclusion(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t))
	adapter := &laggingReceiptAdapter{Adapter: net, lag: 1}
	m, _ := newTestManager(t, adapter, Config{Confirmations: 2})

	mined := &recorder{}
	tx := m.Submit(context.Background(), transferPayload())
	tx.OnMined(mined.listener)

	net.Mine()
	require.Eventually(t, func() bool { return adapter.calls.Load() >= 1 }, waitFor, tick)
	assert.False(t, tx.IsFailed(), "a receipt missing after inclusion is retried")

	net.Mine()
	awaitState(t, tx, StateFinalized)
	assert.NoError(t, tx.Err())
	assert.Equal(t, 1, mined.Len())
	assert.Equal(t, uint64(1), tx.Block().Number)
}

func TestManager_ReceiptNeverAvailable(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t))
	adapter := &laggingReceiptAdapter{Adapter: net, lag: -1}
	m, _ := newTestManager(t, adapter, Config{Confirmations: 2, DroppedAfterBlocks: 3})

	tx := m.Submit(context.Background(), transferPayload())
	require.Eventually(t, func() bool {
		net.Mine()
		return tx.IsFailed()
	}, waitFor, 20*time.Millisecond)

	cause := awaitFailure(t, tx)
	assert.Equal(t, KindNotFound, cause.Kind)
	assert.GreaterOrEqual(t, adapter.calls.Load(), int32(2))
}

func TestManager_TrackSameHandleTwice(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t))
	m, _ := newTestManager(t, net, Config{Confirmations: 2})

	handle, err := net.Submit(context.Background(), transferPayload())
	require.NoError(t, err)

	first := m.Track(handle, transferPayload())
	second := m.Track(handle, transferPayload())
	assert.Same(t, first, second)
	assert.Len(t, m.Active(), 1)

	net.MineN(2)
	awaitState(t, first, StateFinalized)
	require.Eventually(t, func() bool { return len(m.Active()) == 0 }, waitFor, tick)
}
