package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/txlife/internal/blockchain"
	"github.com/rovshanmuradov/txlife/internal/blockchain/simnet"
	"github.com/rovshanmuradov/txlife/internal/transaction"
)

func newTestManager(t *testing.T, net *simnet.Network) *transaction.Manager {
	t.Helper()
	m := transaction.NewManager(net, zaptest.NewLogger(t), transaction.Config{Confirmations: 3}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func lifecycleEvents(c *collector) []*TransactionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*TransactionEvent, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.(*TransactionEvent))
	}
	return out
}

func TestAttachPublishesLifecycle(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t))
	m := newTestManager(t, net)
	bus := newTestBus(t, 64)
	c := &collector{}
	bus.SubscribeLifecycle(c)
	Attach(m, bus, zaptest.NewLogger(t))

	tx := m.Submit(context.Background(), blockchain.Payload{Method: "transfer", GasLimit: 40000, FeeCap: 2})
	require.False(t, tx.IsFailed())

	net.Mine()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tx.AwaitMined(ctx))
	net.MineN(2)
	require.NoError(t, tx.AwaitFinalized(ctx))

	require.Eventually(t, func() bool { return c.Len() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []EventType{TransactionPending, TransactionMined, TransactionFinalized}, c.Types())

	evs := lifecycleEvents(c)
	for _, ev := range evs {
		assert.Equal(t, tx.Handle().String(), ev.Handle)
		assert.Equal(t, "transfer", ev.Method)
		assert.NotEmpty(t, ev.ID())
	}
	assert.Equal(t, "mined", evs[1].State)
	assert.Equal(t, uint64(1), evs[1].BlockNumber)
	assert.Equal(t, uint64(40000), evs[1].Fee)
	assert.Equal(t, "finalized", evs[2].State)
	assert.Equal(t, uint64(3), evs[2].Confirmations)
	assert.NotEqual(t, evs[1].ID(), evs[2].ID())
}

func TestAttachPublishesRejection(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t), simnet.WithFeePolicy(blockchain.FeePolicy{MinFeePerGas: 100}))
	m := newTestManager(t, net)
	bus := newTestBus(t, 8)
	c := &collector{}
	bus.SubscribeLifecycle(c)
	Attach(m, bus, zaptest.NewLogger(t))

	tx := m.Submit(context.Background(), blockchain.Payload{Method: "transfer", GasLimit: 40000, FeeCap: 2})
	require.True(t, tx.IsFailed())

	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 5*time.Millisecond)
	ev := lifecycleEvents(c)[0]
	assert.Equal(t, TransactionFailed, ev.Type())
	assert.Equal(t, "error", ev.State)
	assert.Equal(t, "FeePolicyRejection", ev.ErrorKind)
	assert.Equal(t, transaction.PolicyMinFee, ev.Policy)
	assert.Empty(t, ev.Handle)
}

func TestWatchPublishesReorg(t *testing.T) {
	net := simnet.New(zaptest.NewLogger(t))
	m := transaction.NewManager(net, zaptest.NewLogger(t), transaction.Config{Confirmations: 5}, nil)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	bus := newTestBus(t, 64)
	c := &collector{}
	bus.SubscribeLifecycle(c)

	tx := m.Submit(context.Background(), blockchain.Payload{Method: "transfer", GasLimit: 40000, FeeCap: 2})
	Watch(tx, bus, zaptest.NewLogger(t))

	net.Mine()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tx.AwaitMined(ctx))

	net.Mine()
	require.Eventually(t, func() bool { return tx.Confirmations() == 2 }, 2*time.Second, 5*time.Millisecond)
	net.Reorg(2)

	require.Eventually(t, func() bool {
		for _, eventType := range c.Types() {
			if eventType == TransactionReorged {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	types := c.Types()
	assert.Equal(t, []EventType{TransactionPending, TransactionMined, TransactionReorged}, types[:3])
}
