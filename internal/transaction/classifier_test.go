package transaction

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/txlife/internal/blockchain"
)

func TestClassifier_ClassifyReceipt(t *testing.T) {
	c := NewClassifier(zaptest.NewLogger(t), nil)

	tests := []struct {
		name     string
		receipt  *blockchain.Receipt
		gasLimit uint64
		kind     Kind
		message  string
	}{
		{
			name:    "success",
			receipt: &blockchain.Receipt{Success: true, GasUsed: 21000, GasLimit: 50000},
		},
		{
			name:     "reverted with reason",
			receipt:  &blockchain.Receipt{GasUsed: 30000, GasLimit: 50000, RevertReason: "insufficient collateral"},
			gasLimit: 50000,
			kind:     KindRevertedExecution,
			message:  "transaction reverted: insufficient collateral",
		},
		{
			name:    "reverted without reason",
			receipt: &blockchain.Receipt{GasUsed: 30000, GasLimit: 50000},
			kind:    KindRevertedExecution,
			message: "transaction reverted",
		},
		{
			name:    "out of gas",
			receipt: &blockchain.Receipt{GasUsed: 50000, GasLimit: 50000},
			kind:    KindExhaustedGas,
			message: "transaction reverted: out of gas (used 50000 of 50000)",
		},
		{
			name:     "out of gas from payload limit",
			receipt:  &blockchain.Receipt{GasUsed: 40000},
			gasLimit: 40000,
			kind:     KindExhaustedGas,
			message:  "transaction reverted: out of gas (used 40000 of 40000)",
		},
		{
			name:    "missing receipt",
			kind:    KindProviderError,
			message: "provider error during receipt: adapter returned no receipt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.ClassifyReceipt(tt.receipt, tt.gasLimit)
			if tt.kind == 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.message, got.Error())
		})
	}
}

func TestClassifier_ClassifyProvider(t *testing.T) {
	c := NewClassifier(zaptest.NewLogger(t), nil)

	t.Run("not found", func(t *testing.T) {
		got := c.ClassifyProvider("inclusion", fmt.Errorf("%w: 0x01", blockchain.ErrNotFound))
		assert.Equal(t, KindNotFound, got.Kind)
		assert.ErrorIs(t, got, ErrNotFound)
		assert.ErrorIs(t, got, blockchain.ErrNotFound)
	})

	t.Run("fee too low", func(t *testing.T) {
		got := c.ClassifyProvider("submit", fmt.Errorf("%w: fee cap 1, minimum 5", blockchain.ErrFeeTooLow))
		assert.Equal(t, KindFeePolicyRejection, got.Kind)
		assert.Equal(t, PolicyMinFee, got.Policy)
		assert.Equal(t, "fee policy rejection (min-fee): network refused submit: fee below network minimum: fee cap 1, minimum 5", got.Error())
	})

	t.Run("provider error keeps original text", func(t *testing.T) {
		got := c.ClassifyProvider("receipt", errors.New("connection reset by peer"))
		assert.Equal(t, KindProviderError, got.Kind)
		assert.ErrorIs(t, got, ErrProviderError)
		assert.Contains(t, got.Error(), "connection reset by peer")
		assert.Contains(t, got.Error(), "receipt")
	})

	t.Run("insufficient balance is not a fee policy", func(t *testing.T) {
		got := c.ClassifyProvider("submit", errors.New("fee payer cannot cover fees: InsufficientFundsForFee"))
		assert.Equal(t, KindProviderError, got.Kind)
		assert.Empty(t, got.Policy)
		assert.NotErrorIs(t, got, ErrFeePolicyRejection)
	})

	t.Run("classified errors pass through", func(t *testing.T) {
		cause := &Error{Kind: KindRevertedExecution, Message: "transaction reverted"}
		got := c.ClassifyProvider("receipt", fmt.Errorf("wrapped: %w", cause))
		assert.Same(t, cause, got)
	})
}

func TestClassifier_StoppedAndDropped(t *testing.T) {
	c := NewClassifier(zaptest.NewLogger(t), nil)

	stopped := c.Stopped(context.Canceled)
	assert.Equal(t, KindProviderError, stopped.Kind)
	assert.ErrorIs(t, stopped, ErrTrackingStopped)
	assert.ErrorIs(t, stopped, context.Canceled)

	dropped := c.Dropped(150)
	assert.Equal(t, KindNotFound, dropped.Kind)
	assert.Contains(t, dropped.Error(), "150 blocks")
}

func TestClassifier_RejectIsIdempotent(t *testing.T) {
	c := NewClassifier(zaptest.NewLogger(t), nil)
	tx := testTransaction(t)

	first := &Error{Kind: KindNotFound, Message: "transaction not found"}
	assert.True(t, c.Reject(tx, first, blockchain.BlockRef{}))
	assert.False(t, c.Reject(tx, &Error{Kind: KindProviderError, Message: "late"}, blockchain.BlockRef{}))

	assert.Same(t, first, tx.Err())
}

func TestError_Is(t *testing.T) {
	exhausted := &Error{Kind: KindExhaustedGas, Message: "out of gas"}
	assert.ErrorIs(t, exhausted, ErrExhaustedGas)
	assert.ErrorIs(t, exhausted, ErrRevertedExecution)
	assert.True(t, exhausted.IsReverted())

	reverted := &Error{Kind: KindRevertedExecution, Message: "transaction reverted"}
	assert.NotErrorIs(t, reverted, ErrExhaustedGas)
	assert.NotErrorIs(t, reverted, ErrProviderError)

	var target *Error
	require.True(t, errors.As(fmt.Errorf("context: %w", reverted), &target))
	assert.Equal(t, KindRevertedExecution, target.Kind)
}
