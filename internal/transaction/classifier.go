// internal/transaction/classifier.go
package transaction

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/txlife/internal/blockchain"
)

// Classifier maps adapter signals to the error taxonomy and drives the error transition.
type Classifier struct {
	logger  *zap.Logger
	metrics *Metrics
}

// NewClassifier creates a new Classifier instance. metrics may be nil.
func NewClassifier(logger *zap.Logger, metrics *Metrics) *Classifier {
	return &Classifier{
		logger:  nopIfNil(logger).Named("tx-classifier"),
		metrics: metrics,
	}
}

// ClassifyReceipt returns nil for a successful receipt. gasLimit is used when the receipt
// does not carry the limit itself.
func (c *Classifier) ClassifyReceipt(receipt *blockchain.Receipt, gasLimit uint64) *Error {
	if receipt == nil {
		return &Error{
			Kind:    KindProviderError,
			Message: "provider error during receipt",
			Cause:   errors.New("adapter returned no receipt"),
		}
	}
	if receipt.Success {
		return nil
	}

	limit := receipt.GasLimit
	if limit == 0 {
		limit = gasLimit
	}
	if limit > 0 && receipt.GasUsed >= limit {
		return &Error{
			Kind:    KindExhaustedGas,
			Message: fmt.Sprintf("transaction reverted: out of gas (used %d of %d)", receipt.GasUsed, limit),
		}
	}

	msg := "transaction reverted"
	if receipt.RevertReason != "" {
		msg = fmt.Sprintf("%s: %s", msg, receipt.RevertReason)
	}
	return &Error{Kind: KindRevertedExecution, Message: msg}
}

// ClassifyProvider classifies an adapter failure that happened during op.
func (c *Classifier) ClassifyProvider(op string, err error) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	switch {
	case errors.Is(err, blockchain.ErrNotFound):
		return &Error{
			Kind:    KindNotFound,
			Message: fmt.Sprintf("transaction not found during %s", op),
			Cause:   err,
		}
	case errors.Is(err, blockchain.ErrFeeTooLow):
		return &Error{
			Kind:    KindFeePolicyRejection,
			Policy:  PolicyMinFee,
			Message: fmt.Sprintf("fee policy rejection (%s): network refused %s: %v", PolicyMinFee, op, err),
			Cause:   err,
		}
	}

	return &Error{
		Kind:    KindProviderError,
		Message: fmt.Sprintf("provider error during %s", op),
		Cause:   err,
	}
}

// Dropped classifies an operation the network stopped knowing about.
func (c *Classifier) Dropped(blocks uint64) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("transaction not found: unknown to the network for %d blocks", blocks),
		Cause:   blockchain.ErrNotFound,
	}
}

// Stopped classifies a transaction whose tracking ended before a terminal state.
func (c *Classifier) Stopped(cause error) *Error {
	return &Error{
		Kind:    KindProviderError,
		Message: "provider error: tracking stopped",
		Cause:   fmt.Errorf("%w: %w", ErrTrackingStopped, cause),
	}
}

// Reject moves tx into the error state. It is a no-op returning false when tx is terminal.
func (c *Classifier) Reject(tx *Transaction, cause *Error, head blockchain.BlockRef) bool {
	if !tx.advance(Event{State: StateError, Err: cause, Head: head}) {
		c.logger.Debug("Ignoring classification of terminal transaction",
			zap.String("handle", tx.Handle().String()),
			zap.String("kind", cause.Kind.String()))
		return false
	}

	c.logger.Warn("Transaction failed",
		zap.String("handle", tx.Handle().String()),
		zap.String("kind", cause.Kind.String()),
		zap.Error(cause))
	c.metrics.ObserveFailure(cause.Kind)
	return true
}
