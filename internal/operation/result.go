// internal/operation/result.go
package operation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rovshanmuradov/txlife/internal/blockchain"
	"github.com/rovshanmuradov/txlife/internal/transaction"
)

var (
	// ErrNotMined is returned by Value before the operation is included.
	ErrNotMined = errors.New("operation not mined yet")
	// ErrLogNotFound is returned by log decoders when the receipt has no matching log.
	ErrLogNotFound = errors.New("log not found in receipt")
)

// Decoder extracts domain data from the receipt of a mined operation.
type Decoder[T any] func(receipt *blockchain.Receipt) (T, error)

// Result is the handle a business call returns: the lifecycle of the submitted operation plus
// its domain data once mined. All lifecycle methods come from the embedded Transaction.
type Result[T any] struct {
	*transaction.Transaction
	decode Decoder[T]

	mu      sync.Mutex
	receipt *blockchain.Receipt
	value   T
	err     error
}

// Wrap builds a Result around an existing transaction.
func Wrap[T any](tx *transaction.Transaction, decode Decoder[T]) *Result[T] {
	return &Result[T]{Transaction: tx, decode: decode}
}

// Submit submits payload through manager and wraps the resulting transaction.
func Submit[T any](ctx context.Context, manager *transaction.Manager, payload blockchain.Payload, decode Decoder[T]) *Result[T] {
	return Wrap(manager.Submit(ctx, payload), decode)
}

// Value returns the decoded domain data. It is recomputed when a reorg re-includes the
// operation with a different receipt.
func (r *Result[T]) Value() (T, error) {
	var zero T
	if !r.IsMined() {
		if err := r.Err(); err != nil {
			return zero, err
		}
		return zero, ErrNotMined
	}

	receipt := r.Receipt()
	if receipt == nil {
		return zero, ErrNotMined
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.receipt != receipt {
		r.receipt = receipt
		r.value, r.err = r.decode(receipt)
	}
	return r.value, r.err
}

// AwaitValue waits for target and returns the decoded data.
func (r *Result[T]) AwaitValue(ctx context.Context, target transaction.State) (T, error) {
	if err := r.Await(ctx, target); err != nil {
		var zero T
		return zero, err
	}
	return r.Value()
}

// NoData is a Decoder for calls without domain data.
func NoData(*blockchain.Receipt) (struct{}, error) {
	return struct{}{}, nil
}

// JSONLog decodes the data of the first log with topic as JSON.
func JSONLog[T any](topic string) Decoder[T] {
	return func(receipt *blockchain.Receipt) (T, error) {
		var out T
		for _, log := range receipt.Logs {
			if log.Topic != topic {
				continue
			}
			if err := json.Unmarshal(log.Data, &out); err != nil {
				return out, fmt.Errorf("decode %s log: %w", topic, err)
			}
			return out, nil
		}
		return out, fmt.Errorf("%w: %s", ErrLogNotFound, topic)
	}
}

// Logs collects the data of every log with topic.
func Logs(topic string) Decoder[[]string] {
	return func(receipt *blockchain.Receipt) ([]string, error) {
		var out []string
		for _, log := range receipt.Logs {
			if log.Topic == topic {
				out = append(out, string(log.Data))
			}
		}
		return out, nil
	}
}
