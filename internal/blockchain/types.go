// internal/blockchain/types.go
package blockchain

import (
	"context"
	"errors"
	"math"
	"math/bits"
)

var (
	// ErrNotFound is returned by an Adapter when the network does not know the handle.
	ErrNotFound = errors.New("operation not found")

	// ErrFeeTooLow is returned by an Adapter when the network refuses a submission as underpriced.
	ErrFeeTooLow = errors.New("fee below network minimum")

	// ErrUnsupportedPayload is returned when a payload cannot be submitted by the adapter.
	ErrUnsupportedPayload = errors.New("unsupported payload")
)

// Handle is the opaque identifier the network returns for a submitted operation.
type Handle string

// String returns the handle as string.
func (h Handle) String() string {
	return string(h)
}

// IsZero reports whether the handle was never assigned.
func (h Handle) IsZero() bool {
	return h == ""
}

// BlockRef identifies a block by height and hash.
type BlockRef struct {
	Number uint64
	Hash   string
}

// IsZero reports whether the reference points to no block.
func (b BlockRef) IsZero() bool {
	return b.Number == 0 && b.Hash == ""
}

// Inclusion describes what the network knows about a handle.
type Inclusion struct {
	// Known is false while the network has not seen the operation.
	Known    bool
	Included bool
	Block    BlockRef
}

// Receipt is the outcome of an included operation.
type Receipt struct {
	Success bool
	GasUsed uint64
	// GasLimit is the limit the operation executed under, zero if the adapter does not know it.
	GasLimit     uint64
	Fee          uint64
	RevertReason string
	Logs         []Log
	Block        BlockRef
}

// Log is an event emitted during execution.
type Log struct {
	Topic string
	Data  []byte
}

// Payload is a state-changing request prepared by the business layer.
type Payload struct {
	// Method names the business call, e.g. "cdp.open".
	Method   string
	Data     []byte
	Value    uint64
	GasLimit uint64
	// FeeCap is the maximum fee per gas unit the sender is willing to pay.
	FeeCap uint64
	// Signed carries a chain-specific signed envelope when the signing layer produced one.
	Signed interface{}
}

// FeeCeiling returns the maximum total fee the payload can pay.
func (p Payload) FeeCeiling() uint64 {
	return TotalFee(p.GasLimit, p.FeeCap)
}

// TotalFee returns gas * feePerGas, saturating at math.MaxUint64.
func TotalFee(gas, feePerGas uint64) uint64 {
	hi, lo := bits.Mul64(gas, feePerGas)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

// FeePolicy is the acceptance policy the network currently enforces.
type FeePolicy struct {
	// MinFeePerGas is the lowest fee per gas unit the network accepts.
	MinFeePerGas uint64
	// MaxGasLimit is the largest gas limit accepted, zero when unbounded.
	MaxGasLimit uint64
}

// Adapter is the narrow contract the lifecycle core consumes from a network provider.
type Adapter interface {
	// Submit sends the payload to the network and returns its handle.
	Submit(ctx context.Context, payload Payload) (Handle, error)
	// InclusionStatus reports whether the operation is known and included.
	InclusionStatus(ctx context.Context, handle Handle) (*Inclusion, error)
	// Receipt returns the execution receipt of an included operation.
	Receipt(ctx context.Context, handle Handle) (*Receipt, error)
	// OnNewBlock registers a callback for every new head and returns a function that removes it.
	OnNewBlock(callback func(head BlockRef)) (unsubscribe func())
	// BlockByNumber returns the canonical block at the given height.
	BlockByNumber(ctx context.Context, number uint64) (BlockRef, error)
	// FeePolicy returns the network's current fee acceptance policy.
	FeePolicy(ctx context.Context) (FeePolicy, error)
}
