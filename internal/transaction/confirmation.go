// internal/transaction/confirmation.go
package transaction

import (
	"github.com/rovshanmuradov/txlife/internal/blockchain"
)

// ConfirmationTracker decides when an included operation is final.
//
// The count starts at 1 when the inclusion block is recorded and follows the head height from
// there, so a head that skips blocks still counts every block in between. The count never
// decreases until Reset.
type ConfirmationTracker struct {
	threshold uint64
	block     blockchain.BlockRef
	included  bool
	count     uint64
}

// NewConfirmationTracker returns a tracker finalizing after threshold confirmations.
// A zero threshold is treated as 1.
func NewConfirmationTracker(threshold uint64) *ConfirmationTracker {
	if threshold == 0 {
		threshold = 1
	}
	return &ConfirmationTracker{threshold: threshold}
}

// Threshold returns the configured number of confirmations.
func (c *ConfirmationTracker) Threshold() uint64 {
	return c.threshold
}

// Include records the inclusion block and resets the count to 1.
func (c *ConfirmationTracker) Include(block blockchain.BlockRef) uint64 {
	c.block = block
	c.included = true
	c.count = 1
	return c.count
}

// Observe accounts for a new head and returns the current count.
func (c *ConfirmationTracker) Observe(head blockchain.BlockRef) uint64 {
	if !c.included {
		return 0
	}
	if head.Number >= c.block.Number {
		if n := head.Number - c.block.Number + 1; n > c.count {
			c.count = n
		}
	}
	return c.count
}

// Count returns the current confirmation count.
func (c *ConfirmationTracker) Count() uint64 {
	return c.count
}

// Included reports whether an inclusion block is being counted.
func (c *ConfirmationTracker) Included() bool {
	return c.included
}

// Block returns the inclusion block being counted.
func (c *ConfirmationTracker) Block() blockchain.BlockRef {
	return c.block
}

// Satisfied reports whether the threshold was reached.
func (c *ConfirmationTracker) Satisfied() bool {
	return c.included && c.count >= c.threshold
}

// Canonical reports whether canonical still matches the inclusion block. An inclusion block
// without hash cannot be checked and is assumed canonical.
func (c *ConfirmationTracker) Canonical(canonical blockchain.BlockRef) bool {
	if !c.included || c.block.Hash == "" {
		return true
	}
	return canonical.Number == c.block.Number && canonical.Hash == c.block.Hash
}

// Reset stops counting towards the current inclusion block.
func (c *ConfirmationTracker) Reset() {
	c.block = blockchain.BlockRef{}
	c.included = false
	c.count = 0
}
