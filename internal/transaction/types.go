// internal/transaction/types.go
package transaction

import (
	"errors"
	"time"
)

var (
	ErrTrackingStopped  = errors.New("transaction tracking stopped")
	ErrStateUnreachable = errors.New("state can no longer be reached")
	ErrInvalidState     = errors.New("invalid transaction state")
	ErrManagerClosed    = errors.New("transaction manager closed")
)

const (
	DefaultConfirmations      = 3
	DefaultDroppedAfterBlocks = 150
)

type Config struct {
	// Confirmations is the number of blocks, counting the inclusion block, needed to finalize.
	Confirmations uint64
	// DroppedAfterBlocks fails an operation the network still does not know after that many
	// blocks. Zero disables the check.
	DroppedAfterBlocks uint64
	// SubmitTimeout bounds a single submission round trip. Zero means no bound.
	SubmitTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Confirmations == 0 {
		c.Confirmations = DefaultConfirmations
	}
	return c
}
