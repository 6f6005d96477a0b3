// internal/blockchain/blockchain.go
package blockchain

import (
	"context"
)

// Network is an Adapter that also knows its own name and current head.
type Network interface {
	Adapter
	Name() string
	Head(ctx context.Context) (BlockRef, error)
}
