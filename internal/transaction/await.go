// internal/transaction/await.go
package transaction

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// AwaitAll waits until every transaction reached target. It returns the first error, after
// which the remaining waits are abandoned. The transactions keep being tracked.
func AwaitAll(ctx context.Context, target State, txs ...*Transaction) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, tx := range txs {
		tx := tx
		g.Go(func() error {
			return tx.Await(gCtx, target)
		})
	}
	return g.Wait()
}
