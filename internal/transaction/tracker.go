// internal/transaction/tracker.go
package transaction

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/txlife/internal/blockchain"
)

// tracker drives one Transaction from adapter signals. Heads are coalesced: while the tracker
// is waiting on the adapter only the latest head is kept.
type tracker struct {
	m             *Manager
	tx            *Transaction
	logger        *zap.Logger
	confirmations *ConfirmationTracker
	heads         chan blockchain.BlockRef

	// unknownSince is the first head at which the network did not know the operation.
	unknownSince uint64
	// laggingSince is the first head at which the receipt or the inclusion block was missing
	// although the network reported the operation as included.
	laggingSince uint64
}

func newTracker(m *Manager, tx *Transaction) *tracker {
	return &tracker{
		m:             m,
		tx:            tx,
		logger:        m.logger.With(zap.String("handle", tx.Handle().String())),
		confirmations: NewConfirmationTracker(m.config.Confirmations),
		heads:         make(chan blockchain.BlockRef, 1),
	}
}

func (tr *tracker) offer(head blockchain.BlockRef) {
	for {
		select {
		case tr.heads <- head:
			return
		default:
		}
		select {
		case <-tr.heads:
		default:
		}
	}
}

func (tr *tracker) run(ctx context.Context, pollOnStart bool) {
	if pollOnStart && tr.step(ctx, blockchain.BlockRef{}) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			tr.m.classifier.Reject(tr.tx, tr.m.classifier.Stopped(ctx.Err()), blockchain.BlockRef{})
			return
		case head := <-tr.heads:
			if tr.step(ctx, head) {
				return
			}
		}
	}
}

// step processes one head and reports whether the transaction is terminal.
func (tr *tracker) step(ctx context.Context, head blockchain.BlockRef) bool {
	if tr.tx.State().IsTerminal() {
		return true
	}

	if !tr.confirmations.Included() {
		if done := tr.pollInclusion(ctx, head); done || !tr.confirmations.Included() {
			return done
		}
	} else if block := tr.confirmations.Block(); block.Hash != "" && head.Number > 0 {
		canonical, err := tr.m.adapter.BlockByNumber(ctx, block.Number)
		if errors.Is(err, blockchain.ErrNotFound) && ctx.Err() == nil {
			tr.logger.Debug("Inclusion block not available yet", zap.Uint64("block", block.Number))
			return tr.missing(&tr.laggingSince, head)
		}
		if err != nil {
			return tr.fail(ctx, "block lookup", err, head)
		}
		tr.laggingSince = 0
		if !tr.confirmations.Canonical(canonical) {
			tr.logger.Warn("Inclusion block dropped by reorg",
				zap.Uint64("block", block.Number),
				zap.String("block_hash", block.Hash),
				zap.String("canonical_hash", canonical.Hash))
			tr.m.metrics.ObserveReorg()
			tr.confirmations.Reset()
			tr.tx.reorged(head)
			if done := tr.pollInclusion(ctx, head); done || !tr.confirmations.Included() {
				return done
			}
		}
	}

	count := tr.confirmations.Observe(head)
	tr.tx.setConfirmations(count)

	if !tr.confirmations.Satisfied() {
		return false
	}

	if tr.tx.advance(Event{State: StateFinalized, Head: head, Confirmations: count}) {
		tr.logger.Info("Transaction finalized", zap.Uint64("confirmations", count))
		tr.m.metrics.ObserveTransition(StateFinalized)
		tr.m.metrics.TrackFinality(tr.tx.CreatedAt())
	}
	return true
}

// pollInclusion asks the adapter for inclusion and the receipt. On success it records the
// inclusion block and, on first inclusion, moves the transaction to mined.
func (tr *tracker) pollInclusion(ctx context.Context, head blockchain.BlockRef) bool {
	inclusion, err := tr.m.adapter.InclusionStatus(ctx, tr.tx.Handle())
	if err != nil {
		return tr.fail(ctx, "inclusion", err, head)
	}

	if !inclusion.Known {
		return tr.missing(&tr.unknownSince, head)
	}
	tr.unknownSince = 0

	if !inclusion.Included {
		return false
	}

	receipt, err := tr.m.adapter.Receipt(ctx, tr.tx.Handle())
	if errors.Is(err, blockchain.ErrNotFound) && ctx.Err() == nil {
		// nodes may serve statuses before transaction details
		tr.logger.Debug("Receipt not available yet")
		return tr.missing(&tr.laggingSince, head)
	}
	if err != nil {
		return tr.fail(ctx, "receipt", err, head)
	}
	tr.laggingSince = 0
	if cause := tr.m.classifier.ClassifyReceipt(receipt, tr.tx.Payload().GasLimit); cause != nil {
		tr.m.classifier.Reject(tr.tx, cause, head)
		return true
	}

	block := inclusion.Block
	if block.IsZero() {
		block = receipt.Block
	}
	tr.confirmations.Include(block)
	count := tr.confirmations.Observe(head)

	if tr.tx.Reached(StateMined) {
		tr.logger.Info("Transaction re-included after reorg", zap.Uint64("block", block.Number))
		tr.tx.reincluded(block, receipt)
		return false
	}

	if tr.tx.advance(Event{State: StateMined, Block: block, Head: head, Receipt: receipt, Confirmations: count}) {
		tr.logger.Info("Transaction mined",
			zap.Uint64("block", block.Number),
			zap.Uint64("gas_used", receipt.GasUsed))
		tr.m.metrics.ObserveTransition(StateMined)
	}
	return false
}

// missing records a head at which the operation or its data was unavailable and fails the
// transaction with NotFound once that lasted DroppedAfterBlocks blocks.
func (tr *tracker) missing(since *uint64, head blockchain.BlockRef) bool {
	if head.Number == 0 || tr.m.config.DroppedAfterBlocks == 0 {
		return false
	}
	if *since == 0 {
		*since = head.Number
		return false
	}
	if blocks := head.Number - *since; blocks >= tr.m.config.DroppedAfterBlocks {
		tr.m.classifier.Reject(tr.tx, tr.m.classifier.Dropped(blocks), head)
		return true
	}
	return false
}

func (tr *tracker) fail(ctx context.Context, op string, err error, head blockchain.BlockRef) bool {
	cause := tr.m.classifier.ClassifyProvider(op, err)
	if ctx.Err() != nil {
		cause = tr.m.classifier.Stopped(ctx.Err())
	}
	tr.m.classifier.Reject(tr.tx, cause, head)
	return true
}
