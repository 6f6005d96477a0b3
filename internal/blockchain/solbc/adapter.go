// internal/blockchain/solbc/adapter.go
package solbc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/txlife/internal/blockchain"
	solbcrpc "github.com/rovshanmuradov/txlife/internal/blockchain/solbc/rpc"
)

const DefaultPollInterval = 500 * time.Millisecond

// RPCClient is the part of the Solana JSON-RPC API the adapter uses. Both *rpc.Client and the
// retrying client in the rpc subpackage satisfy it.
type RPCClient interface {
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)

	GetBlockWithOpts(
		ctx context.Context,
		slot uint64,
		opts *rpc.GetBlockOpts,
	) (*rpc.GetBlockResult, error)

	SendTransactionWithOpts(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)
}

// Config configures an Adapter.
type Config struct {
	// Commitment is the level at which a signature counts as included. Defaults to confirmed.
	Commitment rpc.CommitmentType
	// PollInterval is how often the slot is polled for new heads.
	PollInterval time.Duration
	// FeePolicy is reported to the manager as is. Solana has no network wide minimum, so the
	// policy is an operator choice.
	FeePolicy     blockchain.FeePolicy
	SkipPreflight bool
}

// Adapter exposes a Solana cluster as a blockchain.Network. Signatures are handles, slots are
// block numbers and compute units stand in for gas.
type Adapter struct {
	rpc      RPCClient
	logger   *zap.Logger
	config   Config
	analyzer *ErrorAnalyzer

	mu          sync.Mutex
	subscribers map[uint64]func(blockchain.BlockRef)
	nextSub     uint64
	polling     bool
	lastSlot    uint64
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

var (
	_ blockchain.Network = (*Adapter)(nil)
	_ RPCClient          = (*rpc.Client)(nil)
	_ RPCClient          = (*solbcrpc.Client)(nil)
)

func NewAdapter(client RPCClient, config Config, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Commitment == "" {
		config.Commitment = rpc.CommitmentConfirmed
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		rpc:         client,
		logger:      logger.Named("solbc-adapter"),
		config:      config,
		analyzer:    NewErrorAnalyzer(logger),
		subscribers: make(map[uint64]func(blockchain.BlockRef)),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (a *Adapter) Name() string {
	return "Solana"
}

// Head returns the latest slot at the configured commitment. Slot heads carry no hash.
func (a *Adapter) Head(ctx context.Context) (blockchain.BlockRef, error) {
	slot, err := a.rpc.GetSlot(ctx, a.config.Commitment)
	if err != nil {
		return blockchain.BlockRef{}, fmt.Errorf("failed to get slot: %w", err)
	}
	return blockchain.BlockRef{Number: slot}, nil
}

// Submit sends payload.Signed, which must be a signed *solana.Transaction.
func (a *Adapter) Submit(ctx context.Context, payload blockchain.Payload) (blockchain.Handle, error) {
	tx, ok := payload.Signed.(*solana.Transaction)
	if !ok || tx == nil {
		return "", fmt.Errorf("%w: expected *solana.Transaction, got %T", blockchain.ErrUnsupportedPayload, payload.Signed)
	}

	sig, err := a.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       a.config.SkipPreflight,
		PreflightCommitment: a.config.Commitment,
	})
	if err != nil {
		a.logger.Error("Failed to send transaction",
			zap.String("method", payload.Method),
			zap.Error(err))
		return "", a.analyzer.ClassifySendError(err)
	}

	return blockchain.Handle(sig.String()), nil
}

// InclusionStatus reports a signature missing from the status cache as unknown.
func (a *Adapter) InclusionStatus(ctx context.Context, handle blockchain.Handle) (*blockchain.Inclusion, error) {
	sig, err := parseHandle(handle)
	if err != nil {
		return nil, err
	}

	result, err := a.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}
	if result == nil || len(result.Value) == 0 || result.Value[0] == nil {
		return &blockchain.Inclusion{}, nil
	}

	status := result.Value[0]
	inclusion := &blockchain.Inclusion{Known: true}
	if !a.reached(status.ConfirmationStatus) {
		return inclusion, nil
	}

	inclusion.Included = true
	inclusion.Block = blockchain.BlockRef{Number: status.Slot}
	if block, err := a.BlockByNumber(ctx, status.Slot); err == nil {
		inclusion.Block = block
	} else {
		a.logger.Debug("Inclusion block unavailable",
			zap.Uint64("slot", status.Slot),
			zap.Error(err))
	}
	return inclusion, nil
}

func (a *Adapter) reached(status rpc.ConfirmationStatusType) bool {
	switch status {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return a.config.Commitment != rpc.CommitmentFinalized
	case rpc.ConfirmationStatusProcessed:
		return a.config.Commitment == rpc.CommitmentProcessed
	default:
		return false
	}
}

// Receipt fetches the executed transaction. Compute units consumed are reported as gas used.
func (a *Adapter) Receipt(ctx context.Context, handle blockchain.Handle) (*blockchain.Receipt, error) {
	sig, err := parseHandle(handle)
	if err != nil {
		return nil, err
	}

	commitment := a.config.Commitment
	if commitment == rpc.CommitmentProcessed {
		commitment = rpc.CommitmentConfirmed
	}
	result, err := a.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     commitment,
		MaxSupportedTransactionVersion: &rpc.MaxSupportedTransactionVersion0,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", blockchain.ErrNotFound, err)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if result == nil || result.Meta == nil {
		return nil, fmt.Errorf("transaction %s returned without metadata", sig)
	}

	return a.receiptFrom(result), nil
}

func (a *Adapter) receiptFrom(result *rpc.GetTransactionResult) *blockchain.Receipt {
	meta := result.Meta
	receipt := &blockchain.Receipt{
		Success: meta.Err == nil,
		Fee:     meta.Fee,
		Logs:    programLogs(meta.LogMessages),
		Block:   blockchain.BlockRef{Number: result.Slot},
	}
	if meta.ComputeUnitsConsumed != nil {
		receipt.GasUsed = *meta.ComputeUnitsConsumed
	}
	if receipt.Success {
		return receipt
	}

	receipt.RevertReason = a.analyzer.RevertReason(meta.Err, meta.LogMessages)
	if a.analyzer.ExhaustedCompute(meta.Err, meta.LogMessages) {
		// the whole budget was consumed
		receipt.GasLimit = receipt.GasUsed
	}
	return receipt
}

// programLogs keeps the program log and data lines of a transaction.
func programLogs(lines []string) []blockchain.Log {
	var logs []blockchain.Log
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "Program log: "):
			logs = append(logs, blockchain.Log{Topic: "log", Data: []byte(strings.TrimPrefix(line, "Program log: "))})
		case strings.HasPrefix(line, "Program data: "):
			logs = append(logs, blockchain.Log{Topic: "data", Data: []byte(strings.TrimPrefix(line, "Program data: "))})
		}
	}
	return logs
}

// BlockByNumber returns the block produced in slot. Skipped slots are reported as not found.
func (a *Adapter) BlockByNumber(ctx context.Context, slot uint64) (blockchain.BlockRef, error) {
	rewards := false
	result, err := a.rpc.GetBlockWithOpts(ctx, slot, &rpc.GetBlockOpts{
		TransactionDetails:             rpc.TransactionDetailsNone,
		Rewards:                        &rewards,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &rpc.MaxSupportedTransactionVersion0,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return blockchain.BlockRef{}, fmt.Errorf("%w: slot %d", blockchain.ErrNotFound, slot)
		}
		return blockchain.BlockRef{}, fmt.Errorf("failed to get block %d: %w", slot, err)
	}
	if result == nil {
		return blockchain.BlockRef{}, fmt.Errorf("%w: slot %d", blockchain.ErrNotFound, slot)
	}
	return blockchain.BlockRef{Number: slot, Hash: result.Blockhash.String()}, nil
}

func (a *Adapter) FeePolicy(_ context.Context) (blockchain.FeePolicy, error) {
	return a.config.FeePolicy, nil
}

// OnNewBlock registers callback for every new slot. Polling starts with the first subscriber.
func (a *Adapter) OnNewBlock(callback func(blockchain.BlockRef)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextSub++
	id := a.nextSub
	a.subscribers[id] = callback

	if !a.polling && a.ctx.Err() == nil {
		a.polling = true
		a.wg.Add(1)
		go a.pollSlots()
	}

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subscribers, id)
	}
}

func (a *Adapter) pollSlots() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.pollOnce()
		}
	}
}

func (a *Adapter) pollOnce() {
	slot, err := a.rpc.GetSlot(a.ctx, a.config.Commitment)
	if err != nil {
		if a.ctx.Err() == nil {
			a.logger.Warn("Failed to poll slot", zap.Error(err))
		}
		return
	}

	a.mu.Lock()
	if slot <= a.lastSlot {
		a.mu.Unlock()
		return
	}
	a.lastSlot = slot
	ids := make([]uint64, 0, len(a.subscribers))
	for id := range a.subscribers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	callbacks := make([]func(blockchain.BlockRef), 0, len(ids))
	for _, id := range ids {
		callbacks = append(callbacks, a.subscribers[id])
	}
	a.mu.Unlock()

	head := blockchain.BlockRef{Number: slot}
	for _, callback := range callbacks {
		callback(head)
	}
}

// Close stops slot polling.
func (a *Adapter) Close() {
	a.cancel()
	a.wg.Wait()
}

func parseHandle(handle blockchain.Handle) (solana.Signature, error) {
	sig, err := solana.SignatureFromBase58(handle.String())
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: invalid signature %q: %v", blockchain.ErrNotFound, handle, err)
	}
	return sig, nil
}
