// internal/blockchain/simnet/simnet.go
package simnet

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/txlife/internal/blockchain"
)

const DefaultGasUsed = 21000

// Execution is the outcome the network assigns to a payload when it is mined.
type Execution struct {
	Success      bool
	GasUsed      uint64
	RevertReason string
	Logs         []blockchain.Log
}

// Executor decides the execution outcome of a payload.
type Executor func(payload blockchain.Payload) Execution

// DefaultExecutor succeeds and uses half of the gas limit.
func DefaultExecutor(payload blockchain.Payload) Execution {
	used := uint64(DefaultGasUsed)
	if payload.GasLimit > 0 {
		used = payload.GasLimit / 2
	}
	return Execution{Success: true, GasUsed: used}
}

type Option func(*Network)

func WithName(name string) Option {
	return func(n *Network) { n.name = name }
}

func WithFeePolicy(policy blockchain.FeePolicy) Option {
	return func(n *Network) { n.policy = policy }
}

func WithExecutor(executor Executor) Option {
	return func(n *Network) { n.executor = executor }
}

type operation struct {
	payload  blockchain.Payload
	included bool
	dropped  bool
	block    blockchain.BlockRef
	receipt  *blockchain.Receipt
}

// Network is an in-memory chain. Blocks are produced only by Mine and Reorg, which makes
// lifecycles fully deterministic in tests.
type Network struct {
	mu          sync.Mutex
	logger      *zap.Logger
	name        string
	policy      blockchain.FeePolicy
	executor    Executor
	blocks      []blockchain.BlockRef
	fork        uint64
	ops         map[blockchain.Handle]*operation
	mempool     []blockchain.Handle
	nextID      uint64
	subscribers map[uint64]func(blockchain.BlockRef)
	nextSub     uint64
}

var _ blockchain.Network = (*Network)(nil)

// New creates a network holding only the genesis block at height 0.
func New(logger *zap.Logger, opts ...Option) *Network {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Network{
		logger:      logger.Named("simnet"),
		name:        "simnet",
		executor:    DefaultExecutor,
		ops:         make(map[blockchain.Handle]*operation),
		subscribers: make(map[uint64]func(blockchain.BlockRef)),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.blocks = []blockchain.BlockRef{n.blockRef(0)}
	return n
}

func (n *Network) blockRef(number uint64) blockchain.BlockRef {
	return blockchain.BlockRef{
		Number: number,
		Hash:   fmt.Sprintf("0x%08x%08x", n.fork, number),
	}
}

// Name returns the network name.
func (n *Network) Name() string {
	return n.name
}

// Head returns the latest block.
func (n *Network) Head(_ context.Context) (blockchain.BlockRef, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.blocks[len(n.blocks)-1], nil
}

// Submit places the payload in the mempool.
func (n *Network) Submit(ctx context.Context, payload blockchain.Payload) (blockchain.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if payload.FeeCap < n.policy.MinFeePerGas {
		return "", fmt.Errorf("%w: fee cap %d, minimum %d", blockchain.ErrFeeTooLow, payload.FeeCap, n.policy.MinFeePerGas)
	}

	n.nextID++
	handle := blockchain.Handle(fmt.Sprintf("0x%064x", n.nextID))
	n.ops[handle] = &operation{payload: payload}
	n.mempool = append(n.mempool, handle)

	n.logger.Debug("Operation submitted",
		zap.String("handle", handle.String()),
		zap.String("method", payload.Method))
	return handle, nil
}

// InclusionStatus reports Known false for dropped operations and ErrNotFound for handles the
// network never issued.
func (n *Network) InclusionStatus(ctx context.Context, handle blockchain.Handle) (*blockchain.Inclusion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	op, ok := n.ops[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", blockchain.ErrNotFound, handle)
	}
	if op.dropped {
		return &blockchain.Inclusion{}, nil
	}
	return &blockchain.Inclusion{
		Known:    true,
		Included: op.included,
		Block:    op.block,
	}, nil
}

// Receipt returns the receipt of an included operation.
func (n *Network) Receipt(ctx context.Context, handle blockchain.Handle) (*blockchain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	op, ok := n.ops[handle]
	if !ok || op.dropped || !op.included {
		return nil, fmt.Errorf("%w: no receipt for %s", blockchain.ErrNotFound, handle)
	}
	receipt := *op.receipt
	return &receipt, nil
}

// OnNewBlock registers callback for every block produced after this call.
func (n *Network) OnNewBlock(callback func(blockchain.BlockRef)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextSub++
	id := n.nextSub
	n.subscribers[id] = callback

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subscribers, id)
	}
}

// BlockByNumber returns the canonical block at number.
func (n *Network) BlockByNumber(ctx context.Context, number uint64) (blockchain.BlockRef, error) {
	if err := ctx.Err(); err != nil {
		return blockchain.BlockRef{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if number >= uint64(len(n.blocks)) {
		return blockchain.BlockRef{}, fmt.Errorf("%w: block %d", blockchain.ErrNotFound, number)
	}
	return n.blocks[number], nil
}

// FeePolicy returns the configured fee policy.
func (n *Network) FeePolicy(_ context.Context) (blockchain.FeePolicy, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.policy, nil
}

// SetFeePolicy replaces the fee policy.
func (n *Network) SetFeePolicy(policy blockchain.FeePolicy) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.policy = policy
}

// Mine produces one block including every operation in the mempool and notifies subscribers.
func (n *Network) Mine() blockchain.BlockRef {
	n.mu.Lock()
	head := n.appendBlock(true)
	subscribers := n.snapshotSubscribers()
	n.mu.Unlock()

	n.publish(subscribers, head)
	return head
}

// MineN produces count blocks and returns the last one.
func (n *Network) MineN(count int) blockchain.BlockRef {
	var head blockchain.BlockRef
	for i := 0; i < count; i++ {
		head = n.Mine()
	}
	return head
}

// Reorg replaces the last depth blocks with empty blocks of a new fork. Operations included
// in the replaced blocks go back to the mempool. Subscribers are notified of the new head.
func (n *Network) Reorg(depth int) blockchain.BlockRef {
	n.mu.Lock()
	if depth <= 0 || depth >= len(n.blocks) {
		head := n.blocks[len(n.blocks)-1]
		n.mu.Unlock()
		return head
	}

	cut := uint64(len(n.blocks) - depth)
	var reverted []blockchain.Handle
	for handle, op := range n.ops {
		if op.included && op.block.Number >= cut {
			op.included = false
			op.block = blockchain.BlockRef{}
			op.receipt = nil
			reverted = append(reverted, handle)
		}
	}
	sort.Slice(reverted, func(i, j int) bool { return reverted[i] < reverted[j] })

	n.fork++
	n.blocks = n.blocks[:cut]
	var head blockchain.BlockRef
	for i := 0; i < depth; i++ {
		head = n.appendBlock(false)
	}
	n.mempool = append(reverted, n.mempool...)
	subscribers := n.snapshotSubscribers()
	n.mu.Unlock()

	n.logger.Debug("Reorg", zap.Int("depth", depth), zap.Int("reverted", len(reverted)))
	n.publish(subscribers, head)
	return head
}

// Drop removes an operation from the mempool so that the network no longer knows it.
func (n *Network) Drop(handle blockchain.Handle) {
	n.mu.Lock()
	defer n.mu.Unlock()

	op, ok := n.ops[handle]
	if !ok || op.included {
		return
	}
	op.dropped = true
	for i, h := range n.mempool {
		if h == handle {
			n.mempool = append(n.mempool[:i], n.mempool[i+1:]...)
			break
		}
	}
}

// Pending returns the number of operations waiting in the mempool.
func (n *Network) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.mempool)
}

func (n *Network) appendBlock(includeMempool bool) blockchain.BlockRef {
	block := n.blockRef(uint64(len(n.blocks)))
	n.blocks = append(n.blocks, block)

	if !includeMempool {
		return block
	}
	for _, handle := range n.mempool {
		op := n.ops[handle]
		exec := n.executor(op.payload)
		op.included = true
		op.block = block
		op.receipt = &blockchain.Receipt{
			Success:      exec.Success,
			GasUsed:      exec.GasUsed,
			GasLimit:     op.payload.GasLimit,
			Fee:          blockchain.TotalFee(exec.GasUsed, op.payload.FeeCap),
			RevertReason: exec.RevertReason,
			Logs:         exec.Logs,
			Block:        block,
		}
	}
	n.mempool = nil
	return block
}

func (n *Network) snapshotSubscribers() []func(blockchain.BlockRef) {
	ids := make([]uint64, 0, len(n.subscribers))
	for id := range n.subscribers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]func(blockchain.BlockRef), 0, len(ids))
	for _, id := range ids {
		out = append(out, n.subscribers[id])
	}
	return out
}

func (n *Network) publish(subscribers []func(blockchain.BlockRef), head blockchain.BlockRef) {
	for _, callback := range subscribers {
		callback(head)
	}
}
