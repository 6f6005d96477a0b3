package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/txlife/internal/app"
	"github.com/rovshanmuradov/txlife/internal/blockchain"
	"github.com/rovshanmuradov/txlife/internal/blockchain/simnet"
	"github.com/rovshanmuradov/txlife/internal/logger"
	"github.com/rovshanmuradov/txlife/internal/operation"
	"github.com/rovshanmuradov/txlife/internal/transaction"
)

const transferTopic = "transfer"

// transfer is the domain data a simulated transfer emits once mined.
type transfer struct {
	Index  int    `json:"index"`
	Amount uint64 `json:"amount"`
}

type simulation struct {
	count            int
	revertEvery      int
	underpricedEvery int
	reorgAt          uint64
	blockInterval    time.Duration
	feeCap           uint64
	gasLimit         uint64
}

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Run transfers through an in-memory network and report every lifecycle",
		Description: `Submit a batch of transfers to a simulated network that mines blocks on a timer,
then wait until every transfer is finalized or failed.

Example:
  txlife simulate --count 10 --revert-every 3 --reorg-at 4 --json`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "count",
				Usage: "Number of transfers to submit",
				Value: 5,
			},
			&cli.IntFlag{
				Name:  "revert-every",
				Usage: "Make every n-th transfer revert, 0 disables",
			},
			&cli.IntFlag{
				Name:  "underpriced-every",
				Usage: "Submit every n-th transfer below the minimum fee, 0 disables",
			},
			&cli.Uint64Flag{
				Name:  "reorg-at",
				Usage: "Replace the block at this height once it was mined, 0 disables",
			},
			&cli.Uint64Flag{
				Name:  "confirmations",
				Usage: "Blocks, counting the inclusion block, required for finality",
			},
			&cli.Uint64Flag{
				Name:  "min-fee",
				Usage: "Network minimum fee per gas unit",
				Value: 1,
			},
			&cli.Uint64Flag{
				Name:  "fee-cap",
				Usage: "Fee per gas unit offered by each transfer",
				Value: 2,
			},
			&cli.DurationFlag{
				Name:  "block-interval",
				Usage: "Time between simulated blocks",
				Value: 100 * time.Millisecond,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for every transfer to settle",
				Value: 30 * time.Second,
			},
		},
		Action: runSimulate,
	}
}

func runSimulate(c *cli.Context) error {
	cfg, log, err := loadRuntime(c)
	if err != nil {
		return err
	}
	defer logger.Sync(log)

	if c.IsSet("confirmations") {
		cfg.Confirmations = c.Uint64("confirmations")
	}
	cfg.MinFeePerGas = c.Uint64("min-fee")
	if err := cfg.Validate(); err != nil {
		return err
	}

	sim := simulation{
		count:            c.Int("count"),
		revertEvery:      c.Int("revert-every"),
		underpricedEvery: c.Int("underpriced-every"),
		reorgAt:          c.Uint64("reorg-at"),
		blockInterval:    c.Duration("block-interval"),
		feeCap:           c.Uint64("fee-cap"),
		gasLimit:         50000,
	}
	if sim.count <= 0 {
		return fmt.Errorf("count must be positive")
	}
	if sim.blockInterval <= 0 {
		return fmt.Errorf("block-interval must be positive")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	net := simnet.New(log,
		simnet.WithName("simulate"),
		simnet.WithFeePolicy(cfg.FeePolicy()),
		simnet.WithExecutor(sim.execute))

	application, err := app.New(ctx, net, app.Options{Config: cfg, Logger: log})
	if err != nil {
		return err
	}

	minerCtx, stopMiner := context.WithCancel(ctx)
	var miner sync.WaitGroup
	miner.Add(1)
	go func() {
		defer miner.Done()
		sim.mine(minerCtx, net, log)
	}()

	results := make([]*operation.Result[transfer], sim.count)
	for i := range results {
		results[i] = operation.Submit(ctx, application.Manager, sim.payload(i), operation.JSONLog[transfer](transferTopic))
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()
	settleErr := settle(waitCtx, results)

	stopMiner()
	miner.Wait()

	closeCtx, cancelClose := context.WithTimeout(context.Background(), app.DefaultShutdownTimeout)
	defer cancelClose()
	if err := application.Close(closeCtx); err != nil {
		log.Warn("Shutdown incomplete", zap.Error(err))
	}

	txs := make([]*transaction.Transaction, len(results))
	outcomes := make([]outcome, len(results))
	for i, res := range results {
		txs[i] = res.Transaction
		outcomes[i] = outcomeOf(res.Transaction)
		if data, err := res.Value(); err == nil {
			outcomes[i].Data = data
		}
	}

	r := newReport(outcomes)
	if err := transaction.AwaitAll(context.Background(), transaction.StateFinalized, txs...); err != nil {
		r.FirstFailure = err.Error()
	}
	if err := writeReport(c.App.Writer, r, c.Bool("json")); err != nil {
		return err
	}

	if settleErr != nil {
		return fmt.Errorf("simulation did not settle: %w", settleErr)
	}
	return nil
}

// settle waits until every transfer is terminal. Classified failures are outcomes, not errors.
func settle(ctx context.Context, results []*operation.Result[transfer]) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, res := range results {
		g.Go(func() error {
			err := res.AwaitFinalized(gCtx)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (s simulation) payload(i int) blockchain.Payload {
	feeCap := s.feeCap
	if s.underpricedEvery > 0 && (i+1)%s.underpricedEvery == 0 {
		feeCap = 0
	}
	return blockchain.Payload{
		Method:   "transfer",
		Data:     []byte(strconv.Itoa(i)),
		Value:    uint64(100 * (i + 1)),
		GasLimit: s.gasLimit,
		FeeCap:   feeCap,
	}
}

func (s simulation) execute(payload blockchain.Payload) simnet.Execution {
	exec := simnet.DefaultExecutor(payload)

	index, err := strconv.Atoi(string(payload.Data))
	if err != nil {
		return exec
	}
	if s.revertEvery > 0 && (index+1)%s.revertEvery == 0 {
		exec.Success = false
		exec.RevertReason = "transfer rejected by recipient"
		return exec
	}

	data, _ := json.Marshal(transfer{Index: index, Amount: payload.Value})
	exec.Logs = []blockchain.Log{{Topic: transferTopic, Data: data}}
	return exec
}

func (s simulation) mine(ctx context.Context, net *simnet.Network, log *zap.Logger) {
	ticker := time.NewTicker(s.blockInterval)
	defer ticker.Stop()

	reorged := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			head := net.Mine()
			if !reorged && s.reorgAt > 0 && head.Number == s.reorgAt+1 {
				reorged = true
				net.Reorg(2)
				log.Info("Simulated reorg", zap.Uint64("from_height", s.reorgAt))
			}
		}
	}
}
