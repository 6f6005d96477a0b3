package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/txlife/internal/app"
	"github.com/rovshanmuradov/txlife/internal/blockchain"
	"github.com/rovshanmuradov/txlife/internal/blockchain/solbc"
	solbcrpc "github.com/rovshanmuradov/txlife/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/txlife/internal/logger"
	"github.com/rovshanmuradov/txlife/internal/transaction"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Track an already submitted Solana transaction until it is finalized",
		ArgsUsage: "<signature>",
		Description: `Attach the lifecycle tracker to a signature submitted elsewhere and follow it
through mined and finalized. Confirmations are counted in slots.

Example:
  txlife watch --rpc-url https://api.devnet.solana.com 5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC endpoint, may be repeated",
				EnvVars: []string{"TXLIFE_RPC_URL"},
			},
			&cli.Uint64Flag{
				Name:  "confirmations",
				Usage: "Slots, counting the inclusion slot, required for finality",
			},
			&cli.StringFlag{
				Name:  "method",
				Usage: "Business method recorded in lifecycle events",
				Value: "watch",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for finality",
				Value: 5 * time.Minute,
			},
		},
		Action: runWatch,
	}
}

func runWatch(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("signature is required")
	}
	signature, err := solana.SignatureFromBase58(c.Args().First())
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}

	cfg, log, err := loadRuntime(c)
	if err != nil {
		return err
	}
	defer logger.Sync(log)

	if urls := cleanURLs(c.StringSlice("rpc-url")); len(urls) > 0 {
		cfg.RPCList = urls
	}
	if c.IsSet("confirmations") {
		cfg.Confirmations = c.Uint64("confirmations")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.RequireRPC(); err != nil {
		return err
	}

	client, err := solbcrpc.NewClient(cfg.RPCList, cfg.RPCOptions(), log)
	if err != nil {
		return err
	}
	adapter := solbc.NewAdapter(client, cfg.SolanaConfig(), log)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, adapter, app.Options{Config: cfg, Logger: log})
	if err != nil {
		adapter.Close()
		return err
	}
	application.AddCloser("solana-adapter", app.CloseFunc(func() error {
		adapter.Close()
		return nil
	}))

	tx := application.Manager.Track(blockchain.Handle(signature.String()), blockchain.Payload{Method: c.String("method")})
	tx.OnMined(func(ev transaction.Event) {
		log.Info("Transaction mined",
			zap.Uint64("slot", ev.Block.Number),
			zap.Uint64("fee", ev.Receipt.Fee))
	})
	tx.OnReorg(func(ev transaction.Event) {
		log.Warn("Inclusion slot dropped, waiting for re-inclusion", zap.Uint64("slot", ev.Block.Number))
	})

	waitCtx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()
	awaitErr := tx.AwaitFinalized(waitCtx)

	closeCtx, cancelClose := context.WithTimeout(context.Background(), app.DefaultShutdownTimeout)
	defer cancelClose()
	if err := application.Close(closeCtx); err != nil {
		log.Warn("Shutdown incomplete", zap.Error(err))
	}

	if err := writeReport(c.App.Writer, newReport([]outcome{outcomeOf(tx)}), c.Bool("json")); err != nil {
		return err
	}
	return awaitErr
}

// cleanURLs drops blank --rpc-url values so an empty TXLIFE_RPC_URL keeps the configured list.
func cleanURLs(urls []string) []string {
	var clean []string
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			clean = append(clean, u)
		}
	}
	return clean
}
