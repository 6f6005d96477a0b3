package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rovshanmuradov/txlife/internal/logger"
	"github.com/rovshanmuradov/txlife/internal/storage/models"
	"github.com/rovshanmuradov/txlife/internal/storage/postgres"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show recorded lifecycle events",
		ArgsUsage: "[handle]",
		Description: `Read lifecycle events persisted to database_dsn. With a handle, print that
transaction's events oldest first; without one, print the newest events.

Example:
  txlife history --limit 20`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of events when no handle is given",
				Value: 50,
			},
			&cli.BoolFlag{
				Name:  "stats",
				Usage: "Print event counts per state instead",
			},
		},
		Action: runHistory,
	}
}

func runHistory(c *cli.Context) error {
	cfg, log, err := loadRuntime(c)
	if err != nil {
		return err
	}
	defer logger.Sync(log)

	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	if c.Int("limit") <= 0 {
		return fmt.Errorf("limit must be positive")
	}

	store, err := postgres.NewStorage(cfg.DatabaseDSN, log)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.RunMigrations(); err != nil {
		return err
	}

	if c.Bool("stats") {
		counts, err := store.CountByState(c.Context)
		if err != nil {
			return err
		}
		return writeJSONOrText(c, counts, func() error {
			states := make([]string, 0, len(counts))
			for state := range counts {
				states = append(states, state)
			}
			sort.Strings(states)
			for _, state := range states {
				fmt.Fprintf(c.App.Writer, "%s\t%d\n", state, counts[state])
			}
			return nil
		})
	}

	var evs []*models.LifecycleEvent
	if c.NArg() > 0 {
		evs, err = store.History(c.Context, c.Args().First())
	} else {
		evs, err = store.ListRecent(c.Context, c.Int("limit"), 0)
	}
	if err != nil {
		return err
	}

	return writeJSONOrText(c, evs, func() error {
		tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tTYPE\tHANDLE\tSTATE\tBLOCK\tCONF\tERROR")
		for _, ev := range evs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				ev.OccurredAt.Format(time.RFC3339), ev.Type, ev.Handle, ev.State,
				ev.BlockNumber, ev.Confirmations, ev.ErrorMessage)
		}
		return tw.Flush()
	})
}

func writeJSONOrText(c *cli.Context, v interface{}, text func() error) error {
	if !c.Bool("json") {
		return text()
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
