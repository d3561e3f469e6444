package main

import (
	"errors"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cozy-ach/internal/journal"
)

const defaultHistoryLimit = 20

func newHistoryCmd(cc *CLIContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recent runs, or the objects one run created",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cc.Cfg.Journal.ResolvedPath()
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				cc.Statusf("No history recorded yet.\n")
				return nil
			}

			ctx, stop := cc.commandContext(cmd)
			defer stop()

			store, err := journal.Open(ctx, path, cc.Logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				entries, err := store.Entries(ctx, args[0])
				if err != nil {
					return err
				}

				printEntries(cc, entries)

				return nil
			}

			runs, err := store.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}

			printRuns(cc, runs)

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "number of runs to show (0 for all)")

	return cmd
}

func printRuns(cc *CLIContext, runs []journal.RunSummary) {
	if len(runs) == 0 {
		cc.Statusf("No history recorded yet.\n")
		return
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.Kind,
			formatTime(r.StartedAt),
			formatDuration(r.StartedAt, r.FinishedAt),
			string(r.Status),
			strconv.Itoa(r.Created),
			r.Instance,
		})
	}

	printTable(cc.Stdout, []string{"RUN", "KIND", "STARTED", "TOOK", "STATUS", "CREATED", "INSTANCE"}, rows)
}

func printEntries(cc *CLIContext, entries []journal.Entry) {
	if len(entries) == 0 {
		cc.Statusf("The run created nothing.\n")
		return
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.Collection, e.RemoteID, e.Rev, e.Name})
	}

	printTable(cc.Stdout, []string{"COLLECTION", "ID", "REV", "NAME"}, rows)
	cc.Statusf("%d objects\n", len(entries))
}
