package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cozy-ach/internal/importer"
)

var errDropNotConfirmed = errors.New("drop deletes every document of the given doctypes; pass --yes to confirm")

func newDropCmd(cc *CLIContext) *cobra.Command {
	var newToken, yes bool

	cmd := &cobra.Command{
		Use:   "drop <doctype>...",
		Short: "Delete every document of one or more doctypes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errDropNotConfirmed
			}

			return runDrop(cmd, cc, args, newToken)
		},
	}

	addNewTokenFlag(cmd, &newToken)
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")

	return cmd
}

func runDrop(cmd *cobra.Command, cc *CLIContext, docTypes []string, newToken bool) error {
	ctx, stop := cc.commandContext(cmd)
	defer stop()

	client, err := cc.obtainClient(ctx, newToken, docTypes)
	if err != nil {
		return err
	}

	rec := cc.beginRun(ctx, "drop")

	results := importer.NewDropper(client, importer.Options{
		Parallel: cc.Cfg.Import.Parallel,
		Logger:   cc.Logger,
	}).Drop(ctx, docTypes)

	var (
		failed    bool
		summaries []string
	)

	for i := range results {
		r := &results[i]

		line := fmt.Sprintf("%s: %s", r.DocType, r.Summary())
		cc.Printf("%s\n", line)
		summaries = append(summaries, line)

		if r.Err != nil {
			fmt.Fprintf(cc.Stderr, "%s: %s\n", r.DocType, importer.Describe(r.Err))
		}

		for _, ferr := range r.Failures {
			fmt.Fprintf(cc.Stderr, "%s: %s\n", r.DocType, importer.Describe(ferr))
		}

		failed = failed || r.Failed()
	}

	rec.finish(ctx, failed, strings.Join(summaries, "; "))

	if failed {
		return errPartialFailure
	}

	return nil
}
