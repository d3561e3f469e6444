package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cozy-ach/internal/importer"
)

func newImportCmd(cc *CLIContext) *cobra.Command {
	var newToken bool

	cmd := &cobra.Command{
		Use:   "import <data.json|data.yaml>",
		Short: "Bulk-import documents grouped by doctype",
		Long: "Import documents from a JSON or YAML file mapping each doctype to a list of\n" +
			"documents. The first document of each doctype is created alone, then the\n" +
			"rest are created in parallel. Doctypes are imported concurrently.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, cc, args[0], newToken)
		},
	}

	addNewTokenFlag(cmd, &newToken)

	return cmd
}

func runImport(cmd *cobra.Command, cc *CLIContext, path string, newToken bool) error {
	sets, err := importer.LoadRecords(path)
	if err != nil {
		return err
	}

	ctx, stop := cc.commandContext(cmd)
	defer stop()

	client, err := cc.obtainClient(ctx, newToken, importer.DocTypes(sets))
	if err != nil {
		return err
	}

	rec := cc.beginRun(ctx, "import")

	report := importer.NewDocImporter(client, importer.Options{
		Parallel: cc.Cfg.Import.Parallel,
		Journal:  rec.hook(),
		Logger:   cc.Logger,
	}).Import(ctx, sets)

	summaries := make([]string, 0, len(report.Types))

	for i := range report.Types {
		tr := &report.Types[i]

		// A failed bootstrap means nothing else ran for the doctype; only
		// the warning is reported.
		if tr.BootstrapErr != nil {
			warning := fmt.Sprintf("%s: %s", tr.DocType, importer.Describe(tr.BootstrapErr))
			fmt.Fprintln(cc.Stderr, warning)
			summaries = append(summaries, warning)

			continue
		}

		cc.Printf("%s\n", tr.Summary())

		for _, id := range tr.IDs() {
			cc.Printf("  %s\n", id)
		}

		for _, ferr := range tr.Failures {
			fmt.Fprintf(cc.Stderr, "%s: %s\n", tr.DocType, importer.Describe(ferr))
		}

		summaries = append(summaries, tr.Summary())
	}

	rec.finish(ctx, report.Failed(), strings.Join(summaries, "; "))

	if report.Failed() {
		return errPartialFailure
	}

	return nil
}
