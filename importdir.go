package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cozy-ach/internal/importer"
)

func newImportDirCmd(cc *CLIContext) *cobra.Command {
	var (
		newToken bool
		excludes []string
	)

	cmd := &cobra.Command{
		Use:   "importdir <dir|tree.json|tree.yaml>",
		Short: "Upload a directory tree into the instance's files",
		Long: "Upload a local directory, or a tree described in a JSON or YAML file, into\n" +
			"the root of the instance's files. Folders are created before their\n" +
			"contents; siblings upload in parallel.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("exclude") {
				excludes = cc.Cfg.Upload.Exclude
			}

			return runImportDir(cmd, cc, args[0], excludes, newToken)
		},
	}

	addNewTokenFlag(cmd, &newToken)
	cmd.Flags().StringArrayVar(&excludes, "exclude", nil,
		"glob of paths to skip when walking a directory (repeatable; replaces the defaults)")

	return cmd
}

// loadTreeArg walks path when it is a directory and decodes it as a tree
// description otherwise.
func loadTreeArg(path string, excludes []string) (*importer.Node, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if info.IsDir() {
		return importer.BuildTree(path, excludes)
	}

	return importer.LoadTree(path)
}

func runImportDir(cmd *cobra.Command, cc *CLIContext, path string, excludes []string, newToken bool) error {
	root, err := loadTreeArg(path, excludes)
	if err != nil {
		return err
	}

	ctx, stop := cc.commandContext(cmd)
	defer stop()

	client, err := cc.obtainClient(ctx, newToken, []string{importer.FilesCollection})
	if err != nil {
		return err
	}

	rec := cc.beginRun(ctx, "importdir")

	report := importer.NewTreeUploader(client, importer.Options{
		Parallel: cc.Cfg.Upload.Parallel,
		Journal:  rec.hook(),
		Logger:   cc.Logger,
	}).Upload(ctx, root)

	for _, nerr := range report.Errors {
		fmt.Fprintf(cc.Stderr, "%s: %s\n", nerr.Path, importer.Describe(nerr.Err))
	}

	cc.Printf("%s\n", report.Summary())
	cc.Statusf("%d folders, %d files, %d errors\n", report.Folders, report.Files, len(report.Errors))

	rec.finish(ctx, report.Failed(), report.Summary())

	if report.Failed() {
		return errPartialFailure
	}

	return nil
}
