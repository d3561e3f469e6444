package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cozy-ach/internal/config"
)

func newConfigCmd(cc *CLIContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd(cc))

	return cmd
}

func newConfigShowCmd(cc *CLIContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if asJSON {
				// JSON output is for scripts; credentials are left out.
				shown := *cc.Cfg
				shown.Admin.Auth = ""
				shown.Admin.Domains = nil

				enc := json.NewEncoder(cc.Stdout)
				enc.SetIndent("", "  ")

				return enc.Encode(shown)
			}

			return config.RenderEffective(cc.Cfg, cc.Stdout)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")

	return cmd
}
