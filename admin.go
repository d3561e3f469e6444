package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cozy-ach/internal/admin"
)

func newTokenCmd(cc *CLIContext) *cobra.Command {
	return &cobra.Command{
		Use:   "token <domain> <doctype>...",
		Short: "Issue a CLI token for an instance through the admin API",
		Long: "Ask the admin API for a CLI token on <domain> scoped to the given doctypes\n" +
			"and print it. The admin endpoint comes from [admin] in the config file,\n" +
			"with per-domain overrides under [admin.domains].",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cc.adminClient(args[0])
			if err != nil {
				return err
			}

			ctx, stop := cc.commandContext(cmd)
			defer stop()

			token, err := client.CreateToken(ctx, args[0], args[1:])
			if err != nil {
				return err
			}

			cc.Printf("%s\n", token)

			return nil
		},
	}
}

func newDebugCmd(cc *CLIContext) *cobra.Command {
	return &cobra.Command{
		Use:       "debug <domain> on|off",
		Short:     "Toggle debug logging for an instance through the admin API",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			domain, state := args[0], args[1]
			if state != "on" && state != "off" {
				return fmt.Errorf("debug: expected on or off, got %q", state)
			}

			client, err := cc.adminClient(domain)
			if err != nil {
				return err
			}

			ctx, stop := cc.commandContext(cmd)
			defer stop()

			if state == "on" {
				err = client.EnableDebug(ctx, domain)
			} else {
				err = client.DisableDebug(ctx, domain)
			}

			if err != nil {
				return err
			}

			cc.Statusf("Debug %s for %s\n", state, domain)

			return nil
		},
	}
}

// adminClient builds an admin client for the endpoint configured for domain.
func (cc *CLIContext) adminClient(domain string) (*admin.Client, error) {
	ep := cc.Cfg.Admin.For(domain)

	return admin.NewClient(admin.Endpoint{
		URL:     ep.URL,
		Auth:    ep.Auth,
		Timeout: cc.Cfg.Network.TimeoutDuration(),
	}, cc.Logger)
}
