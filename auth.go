package main

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cozy-ach/internal/stack"
	"github.com/tonimelisma/cozy-ach/internal/tokenfile"
)

var (
	errNoStoredToken = errors.New("no stored token found; use the new-token option (-t)")
	errNoURL         = errors.New("no instance URL configured; set url in the config file, ACH_URL, or --url")
)

func newLoginCmd(cc *CLIContext) *cobra.Command {
	var docTypes []string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize in the browser and save a token for the given doctypes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := cc.commandContext(cmd)
			defer stop()

			if _, err := cc.obtainClient(ctx, true, docTypes); err != nil {
				return err
			}

			cc.Statusf("Token saved to %s\n", cc.Cfg.TokenFile)

			return nil
		},
	}

	cmd.Flags().StringSliceVar(&docTypes, "doctypes", nil, "doctypes to request access to (comma-separated)")
	_ = cmd.MarkFlagRequired("doctypes") //nolint:errcheck // flag is defined above

	return cmd
}

func newLogoutCmd(cc *CLIContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved token",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			store := tokenfile.NewStore(cc.Cfg.TokenFile)
			if err := store.Remove(); err != nil {
				return err
			}

			cc.Logger.Info("token removed", "path", store.Path())
			cc.Statusf("Logged out.\n")

			return nil
		},
	}
}

// addNewTokenFlag registers -t/--new-token on a command that talks to the
// instance.
func addNewTokenFlag(cmd *cobra.Command, target *bool) {
	cmd.Flags().BoolVarP(target, "new-token", "t", false, "authorize in the browser instead of using the saved token")
}

// authorizer builds an Authorizer from the resolved configuration.
func (cc *CLIContext) authorizer() *stack.Authorizer {
	return stack.NewAuthorizer(stack.AuthorizerConfig{
		Store:      tokenfile.NewStore(cc.Cfg.TokenFile),
		HTTPClient: cc.httpClient(),
		Callback: stack.CallbackConfig{
			Port:       cc.Cfg.Callback.Port,
			PathPrefix: cc.Cfg.Callback.Path,
		},
		Software:   stack.Software{Name: "ach", Version: version},
		UserAgent:  cc.userAgent(),
		MaxRetries: cc.Cfg.Network.MaxRetries,
		OpenURL:    cc.OpenURL,
		Logger:     cc.Logger,
	})
}

// obtainClient returns a client for the configured instance. With newToken
// it runs the browser authorization for docTypes and saves the token;
// otherwise it uses the saved token without touching the network.
func (cc *CLIContext) obtainClient(ctx context.Context, newToken bool, docTypes []string) (*stack.Client, error) {
	if cc.Cfg.URL == "" {
		return nil, errNoURL
	}

	a := cc.authorizer()

	var (
		client *stack.Client
		err    error
	)

	if newToken {
		cc.Statusf("Authorizing %s for %s\n", cc.Cfg.URL, strings.Join(docTypes, ", "))
		client, err = a.AuthorizeNew(ctx, cc.Cfg.URL, docTypes)
	} else {
		client, err = a.AuthorizeFromStored(cc.Cfg.URL)
		if errors.Is(err, tokenfile.ErrNotFound) {
			return nil, errNoStoredToken
		}
	}

	if err != nil {
		return nil, err
	}

	// The authorizer treats zero as "use the default"; the config value is
	// authoritative here, including an explicit zero.
	client.SetMaxRetries(cc.Cfg.Network.MaxRetries)

	return client, nil
}
