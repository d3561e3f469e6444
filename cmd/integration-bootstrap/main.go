// Bootstraps the token used by the E2E tests: runs the browser
// authorization against ACH_TEST_URL and saves the token to
// .testdata/token.json.
//
// Usage: go run ./cmd/integration-bootstrap --doctypes io.cozy.ach.e2e,io.cozy.files
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/tonimelisma/cozy-ach/internal/stack"
	"github.com/tonimelisma/cozy-ach/internal/tokenfile"
	"github.com/tonimelisma/cozy-ach/testutil"
)

func main() {
	docTypes := flag.String("doctypes", "io.cozy.ach.e2e,io.cozy.files", "comma-separated doctypes to authorize")
	port := flag.Int("port", 0, "callback port (0 for the default)")
	flag.Parse()

	root := testutil.FindModuleRoot(".")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))
	instance := testutil.RequireAllowedInstance()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store := tokenfile.NewStore(filepath.Join(testutil.CredentialDir(root), testutil.TokenFileName))

	a := stack.NewAuthorizer(stack.AuthorizerConfig{
		Store:    store,
		Callback: stack.CallbackConfig{Port: *port},
		Software: stack.Software{Name: "ach-e2e", Version: "dev"},
		Logger:   slog.Default(),
	})

	if _, err := a.AuthorizeNew(ctx, instance, strings.Split(*docTypes, ",")); err != nil {
		fmt.Fprintf(os.Stderr, "authorization failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Token saved to %s\n", store.Path())
}
