// Package importer performs bulk writes against a stack: document imports
// with a bootstrap-then-fan-out strategy per doctype, recursive file tree
// uploads, and doctype-wide deletes. Failures are contained per unit of work
// (doctype, tree node) and collected into reports instead of aborting
// siblings.
package importer

import (
	"context"
	"io"
	"log/slog"

	"github.com/tonimelisma/cozy-ach/internal/stack"
)

// DefaultParallel bounds concurrent requests when Options.Parallel is unset.
const DefaultParallel = 8

// DocCreator creates documents. Satisfied by *stack.Client.
type DocCreator interface {
	CreateDoc(ctx context.Context, docType string, fields map[string]any) (*stack.Doc, error)
}

// TreeCreator creates directories and files. Satisfied by *stack.Client.
type TreeCreator interface {
	CreateDirectory(ctx context.Context, name, dirID string) (*stack.File, error)
	CreateFile(ctx context.Context, r io.Reader, opts stack.FileOptions) (*stack.File, error)
}

// CollectionClient lists and deletes the documents of a doctype. Satisfied by
// *stack.Client.
type CollectionClient interface {
	DefineIndex(ctx context.Context, docType string, fields []string) (*stack.Index, error)
	FindDocs(ctx context.Context, index *stack.Index, q stack.FindQuery) ([]stack.Doc, error)
	DeleteDoc(ctx context.Context, docType, id, rev string) (*stack.DeleteResult, error)
}

// Journal receives every successfully created remote object. Implementations
// must be safe for concurrent use and must not fail the caller.
type Journal interface {
	RecordCreated(ctx context.Context, collection, name, remoteID, rev string)
}

// Options tunes the engines in this package.
type Options struct {
	// Parallel bounds in-flight requests. <= 0 means DefaultParallel.
	Parallel int
	// Journal is optional.
	Journal Journal
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Parallel <= 0 {
		o.Parallel = DefaultParallel
	}

	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	if o.Journal == nil {
		o.Journal = nopJournal{}
	}

	return o
}

type nopJournal struct{}

func (nopJournal) RecordCreated(context.Context, string, string, string, string) {}
