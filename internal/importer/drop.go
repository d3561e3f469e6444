package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/cozy-ach/internal/stack"
)

// allDocsSelector matches every regular document of a doctype.
var allDocsSelector = map[string]any{"_id": map[string]any{"$gt": nil}}

// DropResult is the outcome of emptying one doctype.
type DropResult struct {
	DocType  string
	Total    int     // documents found
	Deleted  int     // documents the stack confirmed deleted
	Err      error   // listing failed; nothing was deleted
	Failures []error // individual delete failures
}

// Summary is the report line, "Deleted k/n documents.".
func (r *DropResult) Summary() string {
	return fmt.Sprintf("Deleted %d/%d documents.", r.Deleted, r.Total)
}

// Failed reports whether anything went wrong for the doctype.
func (r *DropResult) Failed() bool {
	return r.Err != nil || len(r.Failures) > 0
}

// JoinedErr joins every failure of the doctype, or returns nil.
func (r *DropResult) JoinedErr() error {
	return errors.Join(append([]error{r.Err}, r.Failures...)...)
}

// Dropper deletes every document of the given doctypes.
type Dropper struct {
	client CollectionClient
	opts   Options
}

// NewDropper creates a Dropper working through client.
func NewDropper(client CollectionClient, opts Options) *Dropper {
	return &Dropper{client: client, opts: opts.withDefaults()}
}

// Drop empties every doctype concurrently. For each one it defines an index
// on _id, lists all documents with their revision and deletes them in
// parallel. Results are in input order.
func (d *Dropper) Drop(ctx context.Context, docTypes []string) []DropResult {
	results := make([]DropResult, len(docTypes))

	var g errgroup.Group

	for i, dt := range docTypes {
		g.Go(func() error {
			results[i] = d.dropOne(ctx, dt)
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // per-doctype failures live in the results

	return results
}

func (d *Dropper) dropOne(ctx context.Context, docType string) DropResult {
	logger := d.opts.Logger.With(slog.String("doctype", docType))
	res := DropResult{DocType: docType}

	docs, err := d.list(ctx, docType)
	if err != nil {
		logger.Warn("listing documents failed", slog.String("error", Describe(err)))
		res.Err = err

		return res
	}

	res.Total = len(docs)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)

	g.SetLimit(d.opts.Parallel)

	for _, doc := range docs {
		g.Go(func() error {
			dr, err := d.client.DeleteDoc(ctx, docType, doc.ID, doc.Rev)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				res.Failures = append(res.Failures, fmt.Errorf("importer: delete %s/%s: %w", docType, doc.ID, err))
				return nil
			}

			if dr.Deleted {
				res.Deleted++
			}

			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // failures are collected above

	logger.Info("doctype dropped",
		slog.Int("deleted", res.Deleted),
		slog.Int("total", res.Total),
		slog.Int("failed", len(res.Failures)),
	)

	return res
}

func (d *Dropper) list(ctx context.Context, docType string) ([]stack.Doc, error) {
	idx, err := d.client.DefineIndex(ctx, docType, []string{"_id"})
	if err != nil {
		return nil, fmt.Errorf("importer: defining index on %s: %w", docType, err)
	}

	docs, err := d.client.FindDocs(ctx, idx, stack.FindQuery{
		Selector: allDocsSelector,
		Fields:   []string{"_id", "_rev"},
	})
	if err != nil {
		return nil, fmt.Errorf("importer: listing %s: %w", docType, err)
	}

	out := docs[:0]

	for _, doc := range docs {
		if doc.ID == "" {
			continue
		}

		out = append(out, doc)
	}

	if len(out) < len(docs) {
		d.opts.Logger.Debug("skipped documents without id", slog.Int("count", len(docs)-len(out)))
	}

	return out, nil
}
