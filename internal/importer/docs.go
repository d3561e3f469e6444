package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CreatedRef identifies a document created by an import.
type CreatedRef struct {
	ID  string
	Rev string
}

// TypeResult is the outcome of one doctype's pipeline. Created starts with
// the bootstrap document; fan-out documents follow in completion order.
type TypeResult struct {
	DocType      string
	Records      int
	Created      []CreatedRef
	BootstrapErr error   // set when the bootstrap create failed; nothing else ran
	Failures     []error // fan-out failures
}

// Err joins every failure of the doctype, or returns nil.
func (r *TypeResult) Err() error {
	return errors.Join(append([]error{r.BootstrapErr}, r.Failures...)...)
}

// IDs returns the identifiers of the created documents in result order.
func (r *TypeResult) IDs() []string {
	ids := make([]string, 0, len(r.Created))
	for _, c := range r.Created {
		ids = append(ids, c.ID)
	}

	return ids
}

// Summary is the report line for the doctype, e.g.
// "Imported 3 io.cozy.contacts documents".
func (r *TypeResult) Summary() string {
	noun := "documents"
	if len(r.Created) == 1 {
		noun = "document"
	}

	return fmt.Sprintf("Imported %d %s %s", len(r.Created), r.DocType, noun)
}

// ImportReport aggregates every doctype's result, in input order.
type ImportReport struct {
	Types []TypeResult
}

// Failed reports whether any doctype had a failure.
func (r *ImportReport) Failed() bool {
	for i := range r.Types {
		if r.Types[i].Err() != nil {
			return true
		}
	}

	return false
}

// Created counts created documents across all doctypes.
func (r *ImportReport) Created() int {
	n := 0
	for i := range r.Types {
		n += len(r.Types[i].Created)
	}

	return n
}

// DocImporter creates documents doctype by doctype. Every doctype runs its
// own pipeline concurrently with the others: the bootstrap record is created
// alone, so the stack can provision a brand-new collection, and only then are
// the remaining records created in parallel.
type DocImporter struct {
	creator DocCreator
	opts    Options
}

// NewDocImporter creates a DocImporter writing through creator.
func NewDocImporter(creator DocCreator, opts Options) *DocImporter {
	return &DocImporter{creator: creator, opts: opts.withDefaults()}
}

// Import runs every doctype's pipeline and returns once all have settled.
// Failures are contained per doctype and reported, never returned.
func (d *DocImporter) Import(ctx context.Context, sets []RecordSet) *ImportReport {
	report := &ImportReport{Types: make([]TypeResult, len(sets))}

	var g errgroup.Group

	for i := range sets {
		g.Go(func() error {
			report.Types[i] = d.importType(ctx, sets[i])
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // pipelines never return errors

	return report
}

func (d *DocImporter) importType(ctx context.Context, set RecordSet) TypeResult {
	logger := d.opts.Logger.With(slog.String("doctype", set.DocType))
	res := TypeResult{DocType: set.DocType, Records: len(set.Records)}

	bootstrap, rest, ok := set.Split()
	if !ok {
		logger.Info("no documents to import")
		return res
	}

	first, err := d.create(ctx, set.DocType, bootstrap)
	if err != nil {
		logger.Warn("bootstrap document failed, skipping doctype",
			slog.String("error", Describe(err)),
		)

		res.BootstrapErr = fmt.Errorf("importer: bootstrap %s: %w", set.DocType, err)

		return res
	}

	res.Created = append(res.Created, first)

	logger.Debug("bootstrap document created, fanning out", slog.Int("remaining", len(rest)))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)

	g.SetLimit(d.opts.Parallel)

	for _, rec := range rest {
		g.Go(func() error {
			ref, err := d.create(ctx, set.DocType, rec)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				logger.Warn("document create failed", slog.String("error", Describe(err)))
				res.Failures = append(res.Failures, fmt.Errorf("importer: create %s: %w", set.DocType, err))

				return nil
			}

			res.Created = append(res.Created, ref)

			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // failures are collected above

	logger.Info("doctype imported",
		slog.Int("created", len(res.Created)),
		slog.Int("failed", len(res.Failures)),
	)

	return res
}

func (d *DocImporter) create(ctx context.Context, docType string, rec Record) (CreatedRef, error) {
	doc, err := d.creator.CreateDoc(ctx, docType, rec)
	if err != nil {
		return CreatedRef{}, err
	}

	d.opts.Journal.RecordCreated(ctx, docType, "", doc.ID, doc.Rev)

	return CreatedRef{ID: doc.ID, Rev: doc.Rev}, nil
}
