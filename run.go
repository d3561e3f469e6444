package main

import (
	"context"
	"log/slog"

	"github.com/tonimelisma/cozy-ach/internal/importer"
	"github.com/tonimelisma/cozy-ach/internal/journal"
)

// runRecord ties one command invocation to a journal run. A zero runRecord
// (journal disabled or unavailable) records nothing.
type runRecord struct {
	store  *journal.Store
	run    *journal.Run
	logger *slog.Logger
}

// beginRun opens the journal and starts a run of the given kind. Journal
// problems are logged and never stop the command.
func (cc *CLIContext) beginRun(ctx context.Context, kind string) *runRecord {
	rec := &runRecord{logger: cc.Logger}

	if !cc.Cfg.Journal.Enabled {
		return rec
	}

	store, err := journal.Open(ctx, cc.Cfg.Journal.ResolvedPath(), cc.Logger)
	if err != nil {
		cc.Logger.Warn("journal unavailable", slog.String("error", err.Error()))
		return rec
	}

	run, err := store.BeginRun(ctx, kind, cc.Cfg.URL)
	if err != nil {
		cc.Logger.Warn("journal unavailable", slog.String("error", err.Error()))
		store.Close()

		return rec
	}

	rec.store = store
	rec.run = run

	return rec
}

// hook returns the importer's journal hook, or nil when nothing is recorded.
func (r *runRecord) hook() importer.Journal {
	if r.run == nil {
		return nil
	}

	return r.run
}

// finish records the outcome and closes the journal. It runs on a context
// detached from cancellation so an interrupted run is still closed out.
func (r *runRecord) finish(ctx context.Context, failed bool, summary string) {
	if r.run == nil {
		return
	}

	defer r.store.Close()

	status := journal.StatusSucceeded
	if failed {
		status = journal.StatusFailed
	}

	if err := r.run.Finish(context.WithoutCancel(ctx), status, summary); err != nil {
		r.logger.Warn("journal finish failed", slog.String("run", r.run.ID), slog.String("error", err.Error()))
	}
}
