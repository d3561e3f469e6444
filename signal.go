package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. In-flight requests get a chance to finish
// their bookkeeping (journal, report) after the first signal. The returned
// stop function releases the signal handler.
func shutdownContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, canceling", slog.String("signal", sig.String()))
			cancel()
		case <-done:
			return
		case <-parent.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit", slog.String("signal", sig.String()))
			os.Exit(1)
		case <-done:
			return
		}
	}()

	var stopped bool

	stop := func() {
		if !stopped {
			stopped = true
			close(done)
		}

		cancel()
	}

	return ctx, stop
}
