package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext cancels on the first SIGINT/SIGTERM so the pass can stop
// at the next safe point; a second signal exits immediately, for the case
// where a download hangs on a dead connection.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		for seen := 0; ; {
			select {
			case sig := <-sigCh:
				seen++

				if seen == 1 {
					logger.Info("received signal, shutting down",
						slog.String("signal", sig.String()),
					)
					cancel()

					continue
				}

				logger.Warn("received second signal, forcing exit",
					slog.String("signal", sig.String()),
				)
				os.Exit(1)
			case <-parent.Done():
				return
			}
		}
	}()

	return ctx
}
