package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/icloud-go/internal/icloud"
)

// RunFunc performs one sync pass. syncAll bypasses the incremental ledger.
type RunFunc func(ctx context.Context, syncAll bool) error

// WatchLoop reruns the sync on a fixed interval. Between passes it sleeps
// interruptibly, consuming control commands; during a pass it watches for
// the stop command and cancels mid-stream.
type WatchLoop struct {
	interval time.Duration
	run      RunFunc
	exchange *StatusExchange
	progress *Progress
	notifier Notifier
	logger   *slog.Logger

	// tick is the command-polling granularity. Injectable for tests.
	tick time.Duration
}

// NewWatchLoop builds a watch loop around one pass function.
func NewWatchLoop(
	interval time.Duration,
	run RunFunc,
	exchange *StatusExchange,
	progress *Progress,
	notifier Notifier,
	logger *slog.Logger,
) *WatchLoop {
	if logger == nil {
		logger = slog.Default()
	}

	if notifier == nil {
		notifier = NopNotifier{}
	}

	if progress == nil {
		progress = NewProgress(logger)
	}

	return &WatchLoop{
		interval: interval,
		run:      run,
		exchange: exchange,
		progress: progress,
		notifier: notifier,
		logger:   logger,
		tick:     time.Second,
	}
}

// Run loops until the context ends or a terminal authentication error
// occurs. Per-pass failures are logged and the loop continues; an expired
// trust token parks the loop in NEED_MFA and notifies.
func (w *WatchLoop) Run(ctx context.Context) error {
	syncAll := false

	for {
		err := w.runOnce(ctx, syncAll)
		syncAll = false

		switch {
		case err == nil:
		case errors.Is(err, icloud.ErrFailedLogin), errors.Is(err, icloud.ErrDomainMismatch):
			return err
		case errors.Is(err, icloud.ErrMFARequired), errors.Is(err, ErrMFATimeout):
			// ErrMFATimeout is the prompt-wired equivalent of ErrMFARequired:
			// the exchange asked for a code and nobody supplied one in time.
			w.exchange.Transition(StatusNoInputNeeded, StatusNeedMFA)
			w.logger.Error("authentication required, waiting for code")

			if notifyErr := w.notifier.Notify(ctx, "mfa_required"); notifyErr != nil {
				w.logger.Warn("notifier failed", slog.String("error", notifyErr.Error()))
			}
		case errors.Is(err, context.Canceled) && ctx.Err() == nil:
			w.logger.Info("sync stopped by command")
		default:
			w.logger.Error("sync pass failed", slog.String("error", err.Error()))
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch w.sleep(ctx) {
		case CommandSyncAll:
			syncAll = true
			w.logger.Info("full sync requested")
		case CommandSync:
			w.logger.Info("immediate sync requested")
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// runOnce executes one pass while a sibling goroutine watches for the stop
// command and cancels the pass context.
func (w *WatchLoop) runOnce(ctx context.Context, syncAll bool) error {
	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(passCtx)

	var runErr error

	g.Go(func() error {
		runErr = w.run(passCtx, syncAll)
		cancel()

		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(w.tick):
				cmd, ok := w.exchange.Poll()
				if !ok {
					continue
				}

				if cmd == CommandStop {
					w.logger.Info("stop command received, canceling pass")
					cancel()

					return nil
				}

				// Not ours to handle mid-pass; leave it for the sleep window.
				w.exchange.Send(cmd)
			}
		}
	})

	_ = g.Wait()

	return runErr
}

// sleep waits out the interval at one-tick granularity, reporting the
// remaining time and returning early on a sync command.
func (w *WatchLoop) sleep(ctx context.Context) Command {
	total := int(w.interval / w.tick)

	for remaining := total; remaining > 0; remaining-- {
		w.progress.Waiting(remaining)

		if cmd, ok := w.exchange.Poll(); ok {
			switch cmd {
			case CommandSync, CommandSyncAll:
				w.progress.Waiting(0)
				return cmd
			case CommandStop:
				// Nothing running; ignore.
			}
		}

		select {
		case <-ctx.Done():
			return ""
		case <-time.After(w.tick):
		}
	}

	w.progress.Waiting(0)

	return ""
}
