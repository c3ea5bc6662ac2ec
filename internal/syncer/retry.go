package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tonimelisma/icloud-go/internal/icloud"
)

// Retry constants shared by the driver and the remote-delete path.
const (
	maxRetries = 5
	waitUnit   = 5 * time.Second
)

// ReauthFunc re-establishes the authenticated session in place.
type ReauthFunc func(ctx context.Context) error

// Retrier wraps remote mutations with the session and internal-error
// handlers: an expired global session re-authenticates and retries, vendor
// INTERNAL_ERROR and transport failures back off linearly, anything else
// propagates immediately.
type Retrier struct {
	reauth ReauthFunc
	logger *slog.Logger

	// wait scales the linear backoff. Tests shrink it to keep runs fast.
	wait time.Duration
}

// NewRetrier builds a retrier around the given re-authentication hook.
func NewRetrier(reauth ReauthFunc, logger *slog.Logger) *Retrier {
	if logger == nil {
		logger = slog.Default()
	}

	return &Retrier{
		reauth: reauth,
		logger: logger,
		wait:   waitUnit,
	}
}

// Do runs op, retrying recoverable failures up to maxRetries times.
func (r *Retrier) Do(ctx context.Context, op func(context.Context) error) error {
	attempt := 0

	backoff := retry.WithMaxRetries(maxRetries, retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return r.wait * time.Duration(attempt), false
	}))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := op(ctx)

		switch {
		case err == nil:
			return nil
		case icloud.IsSessionExpired(err):
			r.logger.Info("session expired, re-authenticating")

			if r.reauth != nil {
				if reauthErr := r.reauth(ctx); reauthErr != nil {
					return reauthErr
				}
			}

			return retry.RetryableError(err)
		case icloud.IsInternalError(err) || icloud.IsConnectionError(err):
			r.logger.Warn("recoverable error, retrying",
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)

			return retry.RetryableError(err)
		default:
			return err
		}
	})
}
