package download

import (
	"context"
	"io"
	"log/slog"

	"golang.org/x/time/rate"
)

// burstMultiplier sizes the token bucket burst relative to the per-second
// rate, letting short savings be spent on the next read without raising
// sustained throughput.
const burstMultiplier = 2

// Limiter caps aggregate download throughput. A nil limiter is unlimited;
// every method is nil-safe.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter creates a limiter for the given bytes-per-second budget.
// Returns nil for zero or negative budgets (unlimited).
func NewLimiter(bytesPerSec int64, logger *slog.Logger) *Limiter {
	if bytesPerSec <= 0 {
		return nil
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("bandwidth limiter enabled",
		slog.Int64("bytes_per_sec", bytesPerSec),
	)

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec)*burstMultiplier),
	}
}

// WrapReader returns a rate-limited view of r.
func (l *Limiter) WrapReader(ctx context.Context, r io.Reader) io.Reader {
	if l == nil {
		return r
	}

	return &limitedReader{r: r, limiter: l.limiter, ctx: ctx}
}

// limitedReader blocks after each read until the bucket allows the bytes
// consumed.
type limitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (lr *limitedReader) Read(p []byte) (int, error) {
	// Cap the read at the burst size so WaitN never fails outright.
	if burst := lr.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}

	n, err := lr.r.Read(p)
	if n > 0 {
		if waitErr := lr.limiter.WaitN(lr.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}

	return n, err
}
