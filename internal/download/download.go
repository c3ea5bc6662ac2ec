// Package download writes one remote size variant to the local filesystem
// with retry, byte-level resume via .part files, atomic rename, and mtime
// restoration.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tonimelisma/icloud-go/internal/icloud"
)

// Retry constants. Session-expiry retries are counted separately from
// user-visible attempts so a re-auth never consumes the retry budget.
const (
	MaxRetries = 5
	WaitUnit   = 5 * time.Second
)

// chunkSize bounds each copy step so memory stays flat and the rate
// limiter sees steady traffic.
const chunkSize = 1024

// PartSuffix marks in-progress downloads.
const PartSuffix = ".part"

// dirPerms applies to created media directories, filePerms to media files.
const (
	dirPerms  = 0o755
	filePerms = 0o644
)

// Opener starts the remote stream at a byte offset. Offset zero means the
// whole file; positive offsets request a Range continuation.
type Opener func(ctx context.Context, from int64) (*http.Response, error)

// Downloader drives single-variant downloads.
type Downloader struct {
	limiter *Limiter
	logger  *slog.Logger

	// sleepFunc is called to wait between retries. Injectable for tests.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates a downloader. limiter may be nil for unlimited throughput.
func New(limiter *Limiter, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Downloader{
		limiter:   limiter,
		logger:    logger,
		sleepFunc: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Run downloads one variant to target. Partial state lives in target+".part"
// and survives failures for the next resume. Returns true when the file was
// written (or would have been, under dryRun).
func (d *Downloader) Run(ctx context.Context, open Opener, target string, mtime time.Time, dryRun bool) (bool, error) {
	if dryRun {
		d.logger.Info("would download", slog.String("path", target))
		return true, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), dirPerms); err != nil {
		return false, fmt.Errorf("download: creating directory for %s: %w", target, err)
	}

	var sessionRetries int

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		err := d.runOnce(ctx, open, target, mtime)
		if err == nil {
			return true, nil
		}

		if ctx.Err() != nil {
			return false, fmt.Errorf("download: canceled: %w", ctx.Err())
		}

		// Re-auth already happened inside the transport; retry without
		// spending an attempt.
		if icloud.IsSessionExpired(err) && sessionRetries < MaxRetries {
			sessionRetries++
			attempt--

			d.logger.Warn("session expired mid-download, retrying",
				slog.String("path", target),
			)

			continue
		}

		if !retriable(err) || attempt == MaxRetries {
			return false, err
		}

		wait := WaitUnit * time.Duration(attempt+1)
		d.logger.Warn("download failed, retrying",
			slog.String("path", target),
			slog.Int("attempt", attempt+1),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)

		if sleepErr := d.sleepFunc(ctx, wait); sleepErr != nil {
			return false, fmt.Errorf("download: canceled: %w", sleepErr)
		}
	}

	return false, nil
}

// retriable reports whether a failure is worth another attempt: transport
// errors, vendor internal errors, and interrupted streams. Local write
// failures (disk full, permissions) are terminal.
func retriable(err error) bool {
	var wf *writeFailure
	if errors.As(err, &wf) {
		return false
	}

	if icloud.IsConnectionError(err) || icloud.IsInternalError(err) {
		return true
	}

	var se *streamError
	return errors.As(err, &se)
}

// writeFailure marks local filesystem errors.
type writeFailure struct{ err error }

func (e *writeFailure) Error() string { return "download: writing file: " + e.err.Error() }
func (e *writeFailure) Unwrap() error { return e.err }

// streamError marks a remote stream that broke mid-copy.
type streamError struct{ err error }

func (e *streamError) Error() string { return "download: stream interrupted: " + e.err.Error() }
func (e *streamError) Unwrap() error { return e.err }

// runOnce performs a single download attempt with resume.
func (d *Downloader) runOnce(ctx context.Context, open Opener, target string, mtime time.Time) error {
	partPath := target + PartSuffix

	var offset int64
	if info, err := os.Stat(partPath); err == nil {
		offset = info.Size()
	}

	resp, err := open(ctx, offset)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the range; restart from scratch.
		offset = 0
	case http.StatusPartialContent:
		d.logger.Debug("resuming partial download",
			slog.String("path", target),
			slog.Int64("offset", offset),
		)
	default:
		return fmt.Errorf("download: unexpected status %d for %s", resp.StatusCode, target)
	}

	if err := d.writePart(ctx, resp.Body, partPath, offset); err != nil {
		return err
	}

	if err := os.Rename(partPath, target); err != nil {
		return &writeFailure{err: err}
	}

	if !mtime.IsZero() {
		if err := os.Chtimes(target, time.Now(), mtime); err != nil {
			d.logger.Debug("could not set mtime", slog.String("path", target))
		}
	}

	d.logger.Info("downloaded", slog.String("path", target))

	return nil
}

// writePart copies the stream into the .part file, appending past offset.
func (d *Downloader) writePart(ctx context.Context, body io.Reader, partPath string, offset int64) error {
	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(partPath, flags, filePerms)
	if err != nil {
		return &writeFailure{err: err}
	}

	src := d.limiter.WrapReader(ctx, body)
	buf := make([]byte, chunkSize)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				f.Close()
				return &writeFailure{err: writeErr}
			}
		}

		if readErr == io.EOF {
			break
		}

		if readErr != nil {
			f.Close()
			return &streamError{err: readErr}
		}
	}

	if err := f.Close(); err != nil {
		return &writeFailure{err: err}
	}

	return nil
}

// PartSize returns the size of an in-progress download, or zero when none
// exists.
func PartSize(target string) int64 {
	info, err := os.Stat(target + PartSuffix)
	if err != nil {
		return 0
	}

	return info.Size()
}
