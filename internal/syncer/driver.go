package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tonimelisma/icloud-go/internal/download"
	"github.com/tonimelisma/icloud-go/internal/icloud"
	"github.com/tonimelisma/icloud-go/internal/ledger"
	"github.com/tonimelisma/icloud-go/internal/naming"
	"github.com/tonimelisma/icloud-go/internal/photos"
)

// errorDumpFile receives the raw records of an asset the decoder could not
// make sense of.
const errorDumpFile = "icloud-go-photo-error.json"

// Options fix the behavior of one sync pass.
type Options struct {
	Account   string
	Directory string
	Library   string
	Album     string

	Sizes         []photos.VersionSize
	ForceSize     bool
	LivePhotoSize photos.LivePhotoSize
	LivePhotoName naming.LivePhotoPolicy
	RawPolicy     photos.RawPolicy

	SkipVideos     bool
	SkipPhotos     bool
	SkipLivePhotos bool

	// Recent caps iteration; negative means no cap, zero processes nothing.
	Recent int

	// UntilFound stops after this many consecutive existing files; zero
	// never terminates on the counter.
	UntilFound int

	SkipCreatedBefore time.Time
	SkipCreatedAfter  time.Time

	FolderTemplate  string
	FileMatchPolicy naming.FileMatchPolicy
	KeepUnicode     bool

	DeleteAfterDownload bool
	AutoDelete          bool

	// KeepRecentDays guards delete-after-download; negative disables the
	// guard, zero keeps nothing.
	KeepRecentDays int

	OnlyPrintFilenames bool
	SetExifDatetime    bool
	DryRun             bool

	// Timezone for folder templating and mtimes; nil means time.Local.
	Timezone *time.Location
}

// Stats summarizes one pass.
type Stats struct {
	Checked    int
	Skipped    int
	Existing   int
	Downloaded int
	Deleted    int
}

// Deps are the driver's collaborators beyond the photo service itself.
// Optional fields may be nil.
type Deps struct {
	Reauth   ReauthFunc
	Ledger   *ledger.Store
	Progress *Progress
	Exif     ExifWriter
	Logger   *slog.Logger
	Stdout   io.Writer
}

// Driver performs one full pass over the selected album per Run call.
type Driver struct {
	opts       Options
	service    *photos.Service
	downloader *download.Downloader
	retrier    *Retrier
	reauth     ReauthFunc
	ledger     *ledger.Store
	progress   *Progress
	exif       ExifWriter
	logger     *slog.Logger
	stdout     io.Writer
	cleaner    naming.Cleaner

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error

	// dumpDir holds the photo-error dump; defaults to the working directory.
	dumpDir string
}

// NewDriver builds a driver for the given options and service.
func NewDriver(opts Options, service *photos.Service, downloader *download.Downloader, deps Deps) *Driver {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	progress := deps.Progress
	if progress == nil {
		progress = NewProgress(logger)
	}

	stdout := deps.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	return &Driver{
		opts:       opts,
		service:    service,
		downloader: downloader,
		retrier:    NewRetrier(deps.Reauth, logger),
		reauth:     deps.Reauth,
		ledger:     deps.Ledger,
		progress:   progress,
		exif:       deps.Exif,
		logger:     logger,
		stdout:     stdout,
		cleaner:    naming.NewCleaner(opts.KeepUnicode),
		nowFunc:    time.Now,
		sleepFunc:  sleepCtx,
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

func (d *Driver) timezone() *time.Location {
	if d.opts.Timezone != nil {
		return d.opts.Timezone
	}

	return time.Local
}

// Run performs one pass. syncAll bypasses the incremental ledger so every
// existence decision falls back to the filesystem.
func (d *Driver) Run(ctx context.Context, syncAll bool) (Stats, error) {
	var stats Stats

	library, err := d.service.Library(ctx, d.opts.Library)
	if err != nil {
		return stats, err
	}

	if err := library.IndexReady(ctx); err != nil {
		return stats, err
	}

	album, err := library.Album(ctx, d.opts.Album)
	if err != nil {
		return stats, err
	}

	total := d.opts.Recent
	if total < 0 {
		if total, err = album.Count(ctx); err != nil {
			return stats, err
		}
	}

	d.progress.StartPass(total)
	defer d.progress.FinishPass()

	iter, err := album.Photos(ctx, d.pageRetryHandler(ctx))
	if err != nil {
		return stats, err
	}

	var counter Counter
	processed := 0

	for {
		if ctx.Err() != nil {
			return stats, fmt.Errorf("syncer: pass canceled: %w", ctx.Err())
		}

		if d.opts.Recent >= 0 && processed >= d.opts.Recent {
			break
		}

		asset, ok, err := iter.Next(ctx)
		if err != nil {
			return stats, err
		}

		if !ok {
			break
		}

		processed++
		stats.Checked++
		d.progress.Checked()

		if reason := d.filterReason(asset); reason != "" {
			stats.Skipped++
			d.logger.Debug("skipping asset",
				slog.String("id", asset.ID()),
				slog.String("reason", reason),
			)

			continue
		}

		downloaded, err := d.processAsset(ctx, library, asset, &counter, &stats, syncAll)
		if err != nil {
			return stats, err
		}

		if downloaded && d.opts.DeleteAfterDownload {
			if err := d.deleteRemote(ctx, library, asset, &stats); err != nil {
				return stats, err
			}
		}

		if d.opts.UntilFound > 0 && counter.Consecutive() >= d.opts.UntilFound {
			d.logger.Info("found consecutive existing files, ending pass",
				slog.Int("count", counter.Consecutive()),
			)

			break
		}
	}

	if d.opts.AutoDelete {
		if err := d.autoDelete(ctx, library); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

// filterReason returns a non-empty skip reason for assets the configuration
// excludes.
func (d *Driver) filterReason(asset *photos.Asset) string {
	switch asset.ItemType() {
	case photos.ItemUnknown:
		return "unknown item type"
	case photos.ItemMovie:
		if d.opts.SkipVideos {
			return "videos skipped"
		}
	case photos.ItemImage:
		if d.opts.SkipPhotos {
			return "photos skipped"
		}
	}

	created := asset.CreatedAt()

	if !d.opts.SkipCreatedBefore.IsZero() && created.Before(d.opts.SkipCreatedBefore) {
		return "created before threshold"
	}

	if !d.opts.SkipCreatedAfter.IsZero() && !created.Before(d.opts.SkipCreatedAfter) {
		return "created after threshold"
	}

	return ""
}

// localName runs the filename pipeline: decode, clean, policy suffix.
func (d *Driver) localName(asset *photos.Asset) string {
	cleaned := d.cleaner(asset.Filename())
	return naming.ApplyFileMatchPolicy(d.opts.FileMatchPolicy, asset.ID(), cleaned)
}

// processAsset probes and downloads every requested variant of one asset.
// Returns whether anything was actually fetched.
func (d *Driver) processAsset(
	ctx context.Context,
	library *photos.Library,
	asset *photos.Asset,
	counter *Counter,
	stats *Stats,
	syncAll bool,
) (bool, error) {
	versions := asset.Versions(d.opts.RawPolicy)

	if _, ok := versions[photos.SizeOriginal]; !ok {
		stats.Skipped++
		d.dumpRecords(asset)

		return false, nil
	}

	createdLocal := asset.CreatedAt().In(d.timezone())
	downloadDir := filepath.Join(d.opts.Directory, naming.FolderLayout(d.opts.FolderTemplate, createdLocal))
	baseName := d.localName(asset)

	anyDownloaded := false

	for _, size := range d.opts.Sizes {
		version, present := versions[size]
		realSize := size

		if !present {
			if d.opts.ForceSize {
				d.logger.Debug("size not available, skipping",
					slog.String("id", asset.ID()),
					slog.String("size", string(size)),
				)

				continue
			}

			realSize = photos.SizeOriginal
			version = versions[photos.SizeOriginal]
		}

		target := filepath.Join(downloadDir, naming.SizeSuffixed(baseName, string(realSize)))

		if err := d.captureVariant(ctx, asset.ID(), version, target, createdLocal, counter, stats, syncAll, &anyDownloaded); err != nil {
			return anyDownloaded, err
		}
	}

	if asset.HasLivePhoto() && !d.opts.SkipLivePhotos {
		if version, ok := asset.LivePhotoVersion(d.opts.LivePhotoSize); ok {
			name := naming.LivePhotoMovieName(baseName, d.opts.LivePhotoName)
			if d.opts.LivePhotoSize != photos.LiveOriginal {
				name = naming.SizeSuffixed(name, string(d.opts.LivePhotoSize))
			}

			target := filepath.Join(downloadDir, name)

			if err := d.captureVariant(ctx, asset.ID(), version, target, createdLocal, counter, stats, syncAll, &anyDownloaded); err != nil {
				return anyDownloaded, err
			}
		}
	}

	return anyDownloaded, nil
}

// captureVariant probes one target path and downloads it when absent.
func (d *Driver) captureVariant(
	ctx context.Context,
	assetID string,
	version photos.Version,
	target string,
	createdLocal time.Time,
	counter *Counter,
	stats *Stats,
	syncAll bool,
	anyDownloaded *bool,
) error {
	finalTarget, exists := d.probeExistence(ctx, target, version.Size, syncAll)
	if exists {
		counter.Hit()
		stats.Existing++
		d.logger.Debug("already exists",
			slog.String("path", naming.TruncateMiddle(finalTarget, logPathLength)),
		)

		return nil
	}

	counter.Reset()

	if d.opts.OnlyPrintFilenames {
		fmt.Fprintln(d.stdout, finalTarget)
		return nil
	}

	d.progress.Enqueued()

	opener := func(ctx context.Context, from int64) (*http.Response, error) {
		return d.service.Download(ctx, version, from)
	}

	ok, err := d.downloader.Run(ctx, opener, finalTarget, createdLocal, d.opts.DryRun)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("syncer: pass canceled: %w", ctx.Err())
		}

		// One ERROR line per failed variant; the pass continues.
		d.logger.Error("download failed",
			slog.String("path", naming.TruncateMiddle(finalTarget, logPathLength)),
			slog.String("error", err.Error()),
		)

		return nil
	}

	if !ok {
		return nil
	}

	*anyDownloaded = true
	stats.Downloaded++
	d.progress.Downloaded(finalTarget)

	if !d.opts.DryRun {
		d.recordCapture(ctx, finalTarget, assetID, version.Size)
		d.applyExif(finalTarget, createdLocal)
	}

	return nil
}

// recordCapture writes the downloaded variant into the incremental ledger.
func (d *Driver) recordCapture(ctx context.Context, target, assetID string, size int64) {
	if d.ledger == nil {
		return
	}

	if err := d.ledger.Record(ctx, d.opts.Account, target, assetID, size); err != nil {
		d.logger.Warn("could not record capture", slog.String("error", err.Error()))
	}
}

// applyExif writes the capture datetime into JPEG files lacking one.
func (d *Driver) applyExif(target string, createdLocal time.Time) {
	if !d.opts.SetExifDatetime || d.exif == nil || !isJpegLike(target) {
		return
	}

	if d.exif.HasDatetime(target) {
		return
	}

	if err := d.exif.WriteDatetime(target, createdLocal); err != nil {
		d.logger.Warn("could not write exif datetime",
			slog.String("path", naming.TruncateMiddle(target, logPathLength)),
			slog.String("error", err.Error()),
		)
	}
}

func isJpegLike(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return true
	default:
		return false
	}
}

// probeExistence decides whether the variant is already on disk, returning
// the path a new download should use. A file at the plain name with the
// wrong size moves the write to the byte-size-suffixed form so both copies
// coexist.
func (d *Driver) probeExistence(ctx context.Context, target string, size int64, syncAll bool) (string, bool) {
	if d.ledger != nil && !syncAll {
		if seen, err := d.ledger.Seen(ctx, d.opts.Account, target, size); err == nil && seen {
			if fileHasSize(target, size) {
				return target, true
			}

			// Local file vanished; the filesystem wins.
			_ = d.ledger.Forget(ctx, d.opts.Account, target)
		}
	}

	if fileHasSize(target, size) {
		return target, true
	}

	if fileHasSize(naming.LegacyOriginalSuffixed(target), size) {
		return target, true
	}

	dedup := naming.DedupSuffixed(target, size)
	if fileExists(dedup) {
		return dedup, true
	}

	if fileExists(target) {
		d.logger.Info("size mismatch, writing disambiguated copy",
			slog.String("path", naming.TruncateMiddle(dedup, logPathLength)),
		)

		return dedup, false
	}

	return target, false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func fileHasSize(path string, size int64) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() == size
}

// deleteRemote flags the asset deleted server side, honoring the recency
// guard and dry-run purity.
func (d *Driver) deleteRemote(ctx context.Context, library *photos.Library, asset *photos.Asset, stats *Stats) error {
	if d.opts.KeepRecentDays >= 0 {
		age := d.nowFunc().Sub(asset.CreatedAt())
		if age < time.Duration(d.opts.KeepRecentDays)*24*time.Hour {
			d.logger.Info("keeping recent asset in cloud",
				slog.String("id", asset.ID()),
				slog.Int("keep_days", d.opts.KeepRecentDays),
			)

			return nil
		}
	}

	if d.opts.DryRun {
		d.logger.Info("would delete remote asset", slog.String("id", asset.ID()))
		return nil
	}

	err := d.retrier.Do(ctx, func(ctx context.Context) error {
		return library.Delete(ctx, asset)
	})
	if err != nil {
		d.logger.Error("could not delete remote asset",
			slog.String("id", asset.ID()),
			slog.String("error", err.Error()),
		)

		return nil
	}

	stats.Deleted++
	d.logger.Info("deleted remote asset", slog.String("id", asset.ID()))

	return nil
}

// dumpRecords writes the undecodable record pair next to the working
// directory and skips the asset.
func (d *Driver) dumpRecords(asset *photos.Asset) {
	dump, err := asset.RecordsJSON()
	if err != nil {
		d.logger.Error("could not encode photo record dump",
			slog.String("id", asset.ID()),
			slog.String("error", err.Error()),
		)

		return
	}

	path := filepath.Join(d.dumpDir, errorDumpFile)

	if err := os.WriteFile(path, dump, 0o644); err != nil {
		d.logger.Error("could not write photo record dump",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return
	}

	d.logger.Error("asset record missing original resource, dumped and skipped",
		slog.String("id", asset.ID()),
		slog.String("dump", path),
	)
}

// pageRetryHandler recovers page-query failures: session expiry triggers a
// re-authentication, vendor internal and transport errors back off
// linearly, anything else aborts iteration.
func (d *Driver) pageRetryHandler(ctx context.Context) photos.RetryHandler {
	return func(err error, attempt int) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch {
		case icloud.IsSessionExpired(err):
			d.logger.Info("re-authenticating")

			if d.reauth != nil {
				return d.reauth(ctx)
			}

			return nil
		case icloud.IsInternalError(err) || icloud.IsConnectionError(err):
			wait := d.retrier.wait * time.Duration(attempt)
			d.logger.Warn("album query failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
			)

			return d.sleepFunc(ctx, wait)
		default:
			return err
		}
	}
}
