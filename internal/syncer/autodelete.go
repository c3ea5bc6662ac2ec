package syncer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tonimelisma/icloud-go/internal/naming"
	"github.com/tonimelisma/icloud-go/internal/photos"
)

// autoDeleteSizes are the variants whose local files are removed when the
// asset lands in Recently Deleted.
var autoDeleteSizes = []photos.VersionSize{
	photos.SizeOriginal,
	photos.SizeMedium,
	photos.SizeThumb,
}

// autoDelete mirrors remote deletions locally: every asset in Recently
// Deleted has its local variants removed, for any path this configuration
// could have written them to.
func (d *Driver) autoDelete(ctx context.Context, library *photos.Library) error {
	album, err := library.Album(ctx, photos.AlbumRecentlyDeleted)
	if err != nil {
		return err
	}

	iter, err := album.Photos(ctx, d.pageRetryHandler(ctx))
	if err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		asset, ok, err := iter.Next(ctx)
		if err != nil {
			return err
		}

		if !ok {
			return nil
		}

		d.removeLocalVariants(ctx, asset)
	}
}

// removeLocalVariants deletes every on-disk form of one asset.
func (d *Driver) removeLocalVariants(ctx context.Context, asset *photos.Asset) {
	createdLocal := asset.CreatedAt().In(d.timezone())
	downloadDir := filepath.Join(d.opts.Directory, naming.FolderLayout(d.opts.FolderTemplate, createdLocal))
	baseName := d.localName(asset)
	versions := asset.Versions(d.opts.RawPolicy)

	for _, size := range autoDeleteSizes {
		name := naming.SizeSuffixed(baseName, string(size))
		target := filepath.Join(downloadDir, name)

		candidates := []string{target, naming.LegacyOriginalSuffixed(target)}
		if v, ok := versions[size]; ok {
			candidates = append(candidates, naming.DedupSuffixed(target, v.Size))
		}

		for _, candidate := range candidates {
			d.removeLocal(ctx, candidate)
		}
	}

	if asset.HasLivePhoto() {
		name := naming.LivePhotoMovieName(baseName, d.opts.LivePhotoName)
		if d.opts.LivePhotoSize != photos.LiveOriginal {
			name = naming.SizeSuffixed(name, string(d.opts.LivePhotoSize))
		}

		d.removeLocal(ctx, filepath.Join(downloadDir, name))
	}

	// Drop any remaining ledger rows for the asset, covering paths the
	// candidate probe above did not reconstruct (old folder templates,
	// renamed dedup copies).
	if d.ledger != nil && !d.opts.DryRun {
		if err := d.ledger.ForgetAsset(ctx, d.opts.Account, asset.ID()); err != nil {
			d.logger.Warn("could not forget asset in ledger",
				slog.String("id", asset.ID()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// removeLocal deletes one candidate path if present, honoring dry-run.
func (d *Driver) removeLocal(ctx context.Context, path string) {
	if !fileExists(path) {
		return
	}

	if d.opts.DryRun {
		d.logger.Info("would delete local file",
			slog.String("path", naming.TruncateMiddle(path, logPathLength)),
		)

		return
	}

	if err := os.Remove(path); err != nil {
		d.logger.Error("could not delete local file",
			slog.String("path", naming.TruncateMiddle(path, logPathLength)),
			slog.String("error", err.Error()),
		)

		return
	}

	if d.ledger != nil {
		_ = d.ledger.Forget(ctx, d.opts.Account, path)
	}

	d.logger.Info("deleted local file",
		slog.String("path", naming.TruncateMiddle(path, logPathLength)),
	)
}
