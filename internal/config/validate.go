package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tonimelisma/icloud-go/internal/naming"
	"github.com/tonimelisma/icloud-go/internal/photos"
)

// reservedPathChars would break the rendered folder template on at least
// one supported filesystem.
const reservedPathChars = `<>:"\|?*`

// Validate checks every cross-field rule that can fail at startup, so a bad
// configuration is a usage error rather than a mid-sync surprise.
func Validate(cfg *Config) error {
	if cfg.Username == "" {
		return errors.New("config: username is required")
	}

	if cfg.Domain != "com" && cfg.Domain != "cn" {
		return fmt.Errorf("config: unsupported domain %q (use com or cn)", cfg.Domain)
	}

	if len(cfg.Sizes) == 0 {
		return errors.New("config: at least one size is required")
	}

	for _, size := range cfg.Sizes {
		if _, err := photos.ParseVersionSize(size); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	if _, err := photos.ParseLivePhotoSize(cfg.LivePhotoSize); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if _, err := naming.ParseLivePhotoPolicy(cfg.LivePhotoPolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if _, err := photos.ParseRawPolicy(cfg.AlignRaw); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if _, err := naming.ParseFileMatchPolicy(cfg.FileMatchPolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := validateFolderStructure(cfg.FolderStructure); err != nil {
		return err
	}

	if cfg.UntilFound < 0 {
		return errors.New("config: until_found must not be negative")
	}

	if cfg.WatchInterval < 0 {
		return errors.New("config: watch_with_interval must not be negative")
	}

	if cfg.Throttle < 0 {
		return errors.New("config: bandwidth_limit_bytes must not be negative")
	}

	if _, err := ParseDate(cfg.SkipBefore); err != nil {
		return fmt.Errorf("config: skip_created_before: %w", err)
	}

	if _, err := ParseDate(cfg.SkipAfter); err != nil {
		return fmt.Errorf("config: skip_created_after: %w", err)
	}

	if cfg.Verbose && cfg.Quiet {
		return errors.New("config: verbose and quiet are mutually exclusive")
	}

	return nil
}

// validateFolderStructure renders the template against a reference date and
// rejects layouts that produce unusable paths. Pre-1970 dates must format
// too, so both sides of the epoch are checked.
func validateFolderStructure(layout string) error {
	if layout == "" || layout == "none" {
		return nil
	}

	samples := []time.Time{
		time.Date(2024, 7, 19, 12, 0, 0, 0, time.UTC),
		time.Date(1969, 12, 31, 23, 0, 0, 0, time.UTC),
	}

	for _, sample := range samples {
		rendered := naming.FolderLayout(layout, sample)

		if rendered == "" {
			return fmt.Errorf("config: folder_structure %q renders empty", layout)
		}

		if strings.ContainsAny(rendered, reservedPathChars) {
			return fmt.Errorf("config: folder_structure %q renders reserved path characters", layout)
		}

		for _, part := range strings.Split(rendered, "/") {
			if part == ".." || part == "" {
				return fmt.Errorf("config: folder_structure %q renders an invalid path segment", layout)
			}
		}
	}

	return nil
}
