// Package config resolves the run configuration through a four-layer
// override chain: defaults, optional TOML file, environment variables, CLI
// flags. Flags always win; the file exists for unattended hosts that run
// the same sync on a schedule.
package config

import (
	"path/filepath"
	"time"
)

// Default values, layer 0 of the override chain.
const (
	DefaultDomain          = "com"
	DefaultAlbum           = "All Photos"
	DefaultLibrary         = "PrimarySync"
	DefaultSize            = "original"
	DefaultLivePhotoSize   = "original"
	DefaultLivePhotoPolicy = "suffix"
	DefaultFolderStructure = "2006/01/02"
	DefaultFileMatchPolicy = "name-size-dedup-with-suffix"
	DefaultAlignRaw        = "as-is"
	DefaultCookieDirName   = ".icloud-go"
)

// Config is the flat run configuration. TOML keys mirror the long flag
// names with underscores.
type Config struct {
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	Directory       string `toml:"directory"`
	CookieDirectory string `toml:"cookie_directory"`
	Domain          string `toml:"domain"`

	Sizes           []string `toml:"size"`
	LivePhotoSize   string   `toml:"live_photo_size"`
	LivePhotoPolicy string   `toml:"live_photo_filename_policy"`
	AlignRaw        string   `toml:"align_raw"`

	Album   string `toml:"album"`
	Library string `toml:"library"`

	Recent     int `toml:"recent"`
	UntilFound int `toml:"until_found"`

	SkipVideos     bool   `toml:"skip_videos"`
	SkipPhotos     bool   `toml:"skip_photos"`
	SkipLivePhotos bool   `toml:"skip_live_photos"`
	SkipBefore     string `toml:"skip_created_before"`
	SkipAfter      string `toml:"skip_created_after"`

	ForceSize           bool `toml:"force_size"`
	AutoDelete          bool `toml:"auto_delete"`
	DeleteAfterDownload bool `toml:"delete_after_download"`
	KeepRecentDays      int  `toml:"keep_icloud_recent_days"`

	FolderStructure string `toml:"folder_structure"`
	FileMatchPolicy string `toml:"file_match_policy"`
	KeepUnicode     bool   `toml:"keep_unicode"`
	SetExifDatetime bool   `toml:"set_exif_datetime"`

	OnlyPrintFilenames bool `toml:"only_print_filenames"`
	DryRun             bool `toml:"dry_run"`

	WatchInterval      int    `toml:"watch_with_interval"`
	WebUIAddr          string `toml:"webui_addr"`
	NotificationScript string `toml:"notification_script"`

	NoLedger   bool  `toml:"no_ledger"`
	UseKeyring bool  `toml:"use_keyring"`
	Throttle   int64 `toml:"bandwidth_limit_bytes"`

	Verbose bool `toml:"verbose"`
	Quiet   bool `toml:"quiet"`

	// Environment-only settings; no TOML key.
	ClientID      string `toml:"-"`
	ForceProgress bool   `toml:"-"`
}

// DefaultConfig returns layer 0. Recent and KeepRecentDays default to -1,
// their "unset" sentinel: zero means "nothing" and "keep nothing"
// respectively.
func DefaultConfig() *Config {
	return &Config{
		Domain:          DefaultDomain,
		Sizes:           []string{DefaultSize},
		LivePhotoSize:   DefaultLivePhotoSize,
		LivePhotoPolicy: DefaultLivePhotoPolicy,
		AlignRaw:        DefaultAlignRaw,
		Album:           DefaultAlbum,
		Library:         DefaultLibrary,
		Recent:          -1,
		KeepRecentDays:  -1,
		FolderStructure: DefaultFolderStructure,
		FileMatchPolicy: DefaultFileMatchPolicy,
		UseKeyring:      true,
	}
}

// LedgerPath places the incremental ledger next to the session files.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.CookieDirectory, "ledger.db")
}

// dateLayouts accepted for the created-before/after bounds.
var dateLayouts = []string{time.RFC3339, "2006-01-02"}

// ParseDate parses a bound from configuration; empty means unset.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	var lastErr error

	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}

		lastErr = err
	}

	return time.Time{}, lastErr
}
