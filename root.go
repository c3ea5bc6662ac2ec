package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/icloud-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// usageError marks configuration and flag mistakes; main maps it to exit
// code 2, API and auth failures exit 1.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// flagSet holds every flag value before it is overlaid onto the config.
type flagSet struct {
	configPath string

	username        string
	password        string
	directory       string
	cookieDirectory string
	domain          string

	sizes           []string
	livePhotoSize   string
	livePhotoPolicy string
	alignRaw        string

	album   string
	library string

	recent     int
	untilFound int

	skipVideos     bool
	skipPhotos     bool
	skipLivePhotos bool
	skipBefore     string
	skipAfter      string

	forceSize           bool
	autoDelete          bool
	deleteAfterDownload bool
	keepRecentDays      int

	folderStructure string
	fileMatchPolicy string
	keepUnicode     bool
	setExifDatetime bool

	onlyPrintFilenames bool
	dryRun             bool

	watchInterval      int
	webUIAddr          string
	notificationScript string

	noLedger   bool
	useKeyring bool
	throttle   int64

	listAlbums    bool
	listLibraries bool
	authOnly      bool

	verbose bool
	quiet   bool
}

var flags flagSet

// cfg is the resolved configuration, available after the pre-run phase.
var cfg *config.Config

// newRootCmd builds the single-command CLI: the root command runs the sync;
// listing and auth-only modes are flags, matching how unattended hosts
// invoke the tool from cron and containers.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "icloud-go",
		Short:   "iCloud Photos downloader",
		Long:    "A headless, resumable downloader that mirrors an iCloud Photos library to a local directory.",
		Version: version,
		// Cobra's default error/usage printing is silenced; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return resolveConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	f := cmd.Flags()

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "TOML config file path")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.quiet, "quiet", "q", false, "suppress informational output")

	f.StringVarP(&flags.username, "username", "u", "", "iCloud account (email address)")
	f.StringVarP(&flags.password, "password", "p", "", "account password (prefer keyring or prompt)")
	f.StringVarP(&flags.directory, "directory", "d", "", "local download root")
	f.StringVar(&flags.cookieDirectory, "cookie-directory", "", "session and cookie directory (default ~/"+config.DefaultCookieDirName+")")
	f.StringVar(&flags.domain, "domain", config.DefaultDomain, "iCloud domain group: com or cn")

	f.StringArrayVar(&flags.sizes, "size", []string{config.DefaultSize}, "variant size to capture (repeatable): original, medium, thumb, adjusted, alternative")
	f.StringVar(&flags.livePhotoSize, "live-photo-size", config.DefaultLivePhotoSize, "live photo movie size: original, medium, thumb")
	f.StringVar(&flags.livePhotoPolicy, "live-photo-filename-policy", config.DefaultLivePhotoPolicy, "live photo movie naming: suffix or original")
	f.StringVar(&flags.alignRaw, "align-raw", config.DefaultAlignRaw, "raw slot alignment: as-is, original, alternative")

	f.StringVarP(&flags.album, "album", "a", config.DefaultAlbum, "album to sync")
	f.StringVar(&flags.library, "library", config.DefaultLibrary, "library zone to sync")

	f.IntVar(&flags.recent, "recent", -1, "only check the N most recent assets")
	f.IntVar(&flags.untilFound, "until-found", 0, "stop after N consecutive already-present assets")

	f.BoolVar(&flags.skipVideos, "skip-videos", false, "do not download videos")
	f.BoolVar(&flags.skipPhotos, "skip-photos", false, "do not download photos")
	f.BoolVar(&flags.skipLivePhotos, "skip-live-photos", false, "do not download live photo movies")
	f.StringVar(&flags.skipBefore, "skip-created-before", "", "skip assets created before this date (2006-01-02 or RFC3339)")
	f.StringVar(&flags.skipAfter, "skip-created-after", "", "skip assets created on or after this date")

	f.BoolVar(&flags.forceSize, "force-size", false, "skip assets missing the requested size instead of falling back to original")
	f.BoolVar(&flags.autoDelete, "auto-delete", false, "delete local files for assets in Recently Deleted")
	f.BoolVar(&flags.deleteAfterDownload, "delete-after-download", false, "move assets to Recently Deleted after successful download")
	f.IntVar(&flags.keepRecentDays, "keep-icloud-recent-days", -1, "keep assets younger than N days in the cloud when deleting")

	f.StringVar(&flags.folderStructure, "folder-structure", config.DefaultFolderStructure, "date subfolder layout in Go reference-time syntax, or none")
	f.StringVar(&flags.fileMatchPolicy, "file-match-policy", config.DefaultFileMatchPolicy, "local filename policy: name-size-dedup-with-suffix or name-id7")
	f.BoolVar(&flags.keepUnicode, "keep-unicode-in-filenames", false, "keep non-ASCII characters in filenames")
	f.BoolVar(&flags.setExifDatetime, "set-exif-datetime", false, "write capture time into JPEGs lacking EXIF datetime")

	f.BoolVar(&flags.onlyPrintFilenames, "only-print-filenames", false, "print target paths of missing assets without downloading")
	f.BoolVar(&flags.dryRun, "dry-run", false, "no filesystem or remote mutation")

	f.IntVar(&flags.watchInterval, "watch-with-interval", 0, "keep running, re-syncing every N seconds")
	f.StringVar(&flags.webUIAddr, "webui-addr", "", "serve the control API on this address (e.g. :8080)")
	f.StringVar(&flags.notificationScript, "notification-script", "", "script to run when interactive attention is needed")

	f.BoolVar(&flags.noLedger, "no-ledger", false, "bypass the incremental ledger; probe the filesystem for everything")
	f.BoolVar(&flags.useKeyring, "use-keyring", true, "resolve and store the password in the system keyring")
	f.Int64Var(&flags.throttle, "bandwidth-limit-bytes", 0, "limit download bandwidth in bytes per second")

	f.BoolVar(&flags.listAlbums, "list-albums", false, "print album names and exit")
	f.BoolVar(&flags.listLibraries, "list-libraries", false, "print library names and exit")
	f.BoolVar(&flags.authOnly, "auth-only", false, "authenticate (establishing trust) and exit")

	return cmd
}

// resolveConfig applies the override chain: defaults, file, env, flags.
func resolveConfig(cmd *cobra.Command) error {
	loaded, err := config.LoadOrDefault(flags.configPath)
	if err != nil {
		return &usageError{err: err}
	}

	config.ApplyEnv(loaded)
	overlayFlags(cmd, loaded)

	if loaded.CookieDirectory == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}

		loaded.CookieDirectory = filepath.Join(home, config.DefaultCookieDirName)
	}

	if err := config.Validate(loaded); err != nil {
		return &usageError{err: err}
	}

	if loaded.Directory == "" && !flags.listAlbums && !flags.listLibraries && !flags.authOnly {
		return usagef("config: directory is required")
	}

	cfg = loaded

	return nil
}

// overlayFlags copies explicitly set flags over the file/env layers.
func overlayFlags(cmd *cobra.Command, cfg *config.Config) {
	set := func(name string) bool {
		return cmd.Flags().Changed(name) || cmd.PersistentFlags().Changed(name)
	}

	if set("username") {
		cfg.Username = flags.username
	}
	if set("password") {
		cfg.Password = flags.password
	}
	if set("directory") {
		cfg.Directory = flags.directory
	}
	if set("cookie-directory") {
		cfg.CookieDirectory = flags.cookieDirectory
	}
	if set("domain") {
		cfg.Domain = flags.domain
	}
	if set("size") {
		cfg.Sizes = flags.sizes
	}
	if set("live-photo-size") {
		cfg.LivePhotoSize = flags.livePhotoSize
	}
	if set("live-photo-filename-policy") {
		cfg.LivePhotoPolicy = flags.livePhotoPolicy
	}
	if set("align-raw") {
		cfg.AlignRaw = flags.alignRaw
	}
	if set("album") {
		cfg.Album = flags.album
	}
	if set("library") {
		cfg.Library = flags.library
	}
	if set("recent") {
		cfg.Recent = flags.recent
	}
	if set("until-found") {
		cfg.UntilFound = flags.untilFound
	}
	if set("skip-videos") {
		cfg.SkipVideos = flags.skipVideos
	}
	if set("skip-photos") {
		cfg.SkipPhotos = flags.skipPhotos
	}
	if set("skip-live-photos") {
		cfg.SkipLivePhotos = flags.skipLivePhotos
	}
	if set("skip-created-before") {
		cfg.SkipBefore = flags.skipBefore
	}
	if set("skip-created-after") {
		cfg.SkipAfter = flags.skipAfter
	}
	if set("force-size") {
		cfg.ForceSize = flags.forceSize
	}
	if set("auto-delete") {
		cfg.AutoDelete = flags.autoDelete
	}
	if set("delete-after-download") {
		cfg.DeleteAfterDownload = flags.deleteAfterDownload
	}
	if set("keep-icloud-recent-days") {
		cfg.KeepRecentDays = flags.keepRecentDays
	}
	if set("folder-structure") {
		cfg.FolderStructure = flags.folderStructure
	}
	if set("file-match-policy") {
		cfg.FileMatchPolicy = flags.fileMatchPolicy
	}
	if set("keep-unicode-in-filenames") {
		cfg.KeepUnicode = flags.keepUnicode
	}
	if set("set-exif-datetime") {
		cfg.SetExifDatetime = flags.setExifDatetime
	}
	if set("only-print-filenames") {
		cfg.OnlyPrintFilenames = flags.onlyPrintFilenames
	}
	if set("dry-run") {
		cfg.DryRun = flags.dryRun
	}
	if set("watch-with-interval") {
		cfg.WatchInterval = flags.watchInterval
	}
	if set("webui-addr") {
		cfg.WebUIAddr = flags.webUIAddr
	}
	if set("notification-script") {
		cfg.NotificationScript = flags.notificationScript
	}
	if set("no-ledger") {
		cfg.NoLedger = flags.noLedger
	}
	if set("use-keyring") {
		cfg.UseKeyring = flags.useKeyring
	}
	if set("bandwidth-limit-bytes") {
		cfg.Throttle = flags.throttle
	}
	if set("verbose") {
		cfg.Verbose = flags.verbose
	}
	if set("quiet") {
		cfg.Quiet = flags.quiet
	}
}

// buildLogger configures slog from the resolved config; flags already won
// the overlay.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if cfg != nil && cfg.Verbose {
		level = slog.LevelDebug
	}

	if cfg != nil && cfg.Quiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
