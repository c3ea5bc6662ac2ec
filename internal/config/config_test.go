package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Username = "user@example.com"
	cfg.Directory = "/photos"

	return cfg
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, Validate(cfg))

	assert.Equal(t, -1, cfg.Recent)
	assert.Equal(t, -1, cfg.KeepRecentDays)
	assert.True(t, cfg.UseKeyring)
	assert.Equal(t, []string{"original"}, cfg.Sizes)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "icloud-go.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
username = "user@example.com"
directory = "/photos"
size = ["original", "thumb"]
skip_videos = true
watch_with_interval = 3600
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "user@example.com", cfg.Username)
	assert.Equal(t, []string{"original", "thumb"}, cfg.Sizes)
	assert.True(t, cfg.SkipVideos)
	assert.Equal(t, 3600, cfg.WatchInterval)

	// Untouched keys keep their defaults.
	assert.Equal(t, "com", cfg.Domain)
	assert.Equal(t, DefaultFolderStructure, cfg.FolderStructure)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "icloud-go.toml")
	require.NoError(t, os.WriteFile(path, []byte(`skip_video = true`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown key "skip_video"`)
	assert.Contains(t, err.Error(), `"skip_videos"`)
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvClientID, "pinned-client-id")
	t.Setenv(EnvForceProgress, "1")

	cfg := DefaultConfig()
	ApplyEnv(cfg)

	assert.Equal(t, "pinned-client-id", cfg.ClientID)
	assert.True(t, cfg.ForceProgress)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"missing username", func(c *Config) { c.Username = "" }, "username"},
		{"bad domain", func(c *Config) { c.Domain = "org" }, "domain"},
		{"no sizes", func(c *Config) { c.Sizes = nil }, "size"},
		{"bad size", func(c *Config) { c.Sizes = []string{"huge"} }, "unknown size"},
		{"bad live photo size", func(c *Config) { c.LivePhotoSize = "giant" }, "live photo size"},
		{"bad align raw", func(c *Config) { c.AlignRaw = "sideways" }, "raw policy"},
		{"bad match policy", func(c *Config) { c.FileMatchPolicy = "yolo" }, "file match policy"},
		{"negative until found", func(c *Config) { c.UntilFound = -1 }, "until_found"},
		{"negative watch interval", func(c *Config) { c.WatchInterval = -5 }, "watch_with_interval"},
		{"negative throttle", func(c *Config) { c.Throttle = -1 }, "bandwidth_limit_bytes"},
		{"bad date", func(c *Config) { c.SkipBefore = "tomorrow" }, "skip_created_before"},
		{"verbose and quiet", func(c *Config) { c.Verbose, c.Quiet = true, true }, "mutually exclusive"},
		{"reserved template chars", func(c *Config) { c.FolderStructure = "15:04" }, "folder_structure"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestValidateAcceptsNoneTemplate(t *testing.T) {
	cfg := validConfig()
	cfg.FolderStructure = "none"

	assert.NoError(t, Validate(cfg))
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2024-07-19")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 19, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseDate("2024-07-19T12:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 12, got.Hour())

	got, err = ParseDate("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = ParseDate("not a date")
	assert.Error(t, err)
}

func TestLedgerPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CookieDirectory = "/home/u/.icloud-go"

	assert.Equal(t, filepath.Join("/home/u/.icloud-go", "ledger.db"), cfg.LedgerPath())
}
