package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file on top of the defaults. Unknown
// keys are fatal: silently ignoring a typo in an unattended host's config
// leads to syncs that quietly do the wrong thing.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault reads the file if it exists; a missing file is the normal
// zero-config first run.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// checkUnknownKeys rejects keys the struct did not decode, suggesting the
// closest known key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var msgs []string

	for _, key := range undecoded {
		msg := fmt.Sprintf("unknown key %q", key.String())
		if suggestion := closestKnownKey(key.String()); suggestion != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
		}

		msgs = append(msgs, msg)
	}

	sort.Strings(msgs)

	return errors.New(strings.Join(msgs, "; "))
}

// knownKeys lists every valid TOML key, for suggestions.
var knownKeys = []string{
	"username", "password", "directory", "cookie_directory", "domain",
	"size", "live_photo_size", "live_photo_filename_policy", "align_raw",
	"album", "library", "recent", "until_found",
	"skip_videos", "skip_photos", "skip_live_photos",
	"skip_created_before", "skip_created_after",
	"force_size", "auto_delete", "delete_after_download",
	"keep_icloud_recent_days", "folder_structure", "file_match_policy",
	"keep_unicode", "set_exif_datetime", "only_print_filenames", "dry_run",
	"watch_with_interval", "webui_addr", "notification_script",
	"no_ledger", "use_keyring", "bandwidth_limit_bytes", "verbose", "quiet",
}

// closestKnownKey returns the known key with the smallest edit distance,
// when close enough to be a plausible typo.
func closestKnownKey(key string) string {
	const maxDistance = 3

	best := ""
	bestDistance := maxDistance + 1

	for _, candidate := range knownKeys {
		if d := editDistance(key, candidate); d < bestDistance {
			best = candidate
			bestDistance = d
		}
	}

	return best
}

func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i

		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}

			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
