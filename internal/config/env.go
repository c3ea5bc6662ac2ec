package config

import "os"

// Environment variable names recognized as overrides.
const (
	// EnvClientID overrides the generated OAuth client id, for accounts
	// that pinned one in an earlier tool.
	EnvClientID = "CLIENT_ID"

	// EnvForceProgress renders the progress bar even without a terminal.
	EnvForceProgress = "FORCE_PROGRESS"
)

// ApplyEnv overlays environment variables onto the config. Called between
// the file layer and the flag layer.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvClientID); v != "" {
		cfg.ClientID = v
	}

	if os.Getenv(EnvForceProgress) != "" {
		cfg.ForceProgress = true
	}
}
