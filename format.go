package main

import (
	"fmt"
	"os"

	"github.com/tonimelisma/icloud-go/internal/syncer"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if cfg != nil && cfg.Quiet {
		return
	}

	fmt.Fprintf(os.Stderr, format, args...)
}

// summaryLine renders one pass's statistics for the closing log line.
func summaryLine(stats syncer.Stats) string {
	s := fmt.Sprintf("checked %d, downloaded %d, already present %d, skipped %d",
		stats.Checked, stats.Downloaded, stats.Existing, stats.Skipped)

	if stats.Deleted > 0 {
		s += fmt.Sprintf(", deleted remotely %d", stats.Deleted)
	}

	return s
}
