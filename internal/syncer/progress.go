package syncer

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/mattn/go-isatty"

	"github.com/tonimelisma/icloud-go/internal/naming"
)

// logPathLength bounds how much of a download path appears in log lines and
// the progress bar description.
const logPathLength = 96

// Snapshot is a point-in-time view of a sync pass, serialized by the status
// endpoint.
type Snapshot struct {
	Phase          string `json:"phase"`
	CheckedCount   int    `json:"checked_count"`
	TotalCount     int    `json:"total_count"`
	ToDownload     int    `json:"to_download_count"`
	Downloaded     int    `json:"downloaded_count"`
	LastMessage    string `json:"last_message"`
	WaitingSeconds int    `json:"waiting_seconds"`
	LastSyncUnix   int64  `json:"last_sync_unix"`
}

// Progress tracks one pass and optionally renders a terminal bar. All
// methods are safe for concurrent use; the web UI reads snapshots while the
// driver updates counts.
type Progress struct {
	mu   sync.Mutex
	snap Snapshot

	bar     *pb.ProgressBar
	showBar bool
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewProgress builds a tracker. The bar renders only on a terminal;
// log-shipping setups keep plain lines. ForceBar overrides the detection.
func NewProgress(logger *slog.Logger) *Progress {
	if logger == nil {
		logger = slog.Default()
	}

	return &Progress{
		showBar: isatty.IsTerminal(os.Stderr.Fd()),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// ForceBar renders the terminal bar even without a TTY, for setups that set
// FORCE_PROGRESS in the environment.
func (p *Progress) ForceBar() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.showBar = true
}

// StartPass resets counters for a new pass over total assets.
func (p *Progress) StartPass(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.snap = Snapshot{
		Phase:        "syncing",
		TotalCount:   total,
		LastSyncUnix: p.snap.LastSyncUnix,
	}

	if p.showBar {
		p.bar = pb.New(total)
		p.bar.SetWriter(os.Stderr)
		p.bar.Start()
	}
}

// Checked records one asset probed, regardless of outcome.
func (p *Progress) Checked() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.snap.CheckedCount++

	if p.bar != nil {
		p.bar.Increment()
	}
}

// Enqueued records one variant that needs downloading.
func (p *Progress) Enqueued() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.snap.ToDownload++
}

// Downloaded records one completed variant and shows its truncated path.
func (p *Progress) Downloaded(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.snap.Downloaded++
	p.snap.LastMessage = naming.TruncateMiddle(path, logPathLength)

	if p.bar != nil {
		p.bar.Set("prefix", p.snap.LastMessage+" ")
	}
}

// Message publishes a free-form status line.
func (p *Progress) Message(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.snap.LastMessage = msg
}

// Waiting reports the seconds remaining until the next pass.
func (p *Progress) Waiting(seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.snap.Phase = "waiting"
	p.snap.WaitingSeconds = seconds
}

// FinishPass closes out the pass and stamps the last successful sync time.
func (p *Progress) FinishPass() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.snap.Phase = "idle"
	p.snap.WaitingSeconds = 0
	p.snap.LastSyncUnix = p.nowFunc().Unix()

	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}

// Snapshot returns a copy of the current state.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.snap
}
