package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressPassLifecycle(t *testing.T) {
	p := NewProgress(testLogger())
	p.showBar = false
	p.nowFunc = func() time.Time { return time.Unix(1700000000, 0) }

	p.StartPass(10)

	snap := p.Snapshot()
	assert.Equal(t, "syncing", snap.Phase)
	assert.Equal(t, 10, snap.TotalCount)
	assert.Zero(t, snap.CheckedCount)

	p.Checked()
	p.Checked()
	p.Enqueued()
	p.Downloaded("/photos/IMG_0001.JPG")

	snap = p.Snapshot()
	assert.Equal(t, 2, snap.CheckedCount)
	assert.Equal(t, 1, snap.ToDownload)
	assert.Equal(t, 1, snap.Downloaded)
	assert.Equal(t, "/photos/IMG_0001.JPG", snap.LastMessage)

	p.FinishPass()

	snap = p.Snapshot()
	assert.Equal(t, "idle", snap.Phase)
	assert.Equal(t, int64(1700000000), snap.LastSyncUnix)
}

func TestProgressPreservesLastSyncAcrossPasses(t *testing.T) {
	p := NewProgress(testLogger())
	p.showBar = false
	p.nowFunc = func() time.Time { return time.Unix(1700000000, 0) }

	p.StartPass(1)
	p.FinishPass()

	p.StartPass(5)
	assert.Equal(t, int64(1700000000), p.Snapshot().LastSyncUnix)
}

func TestProgressForceBarOverridesTerminalDetection(t *testing.T) {
	p := NewProgress(testLogger())
	p.showBar = false

	p.ForceBar()
	assert.True(t, p.showBar)
}

func TestProgressTruncatesLongPaths(t *testing.T) {
	p := NewProgress(testLogger())
	p.showBar = false

	long := "/photos/2024/07/19/" + string(make([]byte, 200)) + "IMG.JPG"
	p.Downloaded(long)

	assert.LessOrEqual(t, len([]rune(p.Snapshot().LastMessage)), logPathLength)
}
