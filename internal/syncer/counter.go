package syncer

// Counter tracks consecutive already-existing files in iteration order. The
// until-found option terminates a pass once enough hits accumulate without
// an intervening download.
type Counter struct {
	consecutive int
}

// Hit records an existing file.
func (c *Counter) Hit() {
	c.consecutive++
}

// Reset clears the streak after a new download.
func (c *Counter) Reset() {
	c.consecutive = 0
}

// Consecutive returns the current streak length.
func (c *Counter) Consecutive() int {
	return c.consecutive
}
