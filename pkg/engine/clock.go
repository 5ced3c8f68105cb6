package engine

import "time"

// FrameClock is the loop's monotonic frame bookkeeping, advanced once per tick.
type FrameClock struct {
	Elapsed    time.Duration
	Total      time.Duration
	FrameCount uint64
	Rendered   uint64
	FPS        uint32

	last        time.Time
	secondStart time.Duration
	secondCount uint32
}

func (c *FrameClock) tick(now time.Time) {
	if c.last.IsZero() {
		c.last = now
		c.FrameCount++
		return
	}
	c.Elapsed = now.Sub(c.last)
	if c.Elapsed < 0 {
		c.Elapsed = 0
	}
	c.last = now
	c.Total += c.Elapsed
	c.FrameCount++

	c.secondCount++
	if window := c.Total - c.secondStart; window >= time.Second {
		c.FPS = uint32(float64(c.secondCount) / window.Seconds())
		c.secondStart = c.Total
		c.secondCount = 0
	}
}
