package starfish

import (
	"sync/atomic"
	"time"
)

// resubmitFrameCount is a frame count known to be a re-submission artifact:
// transcoded substreams deliver their content as 1024 + 1536 frame pairs,
// and advancing the clock for both halves would double-count the pair.
// TODO: derive this from the substream's transcode parameters instead of
// assuming the 1024-frame half is always the duplicate.
const resubmitFrameCount = 1024

// PlaybackClock accumulates presentation timestamps for sources that carry
// no per-buffer PTS, advancing once per logical frame. The current value is
// readable from any goroutine; Advance is owner-thread only.
type PlaybackClock struct {
	pts atomic.Int64
}

// Now returns the accumulated PTS in nanoseconds.
func (c *PlaybackClock) Now() int64 { return c.pts.Load() }

// Advance moves the clock forward by one buffer duration, unless frames
// matches the known re-submission artifact.
func (c *PlaybackClock) Advance(d time.Duration, frames int) {
	if frames == resubmitFrameCount {
		return
	}
	c.pts.Add(int64(d))
}

// Reset rewinds the clock to zero.
func (c *PlaybackClock) Reset() { c.pts.Store(0) }
