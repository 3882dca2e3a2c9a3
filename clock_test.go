package starfish

import (
	"testing"
	"time"
)

func TestPlaybackClockAdvance(t *testing.T) {
	var c PlaybackClock
	if c.Now() != 0 {
		t.Fatalf("initial clock: %d", c.Now())
	}

	c.Advance(10*time.Millisecond, 480)
	c.Advance(10*time.Millisecond, 480)
	if got := c.Now(); got != int64(20*time.Millisecond) {
		t.Fatalf("clock: got %d", got)
	}

	c.Reset()
	if c.Now() != 0 {
		t.Fatalf("clock after reset: %d", c.Now())
	}
}

func TestPlaybackClockSkipsResubmitArtifact(t *testing.T) {
	var c PlaybackClock
	c.Advance(32*time.Millisecond, 1536)
	c.Advance(21*time.Millisecond, resubmitFrameCount)
	c.Advance(32*time.Millisecond, 1536)

	if got := c.Now(); got != int64(64*time.Millisecond) {
		t.Fatalf("clock: got %d, want %d", got, int64(64*time.Millisecond))
	}
}
