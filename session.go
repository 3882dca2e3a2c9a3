package starfish

import "strings"

// MediaSession is the capability boundary to one StarFish media pipeline
// instance. All methods mirror the StarfishMediaAPIs surface one to one;
// payloads are the engine's JSON documents, already serialized.
//
// Feed consumes the referenced buffer memory synchronously: the address in
// the payload must stay valid for the duration of the call and is never
// retained by the engine afterwards.
type MediaSession interface {
	// Load opens the pipeline with a load payload and registers the player
	// event callback. Returns false if the engine rejects the payload.
	Load(payload string, cb EventCallback) bool

	// Feed submits one buffer payload and returns the raw engine status
	// string. Match it with FeedAccepted/FeedBufferFull; any other content
	// is a hard error for that call.
	Feed(payload string) string

	// Seek jumps to a position given in milliseconds, formatted as a
	// decimal string.
	Seek(positionMillis string)

	Flush()
	Play()
	Pause()
	Unload()

	// PushEOS signals end of stream and instructs the engine to drain.
	// EOS never travels through Feed.
	PushEOS()

	// SetHdrInfo pushes an HDR metadata payload for the loaded stream.
	SetHdrInfo(payload string)

	// CurrentPlaytime reports the engine playback position in nanoseconds.
	// Only meaningful when the load payload enabled queryPosition.
	CurrentPlaytime() int64

	// NotifyForeground tells the engine the app owns the foreground;
	// required before Load on webOS.
	NotifyForeground()
}

// Feed status tokens. The engine embeds them in a larger status document,
// so matching is by substring.
const (
	feedStatusOK         = "Ok"
	feedStatusBufferFull = "BufferFull"
)

// FeedAccepted reports whether a Feed status string signals acceptance.
func FeedAccepted(status string) bool {
	return strings.Contains(status, feedStatusOK)
}

// FeedBufferFull reports whether a Feed status string signals transient
// engine-queue saturation. The buffer was not consumed and may be
// resubmitted once the queue drains.
func FeedBufferFull(status string) bool {
	return strings.Contains(status, feedStatusBufferFull)
}

// SurfaceProvider supplies the exported windowing surface the engine
// renders into. On webOS this is the wayland-exported window id; it is
// consumed only at Open time.
type SurfaceProvider interface {
	ExportedWindowID() string
}

// StaticSurface is a SurfaceProvider for a pre-exported window id.
type StaticSurface string

func (s StaticSurface) ExportedWindowID() string { return string(s) }
