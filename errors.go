package starfish

import "errors"

// Common errors
var (
	// ErrAlreadyActive is returned by OpenVideoFeed when another video feed
	// holds the engine. The platform allows a single video pipeline at a time.
	ErrAlreadyActive = errors.New("video pipeline already active")

	// ErrConfigRejected is returned when the engine refuses a Load payload
	// or the stream descriptor cannot be expressed as one.
	ErrConfigRejected = errors.New("engine rejected load configuration")

	// ErrFeedFailed reports an unrecognized Feed status. The buffer was not
	// submitted; the caller may retry it without corrupting feed state.
	ErrFeedFailed = errors.New("buffer submit failed")

	// ErrIncompatibleStream is returned by Reconfigure when the new
	// descriptor differs in more than stream id or extradata. The session is
	// left untouched; the caller must dispose and reopen.
	ErrIncompatibleStream = errors.New("incompatible stream change")

	// ErrFeedClosed is returned from operations on a disposed feed.
	ErrFeedClosed = errors.New("feed is closed")

	// ErrSessionUnavailable means the native StarFish library could not be
	// loaded on this host.
	ErrSessionUnavailable = errors.New("starfish session not available")
)
