//go:build !linux || nostarfish

package starfish

// NewMediaSession is unavailable off-platform; feeds still run against any
// MediaSession implementation.
func NewMediaSession() (MediaSession, error) {
	return nil, ErrSessionUnavailable
}
