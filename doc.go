// Package starfish feeds demuxed elementary audio/video streams into the
// webOS StarFish media pipeline, the platform's hardware decode/render
// engine.
//
// StarFish exposes only a narrow command surface (Load, Feed, Seek, Flush,
// Play, Pause, Unload, PushEOS) plus an asynchronous player callback; it
// never hands decoded frames back. This package owns everything that makes
// that surface usable from a player:
//   - VideoFeed/AudioFeed lifecycle state machines around Load/Unload
//   - PTS bookkeeping across discrete buffer submissions
//   - blocking backpressure retry when the engine queue saturates
//   - edge-triggered picture synthesis from the engine playtime counter
//   - Annex-B conversion and post-flush keyframe gating
//
// # Architecture
//
//	Video: demuxed packets -> BitstreamConverter -> VideoFeed -> MediaSession -> engine
//	       render loop tick -> VideoFeed.GetPicture (polled, edge-triggered)
//	Audio: PCM/AC3 buffers -> AudioFeed (PlaybackClock, blocking retry) -> MediaSession
//
// # Native Library
//
// The production MediaSession binds libstarfish_capi, a thin C wrapper
// around the platform's StarfishMediaAPIs C++ class, via purego
// (CGO_ENABLED=0). Set STARFISH_CAPI_LIB_PATH to the library file, or
// STARFISH_SDK_LIB_PATH to the directory containing it. On non-webOS hosts
// NewMediaSession returns ErrSessionUnavailable; any MediaSession
// implementation (including test doubles) can drive the feeds.
//
// # Build Tags
//
//   - nostarfish: disable the native session binding
package starfish
