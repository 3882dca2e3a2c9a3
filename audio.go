package starfish

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// AudioFeedConfig configures an audio feed.
type AudioFeedConfig struct {
	Session MediaSession // required
	AppID   string       // defaults to DefaultAppID
	Log     *slog.Logger
}

// Default audio queue threshold when the descriptor gives no frame size.
const defaultAudioQueueLevel = 12288

// Fixed output latency of the engine's audio path, determined empirically
// on the platform.
const audioHWLatency = 250 * time.Millisecond

// AudioFeedStats provides feed counters. Snapshot via AudioFeed.Stats.
type AudioFeedStats struct {
	BuffersSubmitted uint64
	BytesSubmitted   uint64
	Retries          uint64 // blocking backpressure retries
	HardErrors       uint64
}

// AudioFeed drives the engine's audio pipeline. Unlike video there is no
// instance limit and no picture side: the feed pushes buffers, tracks an
// accumulated PTS for sources without per-buffer timestamps, and estimates
// the output delay from the engine's FrameReady events.
//
// Feed blocks the calling goroutine across backpressure retries: the
// engine offers no space-available notification, so the feed sleeps one
// buffer duration between synchronous resubmissions.
type AudioFeed struct {
	session MediaSession
	log     *slog.Logger
	desc    AudioDescriptor

	clock PlaybackClock

	// mu serializes Feed against Dispose; closed lets Dispose interrupt a
	// Feed blocked in the retry loop.
	mu     sync.Mutex
	opened bool
	closed atomic.Bool

	queueLevel int

	// Written by the engine callback thread on FrameReady.
	playtime atomic.Int64
	delay    atomic.Int64

	buffersSubmitted atomic.Uint64
	bytesSubmitted   atomic.Uint64
	retries          atomic.Uint64
	hardErrors       atomic.Uint64
}

// OpenAudioFeed loads the engine's audio pipeline for the described
// stream. Passthrough (AC3, E-AC3) and PCM layouts are supported.
func OpenAudioFeed(desc AudioDescriptor, cfg AudioFeedConfig) (*AudioFeed, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("%w: nil session", ErrConfigRejected)
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "audiofeed")

	desc = desc.normalized()
	if desc.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate required", ErrConfigRejected)
	}

	f := &AudioFeed{
		session: cfg.Session,
		log:     log,
		desc:    desc,
	}

	appID := cfg.AppID
	if appID == "" {
		appID = DefaultAppID
	}

	contents := contentsInfo{Format: "RAW"}
	f.queueLevel = defaultAudioQueueLevel
	srcMin := 0

	switch desc.Codec {
	case AudioCodecAC3:
		contents.Codec.Audio = desc.Codec.String()
		f.queueLevel = desc.FrameSize * 8
		srcMin = desc.FrameSize
	case AudioCodecEAC3:
		contents.Codec.Audio = desc.Codec.String()
		contents.AC3PlusInfo = &ac3PlusInfo{
			Channels:  desc.Channels,
			Frequency: float64(desc.SampleRate) / 1000,
		}
		f.queueLevel = desc.FrameSize * 8
		srcMin = desc.FrameSize
	case AudioCodecPCM:
		mode := desc.channelMode()
		if mode == "" {
			return nil, fmt.Errorf("%w: unsupported channel count %d", ErrConfigRejected, desc.Channels)
		}
		format := desc.Format.engineName()
		if format == "" {
			return nil, fmt.Errorf("%w: unsupported sample format", ErrConfigRejected)
		}
		layout := "interleaved"
		if desc.Planar {
			layout = "non-interleaved"
		}
		contents.Codec.Audio = desc.Codec.String()
		contents.PCMInfo = &pcmInfo{
			BitsPerSample: desc.Format.Bits(),
			SampleRate:    desc.SampleRate,
			Layout:        layout,
			ChannelMode:   mode,
			Format:        format,
		}
	default:
		return nil, fmt.Errorf("%w: unsupported audio codec", ErrConfigRejected)
	}

	contents.ESInfo = &esInfo{
		PauseAtDecodeTime: true,
		SeparatedPTS:      true,
	}

	payload := loadPayload{Args: []loadArg{{
		MediaTransportType: "BUFFERSTREAM",
		IsAudioOnly:        true,
		Option: loadOption{
			AppID:        appID,
			NeedAudio:    true,
			LowDelayMode: true,
			Transmission: &transmissionInfo{ContentsType: "LIVE"},
			ExternalStreamingInfo: &externalStreamingInfo{
				Contents: contents,
				Buffering: bufferingInfo{
					// The engine starts reporting BufferFull past this level.
					QBufferLevelAudio:   f.queueLevel,
					SrcBufferLevelAudio: &levelRange{Minimum: srcMin, Maximum: f.queueLevel},
				},
			},
		},
	}}}

	encoded, err := payload.encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigRejected, err)
	}

	f.session.NotifyForeground()
	log.Debug("sending load payload", "payload", encoded)
	if !f.session.Load(encoded, f.handleEvent) {
		log.Error("load failed")
		return nil, fmt.Errorf("%w: load refused", ErrConfigRejected)
	}

	f.opened = true
	log.Info("opened", "codec", desc.Codec.String(), "sampleRate", desc.SampleRate)
	return f, nil
}

// bufferDuration returns the playback duration of one submitted buffer:
// the compressed frame duration for passthrough, frames/sampleRate for
// PCM.
func (f *AudioFeed) bufferDuration(frames int) time.Duration {
	if f.desc.Codec.Passthrough() {
		return f.desc.FrameDuration()
	}
	return time.Duration(int64(time.Second) * int64(frames) / int64(f.desc.SampleRate))
}

// Feed submits one buffer of frames and returns the number of frames
// consumed. The buffer memory must stay valid for the duration of the
// call. On engine-queue saturation the call blocks, sleeping one buffer
// duration between synchronous retries, until the engine accepts the
// buffer or the feed is disposed. Any unrecognized engine status fails the
// call without corrupting feed state.
func (f *AudioFeed) Feed(data []byte, frames int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.opened {
		return 0, ErrFeedClosed
	}
	if len(data) == 0 || frames <= 0 {
		return 0, nil
	}

	pts := f.clock.Now()
	duration := f.bufferDuration(frames)
	f.clock.Advance(duration, frames)

	payload := encodeFeedPayload(uintptr(unsafe.Pointer(&data[0])), len(data), pts, esDataAudio)
	f.log.Debug("feed", "payload", payload)

	status := f.session.Feed(payload)
	for FeedBufferFull(status) {
		if f.closed.Load() {
			return 0, ErrFeedClosed
		}
		f.retries.Add(1)
		time.Sleep(duration)
		status = f.session.Feed(payload)
	}
	runtime.KeepAlive(data)

	if FeedAccepted(status) {
		f.buffersSubmitted.Add(1)
		f.bytesSubmitted.Add(uint64(len(data)))
		return frames, nil
	}

	f.log.Warn("buffer submit returned error", "status", status)
	f.hardErrors.Add(1)
	return 0, fmt.Errorf("%w: %s", ErrFeedFailed, status)
}

// Delay estimates how much submitted audio the engine still holds: the
// distance between the last submitted PTS and the last reported playtime,
// plus the platform's fixed output latency. Recomputed on every FrameReady
// event.
func (f *AudioFeed) Delay() time.Duration {
	return time.Duration(f.delay.Load()) + audioHWLatency
}

// Playtime returns the engine's last reported playback position in
// nanoseconds.
func (f *AudioFeed) Playtime() int64 { return f.playtime.Load() }

// Clock exposes the accumulated-PTS clock, mainly so callers can reset it
// across discontinuities.
func (f *AudioFeed) Clock() *PlaybackClock { return &f.clock }

// Drain asks the engine to discard queued audio. The engine exposes no
// distinct drain acknowledgment; the flush command is the closest
// primitive and is assumed non-failing.
func (f *AudioFeed) Drain() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.opened {
		return
	}
	f.session.Flush()
}

// Pause halts playback for the given wall-clock duration and resumes.
func (f *AudioFeed) Pause(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.opened {
		return
	}
	f.session.Pause()
	time.Sleep(d)
	f.session.Play()
}

// SignalEndOfStream tells the engine no further buffers follow.
func (f *AudioFeed) SignalEndOfStream() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.opened {
		return
	}
	f.session.PushEOS()
}

// Dispose unloads the engine. A Feed blocked in its retry loop observes
// the closed flag on its next iteration and returns ErrFeedClosed before
// the engine is torn down. Dispose is idempotent.
func (f *AudioFeed) Dispose() {
	f.closed.Store(true)

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.opened {
		return
	}
	f.opened = false

	f.session.Unload()
	f.log.Info("disposed")
}

// Stats returns a snapshot of the feed counters.
func (f *AudioFeed) Stats() AudioFeedStats {
	return AudioFeedStats{
		BuffersSubmitted: f.buffersSubmitted.Load(),
		BytesSubmitted:   f.bytesSubmitted.Load(),
		Retries:          f.retries.Load(),
		HardErrors:       f.hardErrors.Load(),
	}
}

// handleEvent dispatches engine callback events. It runs on an
// engine-owned thread and must only touch atomic state.
func (f *AudioFeed) handleEvent(ev Event) {
	switch ev.Type {
	case EventFrameReady:
		f.playtime.Store(ev.Num)
		f.delay.Store(f.clock.Now() - ev.Num)
	case EventStrStateUpdateLoadCompleted:
		f.session.Play()
	default:
		f.log.Debug("player event", "type", ev.Type.String(), "num", ev.Num, "str", ev.Str)
	}
}
