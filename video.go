package starfish

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// NoPTS marks buffers without a usable presentation timestamp.
const NoPTS = int64(math.MinInt64)

// FeedState tracks the video feed through the engine's asynchronous
// lifecycle.
type FeedState int32

const (
	// FeedStateReset: no load issued, nothing may be fed.
	FeedStateReset FeedState = iota
	// FeedStateFlushed: engine is loaded but the next buffer starts a new
	// decode run; a one-time Seek precedes it when the PTS is valid.
	FeedStateFlushed
	// FeedStateRunning: buffers flow and pictures may be polled.
	FeedStateRunning
)

func (s FeedState) String() string {
	switch s {
	case FeedStateReset:
		return "reset"
	case FeedStateFlushed:
		return "flushed"
	case FeedStateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// FeedBuffer is one demuxed elementary-stream buffer. Data references
// externally owned memory that must stay valid only for the duration of the
// Feed call; the engine consumes it synchronously and the feed never
// retains it.
type FeedBuffer struct {
	Data []byte
	PTS  int64 // nanoseconds

	// EOS marks the end-of-stream sentinel. EOS buffers carry no data and
	// are routed to the engine's dedicated drain command, never to Feed.
	EOS bool
}

// Picture is one synthesized decoded-picture handle. The engine composites
// pixels directly onto its surface; the handle carries timing only.
type Picture struct {
	PTS    int64 // nanoseconds
	Width  int
	Height int
}

// VideoFeedConfig configures a video feed.
type VideoFeedConfig struct {
	Session MediaSession    // required
	Surface SurfaceProvider // destination surface; consumed at Open time

	// Converter normalizes container access units and gates post-flush
	// submission on a keyframe. Defaults to an AnnexBConverter for
	// H.264/H.265 streams with unencrypted extradata; nil disables both
	// conversion and the gate for other streams.
	Converter BitstreamConverter

	AppID string // defaults to DefaultAppID
	Log   *slog.Logger
}

// DefaultAppID identifies the application to the media server when the
// config does not say otherwise.
const DefaultAppID = "com.webos.app.mediaplayer"

// VideoFeedStats provides feed counters. Snapshot via VideoFeed.Stats.
type VideoFeedStats struct {
	BuffersSubmitted uint64
	BytesSubmitted   uint64
	BuffersGated     uint64 // dropped while waiting for a keyframe
	BufferFull       uint64 // transient engine-queue saturation signals
	HardErrors       uint64
	Pictures         uint64
}

// VideoFeed drives the engine's single video pipeline: it owns lifecycle
// state, buffer submission, PTS bookkeeping and picture synthesis.
//
// A feed is owned by one goroutine (the player's decode/render loop) for
// every operation; only the engine event callback runs concurrently, and it
// touches nothing but atomic state.
type VideoFeed struct {
	session MediaSession
	conv    BitstreamConverter
	log     *slog.Logger

	mu      sync.Mutex
	opened  bool
	desc    StreamDescriptor
	release func()

	draining bool

	// state is written by the engine callback thread on LoadCompleted.
	state atomic.Int32

	// lastPlaytime is the edge detector for picture synthesis.
	lastPlaytime atomic.Int64

	fpsDuration time.Duration

	buffersSubmitted atomic.Uint64
	bytesSubmitted   atomic.Uint64
	buffersGated     atomic.Uint64
	bufferFull       atomic.Uint64
	hardErrors       atomic.Uint64
	pictures         atomic.Uint64
}

// OpenVideoFeed claims the hardware video pipeline and loads the engine for
// the described stream. Exactly one video feed may exist per process;
// concurrent opens fail fast with ErrAlreadyActive. The claim is released
// on every failure path and on Dispose.
func OpenVideoFeed(desc StreamDescriptor, cfg VideoFeedConfig) (*VideoFeed, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("%w: nil session", ErrConfigRejected)
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "videofeed")

	release, ok := acquireVideoPipeline()
	if !ok {
		log.Error("video pipeline already claimed")
		return nil, ErrAlreadyActive
	}

	v, err := openVideoFeed(desc, cfg, log, release)
	if err != nil {
		release()
		return nil, err
	}
	return v, nil
}

func openVideoFeed(desc StreamDescriptor, cfg VideoFeedConfig, log *slog.Logger, release func()) (*VideoFeed, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("%w: null size, cannot handle", ErrConfigRejected)
	}
	codecName := desc.Codec.engineName()
	if codecName == "" {
		return nil, fmt.Errorf("%w: unknown codec %d", ErrConfigRejected, desc.Codec)
	}

	log.Debug("open",
		"codec", desc.Codec.String(),
		"width", desc.Width, "height", desc.Height,
		"fpsRate", desc.FPSRate, "fpsScale", desc.FPSScale,
		"ptsInvalid", desc.PTSInvalid,
		"tag", desc.CodecTag,
		"extradata", len(desc.Extradata))

	v := &VideoFeed{
		session: cfg.Session,
		log:     log,
		desc:    desc,
		release: release,
	}

	appID := cfg.AppID
	if appID == "" {
		appID = DefaultAppID
	}

	contents := contentsInfo{
		Codec: codecInfo{Video: codecName},
		ESInfo: &esInfo{
			PauseAtDecodeTime: true,
			SeparatedPTS:      true,
			VideoWidth:        desc.Width,
			VideoHeight:       desc.Height,
			VideoFPSValue:     desc.FPSRate,
			VideoFPSScale:     desc.FPSScale,
		},
		Format: "RAW",
	}

	if desc.Codec == VideoCodecH265 {
		isDvhe := desc.CodecTag == tagDVHE
		isDvh1 := desc.CodecTag == tagDVH1
		// Some files lack the dvhe/dvh1 tag but carry Dolby Vision side
		// data; Dolby's HLS mapping ties hvc1 to dvh1.
		if !isDvhe && !isDvh1 && desc.DolbyVision {
			if desc.CodecTag == tagHVC1 {
				isDvh1 = true
			} else {
				isDvhe = true
			}
		}
		if isDvhe || isDvh1 {
			log.Debug("dolby vision stream", "dvh1", isDvh1)
			contents.DolbyHDRInfo = &dolbyHDRInfo{
				EncryptionType: "clear",
				ProfileID:      5,
				TrackType:      "single",
			}
		}
	}

	conv := cfg.Converter
	if conv == nil && len(desc.Extradata) > 0 && !desc.Encrypted {
		switch desc.Codec {
		case VideoCodecH264, VideoCodecH265:
			// A bad configuration record only disables conversion, it does
			// not fail the open.
			if c, err := NewAnnexBConverter(desc.Codec, desc.Extradata); err == nil {
				conv = c
			} else {
				log.Debug("bitstream converter disabled", "error", err)
			}
		}
	}
	v.conv = conv

	var windowID string
	if cfg.Surface != nil {
		windowID = cfg.Surface.ExportedWindowID()
	}

	v.session.NotifyForeground()

	payload := loadPayload{Args: []loadArg{{
		MediaTransportType: "BUFFERSTREAM",
		Option: loadOption{
			AppID:    appID,
			WindowID: windowID,
			// enables the CurrentPlaytime query the picture poll relies on
			QueryPosition: true,
			NeedAudio:     false,
			SeekMode:      "late_Iframe",
			LowDelayMode:  true,
			Transmission:  &transmissionInfo{ContentsType: "LIVE"},
			ExternalStreamingInfo: &externalStreamingInfo{
				Contents: contents,
				Buffering: bufferingInfo{
					QBufferLevelVideo:   videoQueueBufferLevel,
					SrcBufferLevelVideo: &levelRange{Minimum: videoSrcBufferMin, Maximum: videoSrcBufferMax},
				},
			},
		},
	}}}

	encoded, err := payload.encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigRejected, err)
	}
	log.Debug("sending load payload", "payload", encoded)
	if !v.session.Load(encoded, v.handleEvent) {
		log.Error("load failed")
		return nil, fmt.Errorf("%w: load refused", ErrConfigRejected)
	}

	if hdr := buildHDRPayload(desc); hdr != "" {
		log.Debug("setting hdr info", "payload", hdr)
		v.session.SetHdrInfo(hdr)
	}

	if desc.FPSRate > 0 && desc.FPSScale > 0 {
		v.fpsDuration = desc.FrameDuration()
	} else {
		v.fpsDuration = time.Nanosecond
	}

	v.state.Store(int32(FeedStateFlushed))
	v.opened = true
	log.Info("opened", "codec", codecName)
	return v, nil
}

// State returns the current lifecycle state.
func (v *VideoFeed) State() FeedState {
	return FeedState(v.state.Load())
}

// Feed submits one buffer. It returns accepted=false with a nil error on
// transient engine-queue saturation; the buffer was not consumed and should
// be resubmitted on the next decode cycle. A non-nil error means the buffer
// was rejected outright; feed state is unchanged and the caller may retry.
//
// While the feed is in FeedStateFlushed, buffers are withheld until the
// bitstream converter reports a decodable keyframe; the first submitted
// buffer then triggers exactly one Seek to its timestamp.
func (v *VideoFeed) Feed(buf FeedBuffer) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.opened {
		return false, ErrFeedClosed
	}

	if buf.EOS {
		v.session.PushEOS()
		return true, nil
	}

	pts := buf.PTS
	if v.desc.PTSInvalid {
		pts = NoPTS
	}

	data := buf.Data
	if len(data) > 0 && v.conv != nil {
		converted, err := v.conv.Convert(data)
		if err != nil {
			v.hardErrors.Add(1)
			return false, fmt.Errorf("%w: %v", ErrFeedFailed, err)
		}
		if v.State() == FeedStateFlushed && !v.conv.CanStartDecode() {
			v.log.Debug("waiting for keyframe")
			v.buffersGated.Add(1)
			return true, nil
		}
		data = converted
	}

	if v.State() == FeedStateFlushed {
		if pts > 0 {
			v.session.Seek(strconv.FormatInt(pts/int64(time.Millisecond), 10))
		}
		v.state.Store(int32(FeedStateRunning))
	}

	if len(data) == 0 {
		return true, nil
	}

	payload := encodeFeedPayload(uintptr(unsafe.Pointer(&data[0])), len(data), pts, esDataVideo)
	status := v.session.Feed(payload)
	runtime.KeepAlive(data)

	switch {
	case FeedAccepted(status):
		v.buffersSubmitted.Add(1)
		v.bytesSubmitted.Add(uint64(len(data)))
		return true, nil
	case FeedBufferFull(status):
		v.log.Warn("engine buffer full")
		v.bufferFull.Add(1)
		return false, nil
	default:
		v.log.Warn("buffer submit returned error", "status", status)
		v.hardErrors.Add(1)
		return false, fmt.Errorf("%w: %s", ErrFeedFailed, status)
	}
}

// GetPicture polls the engine for a new decoded picture. It returns
// (nil, nil) while no new picture is available: the engine offers no push
// notification, so availability is synthesized from changes of its playtime
// counter, emitting exactly one picture per distinct reported value.
func (v *VideoFeed) GetPicture() (*Picture, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.opened {
		return nil, ErrFeedClosed
	}
	if v.State() != FeedStateRunning {
		return nil, nil
	}

	playtime := v.session.CurrentPlaytime()
	// Unchanged counter: nothing new was decoded, we need more data.
	if playtime == v.lastPlaytime.Load() {
		return nil, nil
	}
	v.lastPlaytime.Store(playtime)
	v.pictures.Add(1)

	return &Picture{
		PTS:    playtime,
		Width:  v.desc.Width,
		Height: v.desc.Height,
	}, nil
}

// Reset flushes the engine and returns the feed to FeedStateFlushed: the
// keyframe gate is re-armed and the cached picture timestamp invalidated.
// The next accepted buffer seeks and starts a new decode run.
func (v *VideoFeed) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.log.Debug("reset")
	if !v.opened {
		return
	}

	v.session.Flush()
	v.state.Store(int32(FeedStateFlushed))
	v.lastPlaytime.Store(0)

	if v.conv != nil {
		v.conv.Reset()
	}
}

// Reconfigure adopts a new descriptor without reopening the engine. It
// succeeds only when the descriptors are equal ignoring stream id and
// extradata; any other difference leaves the session untouched and requires
// a full reopen.
func (v *VideoFeed) Reconfigure(desc StreamDescriptor) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.opened {
		return ErrFeedClosed
	}
	if !v.desc.EqualIgnoring(desc, CompareID|CompareExtradata) {
		v.log.Debug("reconfigure rejected")
		return ErrIncompatibleStream
	}
	v.log.Debug("reconfigure accepted")
	v.desc = desc
	return nil
}

// SetDrain pauses the engine while the player drains queued pictures and
// resumes playback when draining ends.
func (v *VideoFeed) SetDrain(drain bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.opened || drain == v.draining {
		return
	}
	v.draining = drain
	if drain {
		v.session.Pause()
	} else {
		v.session.Play()
	}
}

// SignalEndOfStream tells the engine no further buffers follow and it
// should decode out its queue.
func (v *VideoFeed) SignalEndOfStream() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.opened {
		return
	}
	v.session.PushEOS()
}

// Dispose unloads the engine and releases the video pipeline claim. The
// feed is permanently inert afterwards; calling Dispose again is a no-op.
func (v *VideoFeed) Dispose() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.opened {
		return
	}
	v.opened = false

	v.session.Unload()
	v.release()
	v.log.Info("disposed")
}

// Stats returns a snapshot of the feed counters.
func (v *VideoFeed) Stats() VideoFeedStats {
	return VideoFeedStats{
		BuffersSubmitted: v.buffersSubmitted.Load(),
		BytesSubmitted:   v.bytesSubmitted.Load(),
		BuffersGated:     v.buffersGated.Load(),
		BufferFull:       v.bufferFull.Load(),
		HardErrors:       v.hardErrors.Load(),
		Pictures:         v.pictures.Load(),
	}
}

// handleEvent dispatches engine callback events. It runs on an
// engine-owned thread and must only touch atomic state.
func (v *VideoFeed) handleEvent(ev Event) {
	switch ev.Type {
	case EventStrStateUpdateLoadCompleted:
		v.session.Play()
		v.state.Store(int32(FeedStateFlushed))
	default:
		// Unknown events never fail the session; newer firmwares add types.
		v.log.Debug("player event", "type", ev.Type.String(), "num", ev.Num, "str", ev.Str)
	}
}
