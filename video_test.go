package starfish

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// The video tests share the process-wide pipeline guard, so none of them
// run in parallel.

func mustOpenVideo(t *testing.T, desc StreamDescriptor, cfg VideoFeedConfig) *VideoFeed {
	t.Helper()
	v, err := OpenVideoFeed(desc, cfg)
	if err != nil {
		t.Fatalf("OpenVideoFeed: %v", err)
	}
	t.Cleanup(v.Dispose)
	return v
}

func TestOpenVideoFeedExclusive(t *testing.T) {
	first := mustOpenVideo(t, testDescriptor(), VideoFeedConfig{Session: newMockSession()})

	if _, err := OpenVideoFeed(testDescriptor(), VideoFeedConfig{Session: newMockSession()}); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second open: got %v, want ErrAlreadyActive", err)
	}

	first.Dispose()

	second := mustOpenVideo(t, testDescriptor(), VideoFeedConfig{Session: newMockSession()})
	second.Dispose()
}

func TestOpenVideoFeedConcurrent(t *testing.T) {
	const openers = 8

	var wg sync.WaitGroup
	feeds := make([]*VideoFeed, openers)
	errs := make([]error, openers)

	for i := 0; i < openers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			feeds[i], errs[i] = OpenVideoFeed(testDescriptor(), VideoFeedConfig{Session: newMockSession()})
		}(i)
	}
	wg.Wait()

	won := 0
	for i := 0; i < openers; i++ {
		if errs[i] == nil {
			won++
			defer feeds[i].Dispose()
		} else if !errors.Is(errs[i], ErrAlreadyActive) {
			t.Errorf("opener %d: got %v, want ErrAlreadyActive", i, errs[i])
		}
	}
	if won != 1 {
		t.Fatalf("winners: got %d, want 1", won)
	}
}

func TestOpenVideoFeedReleasesGuardOnFailure(t *testing.T) {
	bad := testDescriptor()
	bad.Width = 0
	if _, err := OpenVideoFeed(bad, VideoFeedConfig{Session: newMockSession()}); !errors.Is(err, ErrConfigRejected) {
		t.Fatalf("zero size open: got %v, want ErrConfigRejected", err)
	}

	refusing := newMockSession()
	refusing.loadRefused = true
	if _, err := OpenVideoFeed(testDescriptor(), VideoFeedConfig{Session: refusing}); !errors.Is(err, ErrConfigRejected) {
		t.Fatalf("refused load: got %v, want ErrConfigRejected", err)
	}

	// Both failures must have released the pipeline claim.
	v := mustOpenVideo(t, testDescriptor(), VideoFeedConfig{Session: newMockSession()})
	v.Dispose()
}

func TestVideoFeedSeekOncePerRun(t *testing.T) {
	session := newMockSession()
	v := mustOpenVideo(t, testDescriptor(), VideoFeedConfig{Session: session})

	for i := 0; i < 3; i++ {
		pts := int64(i+1) * int64(500*time.Millisecond)
		if ok, err := v.Feed(FeedBuffer{Data: []byte{1, 2, 3}, PTS: pts}); !ok || err != nil {
			t.Fatalf("feed %d: ok=%v err=%v", i, ok, err)
		}
	}

	if got := session.commandCount("seek"); got != 1 {
		t.Fatalf("seeks after one run: got %d, want 1", got)
	}
	if got := session.lastCommand("seek"); got != "seek:500" {
		t.Fatalf("seek position: got %q, want seek:500", got)
	}
	if v.State() != FeedStateRunning {
		t.Fatalf("state: got %s, want running", v.State())
	}

	v.Reset()
	if v.State() != FeedStateFlushed {
		t.Fatalf("state after reset: got %s, want flushed", v.State())
	}
	if got := session.commandCount("flush"); got != 1 {
		t.Fatalf("flushes: got %d, want 1", got)
	}

	if _, err := v.Feed(FeedBuffer{Data: []byte{4}, PTS: int64(2 * time.Second)}); err != nil {
		t.Fatalf("feed after reset: %v", err)
	}
	if got := session.commandCount("seek"); got != 2 {
		t.Fatalf("seeks after second run: got %d, want 2", got)
	}
	if got := session.lastCommand("seek"); got != "seek:2000" {
		t.Fatalf("second seek position: got %q, want seek:2000", got)
	}
}

func TestVideoFeedNoSeekWithoutPTS(t *testing.T) {
	desc := testDescriptor()
	desc.PTSInvalid = true
	session := newMockSession()
	v := mustOpenVideo(t, desc, VideoFeedConfig{Session: session})

	if ok, err := v.Feed(FeedBuffer{Data: []byte{1}, PTS: int64(time.Second)}); !ok || err != nil {
		t.Fatalf("feed: ok=%v err=%v", ok, err)
	}
	if got := session.commandCount("seek"); got != 0 {
		t.Fatalf("seeks: got %d, want 0", got)
	}
	if v.State() != FeedStateRunning {
		t.Fatalf("state: got %s, want running", v.State())
	}
}

func TestVideoFeedKeyframeGate(t *testing.T) {
	session := newMockSession()
	gate := &gateConverter{}
	v := mustOpenVideo(t, testDescriptor(), VideoFeedConfig{Session: session, Converter: gate})

	// Non-keyframes after a flush are swallowed, not submitted.
	for i := 0; i < 2; i++ {
		if ok, err := v.Feed(FeedBuffer{Data: []byte("delta"), PTS: 1}); !ok || err != nil {
			t.Fatalf("gated feed: ok=%v err=%v", ok, err)
		}
	}
	if got := session.feedCount(); got != 0 {
		t.Fatalf("submissions while gated: got %d, want 0", got)
	}
	if v.State() != FeedStateFlushed {
		t.Fatalf("state while gated: got %s, want flushed", v.State())
	}

	if ok, err := v.Feed(FeedBuffer{Data: []byte("K-frame"), PTS: 1}); !ok || err != nil {
		t.Fatalf("keyframe feed: ok=%v err=%v", ok, err)
	}
	if got := session.feedCount(); got != 1 {
		t.Fatalf("submissions after keyframe: got %d, want 1", got)
	}
	if v.State() != FeedStateRunning {
		t.Fatalf("state after keyframe: got %s, want running", v.State())
	}

	// Reset must re-arm the gate.
	v.Reset()
	if gate.resets != 1 {
		t.Fatalf("gate resets: got %d, want 1", gate.resets)
	}
	if ok, err := v.Feed(FeedBuffer{Data: []byte("delta"), PTS: 1}); !ok || err != nil {
		t.Fatalf("gated feed after reset: ok=%v err=%v", ok, err)
	}
	if got := session.feedCount(); got != 1 {
		t.Fatalf("submissions after reset: got %d, want 1", got)
	}
}

func TestVideoFeedBufferFull(t *testing.T) {
	session := newMockSession()
	session.feedScript = []string{"BufferFull", "Ok"}
	v := mustOpenVideo(t, testDescriptor(), VideoFeedConfig{Session: session})

	buf := FeedBuffer{Data: []byte{1, 2}, PTS: 1}
	ok, err := v.Feed(buf)
	if ok || err != nil {
		t.Fatalf("saturated feed: ok=%v err=%v, want ok=false err=nil", ok, err)
	}

	ok, err = v.Feed(buf)
	if !ok || err != nil {
		t.Fatalf("resubmitted feed: ok=%v err=%v", ok, err)
	}
	if got := v.Stats().BufferFull; got != 1 {
		t.Fatalf("BufferFull stat: got %d, want 1", got)
	}
}

func TestVideoFeedHardError(t *testing.T) {
	session := newMockSession()
	session.feedScript = []string{"Ok", "DecoderError: something went sideways"}
	v := mustOpenVideo(t, testDescriptor(), VideoFeedConfig{Session: session})

	if ok, err := v.Feed(FeedBuffer{Data: []byte{1}, PTS: 1}); !ok || err != nil {
		t.Fatalf("first feed: ok=%v err=%v", ok, err)
	}

	if _, err := v.Feed(FeedBuffer{Data: []byte{2}, PTS: 2}); !errors.Is(err, ErrFeedFailed) {
		t.Fatalf("hard error feed: got %v, want ErrFeedFailed", err)
	}
	// A hard failure must not corrupt feed state.
	if v.State() != FeedStateRunning {
		t.Fatalf("state after hard error: got %s, want running", v.State())
	}
	if ok, err := v.Feed(FeedBuffer{Data: []byte{3}, PTS: 3}); !ok || err != nil {
		t.Fatalf("feed after hard error: ok=%v err=%v", ok, err)
	}
}

func TestVideoFeedEOS(t *testing.T) {
	session := newMockSession()
	v := mustOpenVideo(t, testDescriptor(), VideoFeedConfig{Session: session})

	if ok, err := v.Feed(FeedBuffer{EOS: true}); !ok || err != nil {
		t.Fatalf("eos feed: ok=%v err=%v", ok, err)
	}
	if got := session.commandCount("eos"); got != 1 {
		t.Fatalf("eos commands: got %d, want 1", got)
	}
	// EOS never travels through Feed and never starts a run.
	if got := session.feedCount(); got != 0 {
		t.Fatalf("submissions: got %d, want 0", got)
	}
	if v.State() != FeedStateFlushed {
		t.Fatalf("state: got %s, want flushed", v.State())
	}
}

func TestVideoFeedGetPictureEdgeTriggered(t *testing.T) {
	session := newMockSession()
	v := mustOpenVideo(t, testDescriptor(), VideoFeedConfig{Session: session})

	// No pictures while flushed.
	if pic, err := v.GetPicture(); pic != nil || err != nil {
		t.Fatalf("picture while flushed: pic=%v err=%v", pic, err)
	}

	if _, err := v.Feed(FeedBuffer{Data: []byte{1}, PTS: 1}); err != nil {
		t.Fatalf("feed: %v", err)
	}

	var got []int64
	for _, pt := range []int64{0, 100, 100, 100, 250, 400, 400} {
		session.setPlaytime(pt)
		pic, err := v.GetPicture()
		if err != nil {
			t.Fatalf("GetPicture: %v", err)
		}
		if pic != nil {
			got = append(got, pic.PTS)
		}
	}

	want := []int64{100, 250, 400}
	if len(got) != len(want) {
		t.Fatalf("pictures: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pictures: got %v, want %v", got, want)
		}
	}

	if pic, _ := v.GetPicture(); pic != nil {
		t.Fatal("picture without playtime change")
	}

	// Dimensions ride along on the synthesized handle.
	session.setPlaytime(500)
	pic, err := v.GetPicture()
	if err != nil || pic == nil {
		t.Fatalf("GetPicture: pic=%v err=%v", pic, err)
	}
	if pic.Width != 1920 || pic.Height != 1080 {
		t.Fatalf("picture dims: got %dx%d, want 1920x1080", pic.Width, pic.Height)
	}
}

func TestVideoFeedReconfigure(t *testing.T) {
	session := newMockSession()
	v := mustOpenVideo(t, testDescriptor(), VideoFeedConfig{Session: session})

	compatible := testDescriptor()
	compatible.ID = 7
	compatible.Extradata = []byte{1, 2, 3}
	if err := v.Reconfigure(compatible); err != nil {
		t.Fatalf("compatible reconfigure: %v", err)
	}

	incompatible := testDescriptor()
	incompatible.Width = 1280
	incompatible.Height = 720
	if err := v.Reconfigure(incompatible); !errors.Is(err, ErrIncompatibleStream) {
		t.Fatalf("incompatible reconfigure: got %v, want ErrIncompatibleStream", err)
	}
	// The failed reconfigure must leave the session untouched.
	if got := session.commandCount("unload"); got != 0 {
		t.Fatalf("unloads after failed reconfigure: got %d, want 0", got)
	}
	if v.desc.Width != 1920 {
		t.Fatalf("descriptor width: got %d, want 1920", v.desc.Width)
	}
}

func TestVideoFeedDisposeIdempotent(t *testing.T) {
	session := newMockSession()
	v := mustOpenVideo(t, testDescriptor(), VideoFeedConfig{Session: session})

	v.Dispose()
	v.Dispose()

	if got := session.commandCount("unload"); got != 1 {
		t.Fatalf("unloads: got %d, want 1", got)
	}
	if _, err := v.Feed(FeedBuffer{Data: []byte{1}}); !errors.Is(err, ErrFeedClosed) {
		t.Fatalf("feed after dispose: got %v, want ErrFeedClosed", err)
	}
	if _, err := v.GetPicture(); !errors.Is(err, ErrFeedClosed) {
		t.Fatalf("picture after dispose: got %v, want ErrFeedClosed", err)
	}
	if err := v.Reconfigure(testDescriptor()); !errors.Is(err, ErrFeedClosed) {
		t.Fatalf("reconfigure after dispose: got %v, want ErrFeedClosed", err)
	}
}

func TestVideoFeedLoadCompletedStartsPlayback(t *testing.T) {
	session := newMockSession()
	v := mustOpenVideo(t, testDescriptor(), VideoFeedConfig{Session: session})

	session.completeLoad()
	if got := session.commandCount("play"); got != 1 {
		t.Fatalf("plays: got %d, want 1", got)
	}
	if v.State() != FeedStateFlushed {
		t.Fatalf("state: got %s, want flushed", v.State())
	}

	// Unknown event types must be ignored.
	session.emit(Event{Type: EventType(99), Num: 1, Str: "future"})
	if v.State() != FeedStateFlushed {
		t.Fatalf("state after unknown event: got %s, want flushed", v.State())
	}
}

func TestVideoFeedSetDrain(t *testing.T) {
	session := newMockSession()
	v := mustOpenVideo(t, testDescriptor(), VideoFeedConfig{Session: session})

	v.SetDrain(true)
	v.SetDrain(true) // no-op, already draining
	if got := session.commandCount("pause"); got != 1 {
		t.Fatalf("pauses: got %d, want 1", got)
	}

	v.SetDrain(false)
	if got := session.commandCount("play"); got != 1 {
		t.Fatalf("plays: got %d, want 1", got)
	}
}

func TestVideoFeedLoadPayload(t *testing.T) {
	desc := testDescriptor()
	desc.Mastering = &MasteringMetadata{
		DisplayPrimaries: [3][2]float64{{0.68, 0.32}, {0.265, 0.69}, {0.15, 0.06}},
		WhitePoint:       [2]float64{0.3127, 0.329},
		MinLuminance:     0.005,
		MaxLuminance:     1000,
	}
	desc.Color = ColorInfo{TransferCharacteristics: transferSMPTE2084, Primaries: 9, MatrixCoeffs: 9}

	session := newMockSession()
	v := mustOpenVideo(t, desc, VideoFeedConfig{
		Session: session,
		Surface: StaticSurface("window-7"),
		AppID:   "com.example.player",
	})
	defer v.Dispose()

	var payload struct {
		Args []struct {
			MediaTransportType string `json:"mediaTransportType"`
			Option             struct {
				AppID         string `json:"appId"`
				WindowID      string `json:"windowId"`
				QueryPosition bool   `json:"queryPosition"`
				NeedAudio     bool   `json:"needAudio"`
				SeekMode      string `json:"seekMode"`
				External      struct {
					Contents struct {
						Codec  codecInfo `json:"codec"`
						ESInfo esInfo    `json:"esInfo"`
						Format string    `json:"format"`
					} `json:"contents"`
					Buffering bufferingInfo `json:"bufferingCtrInfo"`
				} `json:"externalStreamingInfo"`
			} `json:"option"`
		} `json:"args"`
	}
	if err := json.Unmarshal([]byte(session.loadPayload), &payload); err != nil {
		t.Fatalf("unmarshal load payload: %v", err)
	}
	if len(payload.Args) != 1 {
		t.Fatalf("args: got %d, want 1", len(payload.Args))
	}
	arg := payload.Args[0]
	if arg.MediaTransportType != "BUFFERSTREAM" {
		t.Errorf("mediaTransportType: got %q", arg.MediaTransportType)
	}
	if arg.Option.AppID != "com.example.player" || arg.Option.WindowID != "window-7" {
		t.Errorf("appId/windowId: got %q/%q", arg.Option.AppID, arg.Option.WindowID)
	}
	if !arg.Option.QueryPosition {
		t.Error("queryPosition not set; picture polling needs it")
	}
	if arg.Option.NeedAudio {
		t.Error("needAudio set on a video load")
	}
	if arg.Option.SeekMode != "late_Iframe" {
		t.Errorf("seekMode: got %q", arg.Option.SeekMode)
	}
	contents := arg.Option.External.Contents
	if contents.Codec.Video != "H264" || contents.Format != "RAW" {
		t.Errorf("codec/format: got %q/%q", contents.Codec.Video, contents.Format)
	}
	if contents.ESInfo.VideoWidth != 1920 || contents.ESInfo.VideoHeight != 1080 {
		t.Errorf("esInfo dims: got %dx%d", contents.ESInfo.VideoWidth, contents.ESInfo.VideoHeight)
	}
	if contents.ESInfo.VideoFPSValue != 30000 || contents.ESInfo.VideoFPSScale != 1001 {
		t.Errorf("esInfo fps: got %d/%d", contents.ESInfo.VideoFPSValue, contents.ESInfo.VideoFPSScale)
	}
	buffering := arg.Option.External.Buffering
	if buffering.QBufferLevelVideo != videoQueueBufferLevel {
		t.Errorf("qBufferLevelVideo: got %d", buffering.QBufferLevelVideo)
	}
	if buffering.SrcBufferLevelVideo == nil || buffering.SrcBufferLevelVideo.Maximum != videoSrcBufferMax {
		t.Errorf("srcBufferLevelVideo: got %+v", buffering.SrcBufferLevelVideo)
	}

	// Mastering metadata must have been pushed right after Load.
	hdr := session.lastCommand("hdr")
	if hdr == "" {
		t.Fatal("no hdr payload sent")
	}
	if !strings.Contains(hdr, `"hdrType":"HDR10"`) {
		t.Errorf("hdr payload type: %q", hdr)
	}
	if !strings.Contains(hdr, `"displayPrimariesX0":34000`) {
		t.Errorf("hdr payload primaries: %q", hdr)
	}
}

func TestVideoFeedDolbyVisionPayload(t *testing.T) {
	desc := testDescriptor()
	desc.Codec = VideoCodecH265
	desc.CodecTag = tagDVHE

	session := newMockSession()
	v := mustOpenVideo(t, desc, VideoFeedConfig{Session: session})
	defer v.Dispose()

	if !strings.Contains(session.loadPayload, `"DolbyHdrInfo"`) {
		t.Fatalf("load payload missing DolbyHdrInfo: %s", session.loadPayload)
	}
	if !strings.Contains(session.loadPayload, `"profileId":5`) {
		t.Fatalf("load payload missing dolby profile: %s", session.loadPayload)
	}
}

func TestVideoFeedFeedPayload(t *testing.T) {
	session := newMockSession()
	v := mustOpenVideo(t, testDescriptor(), VideoFeedConfig{Session: session})

	data := []byte{0, 0, 0, 1, 0x65, 1, 2, 3}
	pts := int64(1500 * time.Millisecond)
	if ok, err := v.Feed(FeedBuffer{Data: data, PTS: pts}); !ok || err != nil {
		t.Fatalf("feed: ok=%v err=%v", ok, err)
	}

	var payload feedPayload
	if err := json.Unmarshal([]byte(session.feedPayload(0)), &payload); err != nil {
		t.Fatalf("unmarshal feed payload: %v", err)
	}
	if payload.BufferSize != len(data) {
		t.Errorf("bufferSize: got %d, want %d", payload.BufferSize, len(data))
	}
	if payload.PTS != pts {
		t.Errorf("pts: got %d, want %d", payload.PTS, pts)
	}
	if payload.ESData != esDataVideo {
		t.Errorf("esData: got %d, want %d", payload.ESData, esDataVideo)
	}
	if !strings.HasPrefix(payload.BufferAddr, "0x") {
		t.Errorf("bufferAddr: got %q", payload.BufferAddr)
	}
}
