package starfish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// PlayerState represents the state of a video player loop.
type PlayerState int32

const (
	PlayerStateIdle    PlayerState = iota // Not started
	PlayerStateRunning                    // Pumping buffers and pictures
	PlayerStateStopped                    // Stopped
)

func (s PlayerState) String() string {
	switch s {
	case PlayerStateIdle:
		return "idle"
	case PlayerStateRunning:
		return "running"
	case PlayerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// BufferSource supplies demuxed elementary-stream buffers to a player
// loop. NextBuffer returns io.EOF once the stream ends; the buffer's Data
// must stay valid until the next NextBuffer call.
type BufferSource interface {
	NextBuffer() (FeedBuffer, error)
}

// VideoPlayerConfig configures a video player loop.
type VideoPlayerConfig struct {
	Source BufferSource // Demuxed buffer source
	Feed   *VideoFeed   // Open video feed

	// TickInterval paces the render loop; defaults to the stream's frame
	// duration, floored at one millisecond.
	TickInterval time.Duration

	OnPicture func(*Picture) // Decoded-picture edge callback
	OnError   func(error)    // Hard feed error callback

	Log *slog.Logger
}

// VideoPlayerStats provides player loop statistics.
type VideoPlayerStats struct {
	BuffersFed  uint64
	FeedRetries uint64 // resubmissions after engine-queue saturation
	Pictures    uint64
	HardErrors  uint64
	EndOfStream bool
}

// VideoPlayer runs the decode/render loop around one VideoFeed: it pulls
// buffers from the source, resubmits on backpressure, and polls the feed
// for picture edges once per tick.
type VideoPlayer struct {
	source BufferSource
	feed   *VideoFeed
	tick   time.Duration
	log    *slog.Logger

	onPicture func(*Picture)
	onError   func(error)

	state  atomic.Int32
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	buffersFed  atomic.Uint64
	feedRetries atomic.Uint64
	pictures    atomic.Uint64
	hardErrors  atomic.Uint64
	eos         atomic.Bool
}

// NewVideoPlayer creates a player loop over an open feed.
func NewVideoPlayer(cfg VideoPlayerConfig) (*VideoPlayer, error) {
	if cfg.Source == nil {
		return nil, errors.New("source is required")
	}
	if cfg.Feed == nil {
		return nil, errors.New("feed is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	tick := cfg.TickInterval
	if tick == 0 {
		tick = cfg.Feed.fpsDuration
	}
	if tick < time.Millisecond {
		tick = time.Millisecond
	}

	p := &VideoPlayer{
		source:    cfg.Source,
		feed:      cfg.Feed,
		tick:      tick,
		log:       log.With("component", "videoplayer"),
		onPicture: cfg.OnPicture,
		onError:   cfg.OnError,
	}
	p.state.Store(int32(PlayerStateIdle))
	return p, nil
}

// Start starts the player loop.
func (p *VideoPlayer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if PlayerState(p.state.Load()) == PlayerStateRunning {
		return fmt.Errorf("player already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.state.Store(int32(PlayerStateRunning))

	p.wg.Add(1)
	go p.run(ctx)
	return nil
}

// Stop stops the player loop and waits for it to exit. The feed itself is
// left open; dispose it separately.
func (p *VideoPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if PlayerState(p.state.Load()) != PlayerStateRunning {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.state.Store(int32(PlayerStateStopped))
}

// State returns the player state.
func (p *VideoPlayer) State() PlayerState {
	return PlayerState(p.state.Load())
}

// Stats returns a snapshot of the loop counters.
func (p *VideoPlayer) Stats() VideoPlayerStats {
	return VideoPlayerStats{
		BuffersFed:  p.buffersFed.Load(),
		FeedRetries: p.feedRetries.Load(),
		Pictures:    p.pictures.Load(),
		HardErrors:  p.hardErrors.Load(),
		EndOfStream: p.eos.Load(),
	}
}

func (p *VideoPlayer) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	// pending holds a buffer the engine pushed back with BufferFull; it is
	// resubmitted before any new buffer is pulled.
	var pending *FeedBuffer

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if pending == nil && !p.eos.Load() {
			buf, err := p.source.NextBuffer()
			switch {
			case err == nil:
				pending = &buf
			case errors.Is(err, io.EOF):
				p.feed.SignalEndOfStream()
				p.eos.Store(true)
				p.log.Info("end of stream")
			default:
				p.reportError(err)
			}
		}

		if pending != nil {
			accepted, err := p.feed.Feed(*pending)
			switch {
			case err != nil:
				// Hard failure: the buffer was not submitted; drop it and
				// keep the loop alive.
				p.hardErrors.Add(1)
				p.reportError(err)
				pending = nil
			case accepted:
				p.buffersFed.Add(1)
				pending = nil
			default:
				// Engine queue saturated; retry the same buffer next tick.
				p.feedRetries.Add(1)
			}
		}

		pic, err := p.feed.GetPicture()
		if err != nil {
			p.reportError(err)
			return
		}
		if pic != nil {
			p.pictures.Add(1)
			if p.onPicture != nil {
				p.onPicture(pic)
			}
		}
	}
}

func (p *VideoPlayer) reportError(err error) {
	if p.onError != nil {
		p.onError(err)
	} else {
		p.log.Warn("player error", "error", err)
	}
}
