package audio

import (
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrPlaybackClosed is returned by Play after Close
var ErrPlaybackClosed = errors.New("playback is closed")

const defaultTick = 20 * time.Millisecond

// Playback drains a DecodeBuffer into a writer at a fixed byte rate, exposing
// a media-element style position, duration and ended signal.
type Playback struct {
	buf    *DecodeBuffer
	w      io.Writer
	rate   int
	tick   time.Duration
	logger zerolog.Logger

	mu     sync.Mutex
	paused bool
	played int64
	ended  chan struct{}
	isEnd  bool
	err    error

	done chan struct{}
	once sync.Once
}

// PlaybackOption configures a Playback
type PlaybackOption func(*Playback)

// WithTick sets how often the playback loop writes to the output
func WithTick(d time.Duration) PlaybackOption {
	return func(p *Playback) {
		if d > 0 {
			p.tick = d
		}
	}
}

// WithLogger attaches a logger for write failures
func WithLogger(logger zerolog.Logger) PlaybackOption {
	return func(p *Playback) {
		p.logger = logger
	}
}

// NewPlayback starts a paused playback of buf written to w at rate bytes per second
func NewPlayback(buf *DecodeBuffer, w io.Writer, rate int, opts ...PlaybackOption) *Playback {
	if rate <= 0 {
		rate = BytesPerSecond
	}
	if w == nil {
		w = io.Discard
	}
	p := &Playback{
		buf:    buf,
		w:      w,
		rate:   rate,
		tick:   defaultTick,
		logger: zerolog.Nop(),
		paused: true,
		ended:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.run()
	return p
}

// Play resumes playback, restarting from the beginning once ended
func (p *Playback) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.done:
		return ErrPlaybackClosed
	default:
	}
	if p.isEnd {
		p.isEnd = false
		p.played = 0
		p.ended = make(chan struct{})
	}
	p.paused = false
	return nil
}

// Pause halts playback while keeping the position
func (p *Playback) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Paused reports whether playback is halted
func (p *Playback) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// CurrentTime returns the playback position in seconds
func (p *Playback) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.played) / float64(p.rate)
}

// Duration returns the total length in seconds, or +Inf while the stream is open
func (p *Playback) Duration() float64 {
	if p.buf.State() != StateEnded {
		return math.Inf(1)
	}
	return float64(p.buf.Size()) / float64(p.rate)
}

// Ended returns a channel closed when playback reaches the end of a completed stream
func (p *Playback) Ended() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

// Err returns the last write error, if any
func (p *Playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close stops the playback loop
func (p *Playback) Close() error {
	p.once.Do(func() {
		p.mu.Lock()
		p.paused = true
		p.mu.Unlock()
		close(p.done)
	})
	return nil
}

func (p *Playback) run() {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	step := int(int64(p.rate) * int64(p.tick) / int64(time.Second))
	if step <= 0 {
		step = 1
	}
	frame := make([]byte, step)

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.advance(frame)
		}
	}
}

func (p *Playback) advance(frame []byte) {
	p.mu.Lock()
	if p.paused || p.isEnd {
		p.mu.Unlock()
		return
	}
	off := p.played
	p.mu.Unlock()

	n, eof := p.buf.ReadAt(frame, off)
	if n > 0 {
		if _, err := p.w.Write(frame[:n]); err != nil {
			p.logger.Error().Err(err).Msg("Playback write failed")
			p.mu.Lock()
			p.err = err
			p.paused = true
			p.mu.Unlock()
			return
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.played == off {
		p.played = off + int64(n)
	}
	if p.paused {
		return
	}
	if eof {
		p.isEnd = true
		p.paused = true
		close(p.ended)
	}
}
