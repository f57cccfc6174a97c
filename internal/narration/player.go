package narration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pagecast/narrator/internal/audio"
	"github.com/pagecast/narrator/internal/observability"
	"github.com/pagecast/narrator/internal/voices"
)

const defaultPollInterval = 100 * time.Millisecond

// Option configures a Player
type Option func(*Player)

// WithPollInterval sets how often playback position is sampled while playing
func WithPollInterval(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithStallTimeout aborts a session when no chunk arrives within d. Zero disables it.
func WithStallTimeout(d time.Duration) Option {
	return func(p *Player) {
		p.stallTimeout = d
	}
}

// WithObserver registers a telemetry observer
func WithObserver(fn Observer) Option {
	return func(p *Player) {
		p.observer = fn
	}
}

// WithLogger sets the player logger
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Player) {
		p.logger = logger
	}
}

// WithSettings sets the initial voice settings
func WithSettings(s voices.Settings) Option {
	return func(p *Player) {
		p.settings = s
	}
}

// Player drives narration sessions: one streaming request feeding one decode
// sink whose output is already playing.
type Player struct {
	streamer     Streamer
	media        MediaFactory
	pollInterval time.Duration
	stallTimeout time.Duration
	observer     Observer
	logger       zerolog.Logger

	mu       sync.Mutex
	text     string
	settings voices.Settings
	sess     *session

	playing     bool
	paused      bool
	generated   bool
	streaming   bool
	ended       bool
	currentTime float64
	duration    float64
	chunks      int
	bytes       int64
	err         error
}

// NewPlayer creates an idle player
func NewPlayer(streamer Streamer, media MediaFactory, opts ...Option) *Player {
	p := &Player{
		streamer:     streamer,
		media:        media,
		pollInterval: defaultPollInterval,
		logger:       observability.WithComponent("narration"),
		settings:     voices.DefaultSettings(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetText sets the text narrated by the next new session
func (p *Player) SetText(text string) {
	p.mu.Lock()
	p.text = text
	p.mu.Unlock()
}

// Text returns the current text
func (p *Player) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text
}

// SetSettings sets the voice settings used by the next new session
func (p *Player) SetSettings(s voices.Settings) {
	p.mu.Lock()
	p.settings = s
	p.mu.Unlock()
}

// Settings returns the current voice settings
func (p *Player) Settings() voices.Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// Play starts a new session, or resumes the current one when paused.
// Calling Play while already playing does nothing.
func (p *Player) Play(ctx context.Context) error {
	p.mu.Lock()

	if s := p.sess; s != nil && p.paused && !outputEnded(s) {
		if err := s.out.Play(); err != nil {
			p.mu.Unlock()
			return fmt.Errorf("resume output: %w", err)
		}
		p.paused = false
		p.playing = true
		p.startPollLocked(s)
		snap := p.snapshotLocked()
		p.mu.Unlock()

		s.logger.Debug().Msg("Narration resumed")
		p.notify(snap)
		return nil
	}
	if p.playing {
		p.mu.Unlock()
		return nil
	}

	text := strings.TrimSpace(p.text)
	if text == "" {
		p.mu.Unlock()
		return ErrEmptyText
	}

	if old := p.sess; old != nil {
		p.teardownLocked(old, true)
		p.sess = nil
	}

	sink, out, err := p.media()
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("create media: %w", err)
	}

	s := newSession(ctx, sink, out, p.logger)
	p.sess = s
	p.playing = true
	p.paused = false
	p.generated = true
	p.streaming = true
	p.ended = false
	p.currentTime = 0
	p.duration = 0
	p.chunks = 0
	p.bytes = 0
	p.err = nil

	if err := out.Play(); err != nil {
		p.teardownLocked(s, true)
		p.sess = nil
		p.clearLocked()
		p.mu.Unlock()
		return fmt.Errorf("start output: %w", err)
	}

	p.startPollLocked(s)
	if p.stallTimeout > 0 {
		s.armStall(p.stallTimeout)
	}
	req := Request{Text: text, ModelOptions: p.settings}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	s.logger.Info().Int("text_length", len(text)).Str("voice", req.ModelOptions.Voice.Value).Msg("Narration started")
	observability.RecordNarrationEvent("started")
	p.notify(snap)

	go p.ingest(s, req)
	return nil
}

// Pause suspends output and telemetry polling, keeping the buffered audio
func (p *Player) Pause() {
	p.mu.Lock()
	s := p.sess
	if s == nil || !p.playing {
		p.mu.Unlock()
		return
	}
	p.stopPollLocked(s)
	if outputEnded(s) {
		p.endedLocked()
		snap := p.snapshotLocked()
		p.mu.Unlock()

		p.logEnded(s, snap)
		return
	}
	s.out.Pause()
	p.playing = false
	p.paused = true
	snap := p.snapshotLocked()
	p.mu.Unlock()

	s.logger.Debug().Msg("Narration paused")
	p.notify(snap)
}

// Stop halts output and ingestion but keeps the session's generated state,
// duration and chunk count. The next Play starts a fresh session.
func (p *Player) Stop() {
	p.mu.Lock()
	s := p.sess
	if s == nil || !s.isActive() {
		p.mu.Unlock()
		return
	}
	p.teardownLocked(s, false)
	p.playing = false
	p.paused = false
	p.streaming = false
	p.currentTime = 0
	snap := p.snapshotLocked()
	p.mu.Unlock()

	s.logger.Info().Msg("Narration stopped")
	observability.RecordNarrationEvent("stopped")
	p.notify(snap)
}

// Reset abandons the current session, discards its output and buffer and
// zeroes all telemetry. Resetting an idle player does nothing.
func (p *Player) Reset() {
	p.mu.Lock()
	s := p.sess
	p.sess = nil
	if s != nil {
		p.teardownLocked(s, true)
	}
	changed := p.clearLocked()
	snap := p.snapshotLocked()
	p.mu.Unlock()

	if s != nil {
		s.logger.Info().Msg("Narration reset")
		observability.RecordNarrationEvent("reset")
	}
	if changed {
		p.notify(snap)
	}
}

// Telemetry returns a snapshot of the current telemetry
func (p *Player) Telemetry() Telemetry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// State returns the lifecycle state derived from the player flags
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case !p.generated:
		return StateIdle
	case p.playing:
		return StatePlaying
	case p.paused:
		return StatePaused
	case p.ended:
		return StateEnded
	case p.err != nil:
		return StateFailed
	}
	return StateStopped
}

func (p *Player) snapshotLocked() Telemetry {
	t := Telemetry{
		IsPlaying:      p.playing,
		IsPaused:       p.paused,
		IsGenerated:    p.generated,
		IsStreaming:    p.streaming,
		CurrentTime:    p.currentTime,
		Duration:       p.duration,
		Progress:       Progress(p.currentTime, p.duration),
		ChunksReceived: p.chunks,
		BytesReceived:  p.bytes,
		Err:            p.err,
	}
	if p.sess != nil {
		t.SessionID = p.sess.id
	}
	return t
}

// clearLocked zeroes flags and counters and reports whether anything changed
func (p *Player) clearLocked() bool {
	changed := p.playing || p.paused || p.generated || p.streaming || p.ended ||
		p.currentTime != 0 || p.duration != 0 || p.chunks != 0 || p.bytes != 0 || p.err != nil
	p.playing = false
	p.paused = false
	p.generated = false
	p.streaming = false
	p.ended = false
	p.currentTime = 0
	p.duration = 0
	p.chunks = 0
	p.bytes = 0
	p.err = nil
	return changed
}

// teardownLocked deactivates s, cancels its ingestion and stops its timers.
// With release the output and sink are closed as well.
func (p *Player) teardownLocked(s *session, release bool) {
	s.deactivate()
	p.stopPollLocked(s)
	s.out.Pause()
	if release {
		if err := s.out.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close output")
		}
		if err := s.sink.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close decode sink")
		}
	}
}

func (p *Player) isCurrentLocked(s *session) bool {
	return p.sess == s && s.isActive()
}

func (p *Player) notify(t Telemetry) {
	if p.observer != nil {
		p.observer(t)
	}
}

func (p *Player) startPollLocked(s *session) {
	if s.pollStop != nil {
		return
	}
	stop := make(chan struct{})
	s.pollStop = stop
	go p.poll(s, stop, s.out.Ended())
}

func (p *Player) stopPollLocked(s *session) {
	if s.pollStop != nil {
		close(s.pollStop)
		s.pollStop = nil
	}
}

func (p *Player) poll(s *session, stop chan struct{}, ended <-chan struct{}) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ended:
			p.handleEnded(s, stop)
			return
		case <-ticker.C:
			p.sample(s, stop)
		}
	}
}

// sample publishes the output position and any longer output duration
func (p *Player) sample(s *session, stop chan struct{}) {
	pos := finite(s.out.CurrentTime())
	dur := finite(s.out.Duration())

	p.mu.Lock()
	if !p.isCurrentLocked(s) || s.pollStop != stop {
		p.mu.Unlock()
		return
	}
	if dur > p.duration {
		p.duration = dur
	}
	if p.duration > 0 && pos > p.duration {
		pos = p.duration
	}
	p.currentTime = pos
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.notify(snap)
}

func (p *Player) handleEnded(s *session, stop chan struct{}) {
	p.mu.Lock()
	if !p.isCurrentLocked(s) || s.pollStop != stop {
		p.mu.Unlock()
		return
	}
	s.pollStop = nil
	p.endedLocked()
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.logEnded(s, snap)
}

func (p *Player) endedLocked() {
	p.playing = false
	p.paused = false
	p.ended = true
	p.currentTime = 0
}

func (p *Player) logEnded(s *session, snap Telemetry) {
	s.logger.Info().Float64("duration", snap.Duration).Int("chunks", snap.ChunksReceived).Msg("Narration ended")
	observability.RecordNarrationEvent("ended")
	p.notify(snap)
}

// outputEnded reports whether the session's output already reached its end
func outputEnded(s *session) bool {
	select {
	case <-s.out.Ended():
		return true
	default:
		return false
	}
}

// ingest runs the streaming loop for s and records its outcome
func (p *Player) ingest(s *session, req Request) {
	defer s.finish()

	err := p.consume(s, req)

	p.mu.Lock()
	if !p.isCurrentLocked(s) {
		p.mu.Unlock()
		return
	}
	p.streaming = false
	if err != nil {
		p.err = err
		if !isSinkError(err) {
			// Transport failures end the session; the next Play starts over
			s.out.Pause()
			p.stopPollLocked(s)
			p.playing = false
			p.paused = false
		}
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	switch {
	case err == nil:
		s.logger.Info().Int("chunks", snap.ChunksReceived).Int64("bytes", snap.BytesReceived).Msg("Audio stream complete")
		observability.RecordNarrationEvent("streamed")
	case isSinkError(err):
		s.logger.Error().Err(err).Int("chunks", snap.ChunksReceived).Msg("Decode sink rejected chunk, keeping buffered audio")
		observability.RecordError("sink", "narration")
		observability.RecordNarrationEvent("failed")
	default:
		s.logger.Error().Err(err).Int("chunks", snap.ChunksReceived).Msg("Audio stream failed")
		observability.RecordError("transport", "narration")
		observability.RecordNarrationEvent("failed")
	}
	p.notify(snap)
}

// consume pulls chunks from the stream and appends them to the sink one at
// a time, in arrival order
func (p *Player) consume(s *session, req Request) (err error) {
	defer func() {
		if err != nil && s.stalled() {
			err = ErrStalled
		}
	}()

	stream, err := p.streamer.Stream(s.ctx, req)
	if err != nil {
		return fmt.Errorf("open audio stream: %w", err)
	}
	if stream == nil {
		return ErrNoBody
	}
	defer stream.Close()

	for {
		chunk, err := stream.Next(s.ctx)
		if err != nil {
			if isEOF(err) {
				return p.endOfStream(s)
			}
			return fmt.Errorf("read audio stream: %w", err)
		}
		if len(chunk) == 0 {
			continue
		}
		s.touch(p.stallTimeout)

		p.mu.Lock()
		if !p.isCurrentLocked(s) {
			p.mu.Unlock()
			return nil
		}
		p.bytes += int64(len(chunk))
		p.chunks++
		if est := audio.EstimateDuration(p.bytes); est > p.duration {
			p.duration = est
		}
		snap := p.snapshotLocked()
		p.mu.Unlock()
		p.notify(snap)

		if s.sink.Updating() {
			if err := s.sink.WaitUpdateEnd(s.ctx); err != nil {
				return fmt.Errorf("wait for decode sink: %w", err)
			}
		}
		if !s.sink.Open() {
			return ErrSinkClosed
		}
		if err := s.sink.Append(s.ctx, chunk); err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return fmt.Errorf("append chunk: %w", ctxErr)
			}
			return fmt.Errorf("%w: %w", ErrSinkClosed, err)
		}
		observability.RecordNarrationChunk(len(chunk))
	}
}

func (p *Player) endOfStream(s *session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isCurrentLocked(s) {
		return nil
	}
	if s.sink.Open() {
		if err := s.sink.EndOfStream(); err != nil {
			return fmt.Errorf("%w: end of stream: %w", ErrSinkClosed, err)
		}
	}
	return nil
}

// session is one play-through attempt. Goroutines started for a session
// check that it is still the player's current, active session before
// mutating player state.
type session struct {
	id       string
	ctx      context.Context
	cancel   context.CancelFunc
	sink     Sink
	out      Output
	logger   zerolog.Logger
	pollStop chan struct{} // guarded by Player.mu
	done     chan struct{}

	mu        sync.Mutex
	active    bool
	stallHit  bool
	stallTime *time.Timer
}

func newSession(parent context.Context, sink Sink, out Output, logger zerolog.Logger) *session {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.New().String()
	return &session{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		sink:   sink,
		out:    out,
		logger: logger.With().Str("session_id", id).Logger(),
		done:   make(chan struct{}),
		active: true,
	}
}

func (s *session) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *session) deactivate() {
	s.mu.Lock()
	s.active = false
	if s.stallTime != nil {
		s.stallTime.Stop()
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *session) armStall(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stallTime = time.AfterFunc(d, func() {
		s.mu.Lock()
		s.stallHit = true
		s.mu.Unlock()
		s.cancel()
	})
}

// touch pushes the stall deadline back after a chunk arrives
func (s *session) touch(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stallTime != nil && !s.stallHit {
		s.stallTime.Reset(d)
	}
}

func (s *session) stalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stallHit
}

func (s *session) finish() {
	s.mu.Lock()
	if s.stallTime != nil {
		s.stallTime.Stop()
	}
	s.mu.Unlock()
	close(s.done)
}
