package narration

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

var errSinkDetached = errors.New("sink detached")

type mockSink struct {
	mu          sync.Mutex
	appends     [][]byte
	updating    bool
	inFlight    int
	maxInFlight int
	ended       bool
	closed      bool
	delay       time.Duration
	closeAfter  int // close the sink after this many appends, 0 never
}

func (m *mockSink) Open() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && !m.ended
}

func (m *mockSink) Updating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updating
}

func (m *mockSink) WaitUpdateEnd(ctx context.Context) error {
	for m.Updating() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

func (m *mockSink) Append(ctx context.Context, chunk []byte) error {
	m.mu.Lock()
	if m.closed || m.ended {
		m.mu.Unlock()
		return errSinkDetached
	}
	m.updating = true
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends = append(m.appends, chunk)
	m.inFlight--
	m.updating = false
	if m.closeAfter > 0 && len(m.appends) >= m.closeAfter {
		m.closed = true
	}
	return nil
}

func (m *mockSink) EndOfStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = true
	return nil
}

func (m *mockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSink) snapshot() (appends [][]byte, maxInFlight int, ended, closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.appends...), m.maxInFlight, m.ended, m.closed
}

type mockOutput struct {
	mu       sync.Mutex
	paused   bool
	plays    int
	current  float64
	duration float64
	ended    chan struct{}
	closed   bool
}

func newMockOutput() *mockOutput {
	return &mockOutput{paused: true, ended: make(chan struct{})}
}

func (m *mockOutput) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	m.plays++
	return nil
}

func (m *mockOutput) playCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plays
}

func (m *mockOutput) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
}

func (m *mockOutput) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *mockOutput) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *mockOutput) Duration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

func (m *mockOutput) Ended() <-chan struct{} {
	return m.ended
}

func (m *mockOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockOutput) set(current, duration float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = current
	m.duration = duration
}

func (m *mockOutput) end() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	close(m.ended)
}

func (m *mockOutput) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockStreamer hands out one mockStream per Stream call
type mockStreamer struct {
	mu       sync.Mutex
	calls    int
	requests []Request
	streams  []*mockStream
	noBody   bool
	openErr  error
}

func (m *mockStreamer) Stream(_ context.Context, req Request) (ChunkStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.requests = append(m.requests, req)
	if m.openErr != nil {
		return nil, m.openErr
	}
	if m.noBody {
		return nil, nil
	}
	s := &mockStream{chunks: make(chan []byte, 64), errs: make(chan error, 1)}
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *mockStreamer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockStreamer) stream(t *testing.T, i int) *mockStream {
	t.Helper()
	waitFor(t, "stream opened", func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.streams) > i
	})
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[i]
}

type mockStream struct {
	chunks chan []byte
	errs   chan error
	once   sync.Once
}

func (s *mockStream) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-s.errs:
		return nil, err
	case c, ok := <-s.chunks:
		if !ok {
			return nil, io.EOF
		}
		return c, nil
	}
}

func (s *mockStream) Close() error { return nil }

func (s *mockStream) send(sizes ...int) {
	for _, n := range sizes {
		s.chunks <- make([]byte, n)
	}
}

func (s *mockStream) finish() {
	s.once.Do(func() { close(s.chunks) })
}

type fixture struct {
	player   *Player
	streamer *mockStreamer
	mu       sync.Mutex
	sinks    []*mockSink
	outputs  []*mockOutput
	seen     []Telemetry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{streamer: &mockStreamer{}}
	media := func() (Sink, Output, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		sink := &mockSink{}
		out := newMockOutput()
		f.sinks = append(f.sinks, sink)
		f.outputs = append(f.outputs, out)
		return sink, out, nil
	}
	observer := func(tel Telemetry) {
		f.mu.Lock()
		f.seen = append(f.seen, tel)
		f.mu.Unlock()
	}
	opts = append([]Option{WithPollInterval(5 * time.Millisecond), WithObserver(observer)}, opts...)
	f.player = NewPlayer(f.streamer, media, opts...)
	f.player.SetText("Hello world")
	t.Cleanup(f.player.Reset)
	return f
}

func (f *fixture) sink(i int) *mockSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[i]
}

func (f *fixture) output(i int) *mockOutput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputs[i]
}

func (f *fixture) observed() []Telemetry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Telemetry(nil), f.seen...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
