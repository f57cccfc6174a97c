package audio

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *safeBuffer) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestPlayback_StartsPaused(t *testing.T) {
	b := NewDecodeBuffer()
	p := NewPlayback(b, nil, 1000)
	defer p.Close()
	defer b.Close()

	if !p.Paused() {
		t.Error("Expected new playback to be paused")
	}
	if p.CurrentTime() != 0 {
		t.Errorf("Expected current time 0, got %v", p.CurrentTime())
	}
	if !math.IsInf(p.Duration(), 1) {
		t.Errorf("Expected +Inf duration while streaming, got %v", p.Duration())
	}
}

func TestPlayback_PlaysToEnd(t *testing.T) {
	b := NewDecodeBuffer()
	out := &safeBuffer{}
	p := NewPlayback(b, out, 1000, WithTick(5*time.Millisecond))
	defer p.Close()
	defer b.Close()

	data := bytes.Repeat([]byte{7}, 50)
	if err := b.Append(context.Background(), data); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	b.EndOfStream()

	if p.Duration() != 0.05 {
		t.Errorf("Expected duration 0.05, got %v", p.Duration())
	}

	if err := p.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	select {
	case <-p.Ended():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected playback to end")
	}

	if !bytes.Equal(out.Bytes(), data) {
		t.Errorf("Expected %d bytes written, got %d", len(data), len(out.Bytes()))
	}
	if !p.Paused() {
		t.Error("Expected playback paused after ending")
	}
	if p.CurrentTime() != 0.05 {
		t.Errorf("Expected current time 0.05 at the end, got %v", p.CurrentTime())
	}
}

func TestPlayback_SmallFramesPlayWholeChunk(t *testing.T) {
	b := NewDecodeBuffer()
	out := &safeBuffer{}
	p := NewPlayback(b, out, 16000, WithTick(time.Millisecond))
	defer p.Close()
	defer b.Close()

	data := bytes.Repeat([]byte{3}, 4096)
	if err := b.Append(context.Background(), data); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	b.EndOfStream()

	if err := p.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	select {
	case <-p.Ended():
	case <-time.After(5 * time.Second):
		t.Fatal("Expected playback to end")
	}

	if len(out.Bytes()) != len(data) {
		t.Errorf("Expected %d bytes written, got %d", len(data), len(out.Bytes()))
	}
	if p.CurrentTime() != p.Duration() {
		t.Errorf("Expected current time %v at the end, got %v", p.Duration(), p.CurrentTime())
	}
}

func TestPlayback_EndOfStreamInsideLastChunk(t *testing.T) {
	b := NewDecodeBuffer()
	out := &safeBuffer{}
	p := NewPlayback(b, out, 16000, WithTick(time.Millisecond))
	defer p.Close()
	defer b.Close()

	data := bytes.Repeat([]byte{4}, 2048)
	if err := b.Append(context.Background(), data); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := p.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(out.Bytes()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected playback to start writing")
		}
		time.Sleep(time.Millisecond)
	}
	b.EndOfStream()

	select {
	case <-p.Ended():
	case <-time.After(5 * time.Second):
		t.Fatal("Expected playback to end")
	}

	if len(out.Bytes()) != len(data) {
		t.Errorf("Expected %d bytes written, got %d", len(data), len(out.Bytes()))
	}
}

func TestPlayback_PauseHoldsPosition(t *testing.T) {
	b := NewDecodeBuffer()
	p := NewPlayback(b, nil, 1000, WithTick(5*time.Millisecond))
	defer p.Close()
	defer b.Close()

	b.Append(context.Background(), make([]byte, 10000))
	p.Play()
	time.Sleep(30 * time.Millisecond)
	p.Pause()

	pos := p.CurrentTime()
	time.Sleep(30 * time.Millisecond)
	if p.CurrentTime() != pos {
		t.Errorf("Expected position to hold at %v while paused, got %v", pos, p.CurrentTime())
	}
}

func TestPlayback_WriteError(t *testing.T) {
	b := NewDecodeBuffer()
	p := NewPlayback(b, failingWriter{}, 1000, WithTick(5*time.Millisecond))
	defer p.Close()
	defer b.Close()

	b.Append(context.Background(), make([]byte, 100))
	p.Play()

	deadline := time.Now().Add(time.Second)
	for p.Err() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Err() == nil {
		t.Fatal("Expected write error to be recorded")
	}
	if !p.Paused() {
		t.Error("Expected playback paused after write error")
	}
}

func TestPlayback_PlayAfterClose(t *testing.T) {
	b := NewDecodeBuffer()
	p := NewPlayback(b, nil, 1000)
	p.Close()
	b.Close()

	if err := p.Play(); err != ErrPlaybackClosed {
		t.Errorf("Expected ErrPlaybackClosed, got %v", err)
	}
}
