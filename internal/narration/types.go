package narration

import (
	"context"
	"errors"

	"github.com/pagecast/narrator/internal/voices"
)

var (
	// ErrEmptyText is returned by Play when there is no text to narrate
	ErrEmptyText = errors.New("narration text is empty")
	// ErrNoBody is reported when the voice server response has no streamable body
	ErrNoBody = errors.New("response has no audio body")
	// ErrSinkClosed is reported when the decode sink stopped accepting appends mid-stream
	ErrSinkClosed = errors.New("decode sink is not appendable")
	// ErrStalled is reported when no chunk arrived within the stall timeout
	ErrStalled = errors.New("audio stream stalled")
)

// State is the lifecycle state of the player
type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
	StateEnded
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Telemetry is a snapshot of the player's flags and counters
type Telemetry struct {
	SessionID      string
	IsPlaying      bool
	IsPaused       bool
	IsGenerated    bool
	IsStreaming    bool
	CurrentTime    float64 // seconds
	Duration       float64 // seconds, estimated while streaming
	Progress       float64 // percent in [0, 100]
	ChunksReceived int
	BytesReceived  int64
	Err            error
}

// Observer receives a telemetry snapshot after every change. It may be
// invoked from any goroutine and must not call back into the player.
type Observer func(Telemetry)

// Request is the body sent to the voice server
type Request struct {
	Text         string          `json:"text"`
	ModelOptions voices.Settings `json:"modelOptions"`
}

// ChunkStream yields audio chunks in arrival order; Next returns io.EOF once
// the body is exhausted
type ChunkStream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Streamer opens a streaming synthesis request
type Streamer interface {
	Stream(ctx context.Context, req Request) (ChunkStream, error)
}

// Sink is the incremental decode buffer a session appends chunks to
type Sink interface {
	Open() bool
	Updating() bool
	WaitUpdateEnd(ctx context.Context) error
	Append(ctx context.Context, chunk []byte) error
	EndOfStream() error
	Close() error
}

// Output is the playback side fed by a Sink
type Output interface {
	Play() error
	Pause()
	Paused() bool
	CurrentTime() float64
	Duration() float64
	Ended() <-chan struct{}
	Close() error
}

// MediaFactory creates a fresh sink and its output for a new session
type MediaFactory func() (Sink, Output, error)
