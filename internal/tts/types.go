package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/pagecast/narrator/internal/voices"
)

// Vendor defaults applied when a request carries no model options
const (
	DefaultModel = "Play3.0-mini"
	DefaultVoice = "s3://voice-cloning-zero-shot/baf1ef41-36b6-428c-9bdf-50ba54682bd8/original/manifest.json"
	DefaultSpeed = 1.0
)

// ErrEmptyText is returned when a synthesis request has no text
var ErrEmptyText = errors.New("text is required")

// Request is a synthesis request. A nil Options uses the vendor defaults.
type Request struct {
	Text    string
	Options *voices.Settings
}

// Synthesizer opens a streaming synthesis. The returned body yields encoded
// MP3 audio as the vendor produces it and must be closed by the caller.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (io.ReadCloser, error)
	Name() string
	Close() error
}

// UpstreamError is a non-200 response from the TTS vendor
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether the vendor failure is worth retrying
func (e *UpstreamError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// resolved is a request with defaults applied
type resolved struct {
	model       string
	voice       string
	speed       float64
	temperature *float64
	gender      string
}

func resolve(req Request) resolved {
	r := resolved{model: DefaultModel, voice: DefaultVoice, speed: DefaultSpeed}
	if o := req.Options; o != nil {
		if o.Model != "" {
			r.model = o.Model
		}
		if o.Voice.Value != "" {
			r.voice = o.Voice.Value
		}
		if o.Speed > 0 {
			r.speed = o.Speed
		}
		temp := o.Temperature
		r.temperature = &temp
		r.gender = o.Voice.Gender
	}
	return r
}

// countsAsFailure reports whether err should trip the circuit breaker.
// Client errors and cancellations say nothing about vendor health.
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Temporary()
	}
	return true
}
