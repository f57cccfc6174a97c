package voiceserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pagecast/narrator/internal/config"
	"github.com/pagecast/narrator/internal/narration"
	"github.com/pagecast/narrator/internal/resilience"
	"github.com/pagecast/narrator/internal/settings"
	"github.com/pagecast/narrator/internal/tts"
	"github.com/pagecast/narrator/internal/voices"
)

type fakeSynth struct {
	mu    sync.Mutex
	audio []byte
	err   error
	reqs  []tts.Request
}

func (f *fakeSynth) Synthesize(_ context.Context, req tts.Request) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.audio)), nil
}

func (f *fakeSynth) Name() string { return "fake" }
func (f *fakeSynth) Close() error { return nil }

func (f *fakeSynth) lastRequest() tts.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type breakerSynth struct {
	fakeSynth
	cb *resilience.CircuitBreaker
}

func (b *breakerSynth) Breaker() *resilience.CircuitBreaker { return b.cb }

func testConfig() *config.Config {
	return &config.Config{
		AllowedOrigins:  "*",
		StreamChunkSize: 4,
		MetricsEnabled:  true,
	}
}

func newTestServer(t *testing.T, synth tts.Synthesizer) *httptest.Server {
	t.Helper()
	srv := New(testConfig(), synth, settings.NewMemoryStore())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(v)
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return res
}

func decodeError(t *testing.T, res *http.Response) errorResponse {
	t.Helper()
	var e errorResponse
	if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return e
}

func TestStreamAudio(t *testing.T) {
	synth := &fakeSynth{audio: []byte("0123456789")}
	ts := newTestServer(t, synth)

	res := postJSON(t, ts.URL+"/stream_audio", map[string]string{"text": "Hello world"})
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Expected audio/mpeg, got '%s'", ct)
	}
	data, _ := io.ReadAll(res.Body)
	if string(data) != "0123456789" {
		t.Errorf("Expected relayed audio, got '%s'", data)
	}

	req := synth.lastRequest()
	if req.Text != "Hello world" {
		t.Errorf("Expected text 'Hello world', got '%s'", req.Text)
	}
	if req.Options != nil {
		t.Error("Expected nil options when modelOptions is absent")
	}
}

func TestStreamAudio_ModelOptions(t *testing.T) {
	synth := &fakeSynth{audio: []byte("abc")}
	ts := newTestServer(t, synth)

	opts := voices.DefaultSettings()
	opts.Speed = 2
	res := postJSON(t, ts.URL+"/stream_audio", StreamAudioRequest{Text: "Hi", ModelOptions: &opts})
	res.Body.Close()

	req := synth.lastRequest()
	if req.Options == nil || req.Options.Speed != 2 {
		t.Errorf("Expected model options forwarded, got %+v", req.Options)
	}
}

func TestStreamAudio_InvalidRequests(t *testing.T) {
	ts := newTestServer(t, &fakeSynth{})

	bad := voices.DefaultSettings()
	bad.Speed = 10

	tests := []struct {
		name string
		body any
	}{
		{"empty text", map[string]string{"text": "  "}},
		{"invalid settings", StreamAudioRequest{Text: "Hi", ModelOptions: &bad}},
		{"empty body", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res *http.Response
			if tt.body == nil {
				var err error
				res, err = http.Post(ts.URL+"/stream_audio", "application/json", strings.NewReader(""))
				if err != nil {
					t.Fatalf("POST failed: %v", err)
				}
			} else {
				res = postJSON(t, ts.URL+"/stream_audio", tt.body)
			}
			defer res.Body.Close()

			if res.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", res.StatusCode)
			}
			if e := decodeError(t, res); e.Error != "invalid_request" {
				t.Errorf("Expected error 'invalid_request', got '%s'", e.Error)
			}
		})
	}
}

func TestStreamAudio_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"vendor error", &tts.UpstreamError{Provider: "playht", StatusCode: 500, Body: "boom"}, http.StatusBadGateway, "upstream_error"},
		{"circuit open", resilience.ErrCircuitOpen, http.StatusServiceUnavailable, "circuit_open"},
		{"network", errors.New("dial tcp: connection refused"), http.StatusBadGateway, "upstream_unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeSynth{err: tt.err})
			res := postJSON(t, ts.URL+"/stream_audio", map[string]string{"text": "Hi"})
			defer res.Body.Close()

			if res.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, res.StatusCode)
			}
			if e := decodeError(t, res); e.Error != tt.code {
				t.Errorf("Expected error '%s', got '%s'", tt.code, e.Error)
			}
		})
	}
}

func TestStreamAudio_EndToEndHTTP(t *testing.T) {
	audio := bytes.Repeat([]byte{0xAB}, 10)
	ts := newTestServer(t, &fakeSynth{audio: audio})

	stream, err := narration.NewHTTPStreamer(ts.URL, nil).Stream(context.Background(), narration.Request{
		Text:         "Hello",
		ModelOptions: voices.DefaultSettings(),
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer stream.Close()

	var got []byte
	for {
		chunk, err := stream.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, audio) {
		t.Errorf("Expected %d bytes, got %d", len(audio), len(got))
	}
}

func TestStreamAudio_EndToEndWebSocket(t *testing.T) {
	audio := []byte("0123456789")
	ts := newTestServer(t, &fakeSynth{audio: audio})

	stream, err := narration.NewWSStreamer(ts.URL).Stream(context.Background(), narration.Request{
		Text:         "Hello",
		ModelOptions: voices.DefaultSettings(),
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer stream.Close()

	var chunks [][]byte
	for {
		chunk, err := stream.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) != 3 {
		t.Errorf("Expected 3 chunks of at most 4 bytes, got %d", len(chunks))
	}
	if !bytes.Equal(bytes.Join(chunks, nil), audio) {
		t.Errorf("Expected relayed audio, got '%s'", bytes.Join(chunks, nil))
	}
}

func TestStreamAudio_WebSocketError(t *testing.T) {
	ts := newTestServer(t, &fakeSynth{err: resilience.ErrCircuitOpen})

	stream, err := narration.NewWSStreamer(ts.URL).Stream(context.Background(), narration.Request{Text: "Hello"})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer stream.Close()

	if _, err := stream.Next(context.Background()); err == nil || errors.Is(err, io.EOF) {
		t.Errorf("Expected error frame, got %v", err)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	ts := newTestServer(t, &fakeSynth{})

	res, err := http.Get(ts.URL + "/v1/settings")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var current voices.Settings
	json.NewDecoder(res.Body).Decode(&current)
	res.Body.Close()
	if current != voices.DefaultSettings() {
		t.Errorf("Expected default settings, got %+v", current)
	}

	next := voices.DefaultSettings()
	next.Temperature = 1.2
	body, _ := json.Marshal(next)
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/settings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", res.StatusCode)
	}

	res, _ = http.Get(ts.URL + "/v1/settings")
	json.NewDecoder(res.Body).Decode(&current)
	res.Body.Close()
	if current.Temperature != 1.2 {
		t.Errorf("Expected stored temperature 1.2, got %v", current.Temperature)
	}

	next.Temperature = 3
	body, _ = json.Marshal(next)
	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/v1/settings", bytes.NewReader(body))
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 for out-of-range temperature, got %d", res.StatusCode)
	}
}

func TestListVoices(t *testing.T) {
	ts := newTestServer(t, &fakeSynth{})

	res, err := http.Get(ts.URL + "/v1/voices")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer res.Body.Close()

	var catalog voices.Catalog
	if err := json.NewDecoder(res.Body).Decode(&catalog); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	if len(catalog.Voices.Options) != 5 {
		t.Errorf("Expected 5 voices, got %d", len(catalog.Voices.Options))
	}
	if catalog.Models.Default != "Play3.0-mini" {
		t.Errorf("Expected default model Play3.0-mini, got '%s'", catalog.Models.Default)
	}
}

func TestReadiness(t *testing.T) {
	synth := &breakerSynth{cb: resilience.NewCircuitBreaker("fake", 1, time.Minute)}
	ts := newTestServer(t, synth)

	res, err := http.Get(ts.URL + "/ready")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("Expected ready, got %d", res.StatusCode)
	}

	synth.cb.Allow()
	synth.cb.RecordResult(false)

	res, err = http.Get(ts.URL + "/ready")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 while the breaker is open, got %d", res.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, &fakeSynth{})

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/stream_audio", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS failed: %v", err)
	}
	res.Body.Close()

	if res.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Error("Expected Access-Control-Allow-Origin on preflight")
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakeSynth{})

	res, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", res.StatusCode)
	}
}
