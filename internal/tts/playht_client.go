package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pagecast/narrator/internal/config"
	"github.com/pagecast/narrator/internal/observability"
	"github.com/pagecast/narrator/internal/resilience"
)

// PlayHTClient implements Synthesizer using Play.ht's streaming TTS API
type PlayHTClient struct {
	apiKey     string
	userID     string
	apiURL     string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      *resilience.RetryConfig
	logger     zerolog.Logger
}

// PlayHTRequest represents the request payload for the Play.ht stream endpoint
type PlayHTRequest struct {
	Model        string   `json:"model"`
	Text         string   `json:"text"`
	Voice        string   `json:"voice"`
	OutputFormat string   `json:"outputFormat"`
	Speed        float64  `json:"speed"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// NewPlayHTClient creates a new Play.ht TTS client
func NewPlayHTClient(cfg *config.Config) *PlayHTClient {
	breaker := resilience.NewCircuitBreaker(
		"playht",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.OnStateChange(RecordBreakerState)

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	return &PlayHTClient{
		apiKey: cfg.PlayHTAPIKey,
		userID: cfg.PlayHTUserID,
		apiURL: cfg.PlayHTURL,
		// No client timeout: the body is streamed for as long as the vendor talks
		httpClient: &http.Client{},
		breaker:    breaker,
		retry:      retry,
		logger:     observability.WithComponent("playht"),
	}
}

// Name returns the provider name
func (c *PlayHTClient) Name() string {
	return "playht"
}

// Breaker exposes the client's circuit breaker for readiness checks
func (c *PlayHTClient) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// Synthesize opens a Play.ht stream and returns its MP3 body
func (c *PlayHTClient) Synthesize(ctx context.Context, req Request) (io.ReadCloser, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	r := resolve(req)

	ctx, span := observability.StartSpan(ctx, "tts.playht.synthesize")
	defer span.End()
	span.SetAttributes(
		attribute.String("tts.model", r.model),
		attribute.Int("tts.text_length", len(req.Text)),
		attribute.Float64("tts.speed", r.speed),
	)

	jsonData, err := json.Marshal(PlayHTRequest{
		Model:        r.model,
		Text:         req.Text,
		Voice:        r.voice,
		OutputFormat: "mp3",
		Speed:        r.speed,
		Temperature:  r.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	c.logger.Debug().
		Str("model", r.model).
		Str("voice", r.voice).
		Float64("speed", r.speed).
		Int("text_length", len(req.Text)).
		Msg("Requesting Play.ht stream")

	var body io.ReadCloser
	attempt := func(ctx context.Context) error {
		if !c.breaker.Allow() {
			return resilience.ErrCircuitOpen
		}
		start := time.Now()
		b, err := c.open(ctx, jsonData)
		observability.RecordUpstream(c.Name(), err == nil, time.Since(start))
		c.breaker.RecordResult(!countsAsFailure(err))
		if countsAsFailure(err) {
			observability.IncrementCircuitBreakerFailures(c.breaker.Name())
		}
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	if err := resilience.Retry(ctx, attempt, c.retry, isRetryableUpstream); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error().Err(err).Msg("Play.ht stream request failed")
		return nil, err
	}
	return body, nil
}

func (c *PlayHTClient) open(ctx context.Context, payload []byte) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-USER-ID", c.userID)
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, &UpstreamError{
			Provider:   c.Name(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}
	return resp.Body, nil
}

// Close releases idle connections
func (c *PlayHTClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func isRetryableUpstream(err error) bool {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Temporary()
	}
	return resilience.IsRetryableNetworkError(err)
}

// RecordBreakerState publishes a breaker transition as a metric and a log line
func RecordBreakerState(name string, state resilience.CircuitState) {
	observability.UpdateCircuitBreakerState(name, int(state))
	logger := observability.WithComponent("resilience")
	logger.Warn().
		Str("service", name).
		Str("state", state.String()).
		Msg("Circuit breaker state changed")
}
