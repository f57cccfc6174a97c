package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pagecast/narrator/internal/config"
	"github.com/pagecast/narrator/internal/observability"
	"github.com/pagecast/narrator/internal/resilience"
)

// OpenAI voices; catalog voice identifiers that are not one of these are
// mapped by gender
var openAIVoices = map[string]bool{
	"alloy": true, "ash": true, "ballad": true, "coral": true, "echo": true,
	"fable": true, "onyx": true, "nova": true, "sage": true, "shimmer": true, "verse": true,
}

// OpenAIClient implements Synthesizer using the OpenAI speech endpoint
type OpenAIClient struct {
	client  oai.Client
	model   string
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
	logger  zerolog.Logger
}

// NewOpenAIClient creates a new OpenAI TTS client
func NewOpenAIClient(cfg *config.Config) (*OpenAIClient, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai tts: api key must not be empty")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.OpenAIAPIKey),
		option.WithMaxRetries(0),
	}
	if cfg.OpenAIBaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.OpenAIBaseURL))
	}

	breaker := resilience.NewCircuitBreaker(
		"openai",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.OnStateChange(RecordBreakerState)

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	model := cfg.OpenAITTSModel
	if model == "" {
		model = string(oai.SpeechModelTTS1)
	}

	return &OpenAIClient{
		client:  oai.NewClient(reqOpts...),
		model:   model,
		breaker: breaker,
		retry:   retry,
		logger:  observability.WithComponent("openai-tts"),
	}, nil
}

// Name returns the provider name
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Breaker exposes the client's circuit breaker for readiness checks
func (c *OpenAIClient) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// Synthesize requests MP3 speech and returns the streamed response body
func (c *OpenAIClient) Synthesize(ctx context.Context, req Request) (io.ReadCloser, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	r := resolve(req)
	voice := openAIVoice(r)
	speed := clampSpeed(r.speed)

	ctx, span := observability.StartSpan(ctx, "tts.openai.synthesize")
	defer span.End()
	span.SetAttributes(
		attribute.String("tts.model", c.model),
		attribute.String("tts.voice", voice),
		attribute.Int("tts.text_length", len(req.Text)),
	)

	params := oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          oai.SpeechModel(c.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat("mp3"),
		Speed:          param.NewOpt(speed),
	}

	var body io.ReadCloser
	attempt := func(ctx context.Context) error {
		if !c.breaker.Allow() {
			return resilience.ErrCircuitOpen
		}
		start := time.Now()
		resp, err := c.client.Audio.Speech.New(ctx, params)
		err = c.mapError(err)
		observability.RecordUpstream(c.Name(), err == nil, time.Since(start))
		c.breaker.RecordResult(!countsAsFailure(err))
		if countsAsFailure(err) {
			observability.IncrementCircuitBreakerFailures(c.breaker.Name())
		}
		if err != nil {
			return err
		}
		body = resp.Body
		return nil
	}

	if err := resilience.Retry(ctx, attempt, c.retry, isRetryableUpstream); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error().Err(err).Msg("OpenAI speech request failed")
		return nil, err
	}
	return body, nil
}

func (c *OpenAIClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return &UpstreamError{Provider: c.Name(), StatusCode: apiErr.StatusCode, Body: apiErr.Message}
	}
	return fmt.Errorf("openai speech: %w", err)
}

// Close is a no-op; the SDK client holds no resources of its own
func (c *OpenAIClient) Close() error {
	return nil
}

func openAIVoice(r resolved) string {
	if v := strings.ToLower(r.voice); openAIVoices[v] {
		return v
	}
	switch strings.ToLower(r.gender) {
	case "male":
		return "onyx"
	case "female":
		return "nova"
	}
	return "alloy"
}

// clampSpeed fits the speed into the range the speech endpoint accepts
func clampSpeed(speed float64) float64 {
	switch {
	case speed < 0.25:
		return 0.25
	case speed > 4:
		return 4
	}
	return speed
}
