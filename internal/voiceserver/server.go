// Package voiceserver exposes the streaming TTS proxy consumed by the reader.
package voiceserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pagecast/narrator/internal/config"
	"github.com/pagecast/narrator/internal/observability"
	"github.com/pagecast/narrator/internal/resilience"
	"github.com/pagecast/narrator/internal/settings"
	"github.com/pagecast/narrator/internal/tts"
	"github.com/pagecast/narrator/internal/voices"
)

const serviceName = "narrator-voice-server"

// StreamAudioRequest is the body of POST /stream_audio and the first frame
// of /ws/stream_audio
type StreamAudioRequest struct {
	Text         string           `json:"text"`
	ModelOptions *voices.Settings `json:"modelOptions,omitempty"`
}

func (r StreamAudioRequest) validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return errors.New("text is required")
	}
	if r.ModelOptions != nil {
		return r.ModelOptions.Validate()
	}
	return nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// breakerProvider is implemented by synthesizers guarded by a circuit breaker
type breakerProvider interface {
	Breaker() *resilience.CircuitBreaker
}

// pinger is implemented by settings stores backed by a remote database
type pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the voice API
type Server struct {
	cfg      *config.Config
	synth    tts.Synthesizer
	store    settings.Store
	catalog  voices.Catalog
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New creates a voice server
func New(cfg *config.Config, synth tts.Synthesizer, store settings.Store) *Server {
	s := &Server{
		cfg:     cfg,
		synth:   synth,
		store:   store,
		catalog: voices.DefaultCatalog(),
		logger:  observability.WithComponent("voiceserver"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: cfg.StreamChunkSize,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router builds the HTTP handler
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Origins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", observability.HealthCheckHandler(serviceName))
	r.Get("/ready", observability.ReadinessHandler(serviceName, s.readinessChecks()))
	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", observability.MetricsHandler())
	}

	r.Post("/stream_audio", s.handleStreamAudio)
	r.Get("/ws/stream_audio", s.handleStreamAudioWS)
	r.Get("/v1/voices", s.handleListVoices)
	r.Get("/v1/settings", s.handleGetSettings)
	r.Put("/v1/settings", s.handlePutSettings)

	return r
}

func (s *Server) readinessChecks() map[string]observability.HealthCheckFunc {
	checks := map[string]observability.HealthCheckFunc{}
	if bp, ok := s.synth.(breakerProvider); ok {
		checks["tts_"+s.synth.Name()] = func(ctx context.Context) (bool, error) {
			if state := bp.Breaker().GetState(); state == resilience.StateOpen {
				return false, resilience.ErrCircuitOpen
			}
			return true, nil
		}
	}
	if p, ok := s.store.(pinger); ok {
		checks["settings_store"] = func(ctx context.Context) (bool, error) {
			if err := p.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return checks
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Non-browser clients omit Origin
		return true
	}
	for _, allowed := range s.cfg.Origins() {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.catalog)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	current, err := s.store.Get(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load settings")
		observability.RecordError("settings_load", "voiceserver")
		respondError(w, http.StatusInternalServerError, "settings_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, current)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var next voices.Settings
	if err := decodeJSON(r, &next); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := next.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_settings", err.Error())
		return
	}
	if err := s.store.Set(r.Context(), next); err != nil {
		s.logger.Error().Err(err).Msg("Failed to save settings")
		observability.RecordError("settings_save", "voiceserver")
		respondError(w, http.StatusInternalServerError, "settings_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, next)
}

// synthesisFailure maps a synthesizer error to a status and error code
func synthesisFailure(err error) (int, string) {
	var upErr *tts.UpstreamError
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "circuit_open"
	case errors.Is(err, tts.ErrEmptyText):
		return http.StatusBadRequest, "invalid_request"
	case errors.As(err, &upErr):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream_timeout"
	}
	return http.StatusBadGateway, "upstream_unavailable"
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: code, Message: message})
}

func requestLogger(r *http.Request) zerolog.Logger {
	return observability.WithCorrelationID(r.Header.Get("X-Correlation-ID")).
		With().Str("component", "voiceserver").Logger()
}

func since(start time.Time) float64 {
	return float64(time.Since(start).Milliseconds())
}
