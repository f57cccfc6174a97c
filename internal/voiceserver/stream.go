package voiceserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pagecast/narrator/internal/observability"
	"github.com/pagecast/narrator/internal/tts"
)

const (
	wsWriteTimeout   = 10 * time.Second
	defaultChunkSize = 4096
)

// controlFrame is a text frame sent on the WebSocket alongside binary audio
type controlFrame struct {
	Type    string `json:"type"` // "end" or "error"
	Message string `json:"message,omitempty"`
	Bytes   int64  `json:"bytes,omitempty"`
}

// relay copies src to emit in chunks of at most size bytes, forwarding each
// read as soon as it arrives
func relay(ctx context.Context, src io.Reader, size int, emit func([]byte) error) (int64, error) {
	if size <= 0 {
		size = defaultChunkSize
	}
	buf := make([]byte, size)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if werr := emit(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

func (r StreamAudioRequest) synthesisRequest() tts.Request {
	return tts.Request{Text: r.Text, Options: r.ModelOptions}
}

func (s *Server) handleStreamAudio(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r)
	metrics := observability.NewStreamMetrics("http")
	start := time.Now()

	var req StreamAudioRequest
	if err := decodeJSON(r, &req); err != nil {
		metrics.End("invalid")
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := req.validate(); err != nil {
		metrics.End("invalid")
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	body, err := s.synth.Synthesize(r.Context(), req.synthesisRequest())
	if err != nil {
		status, code := synthesisFailure(err)
		logger.Error().Err(err).Int("status", status).Msg("Synthesis failed")
		observability.RecordError(code, "voiceserver")
		metrics.End(code)
		respondError(w, status, code, err.Error())
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	total, err := relay(r.Context(), body, s.cfg.StreamChunkSize, func(chunk []byte) error {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		metrics.RecordBytes(len(chunk))
		return nil
	})
	if err != nil {
		// Headers are already sent; the client sees a truncated body
		logger.Warn().Err(err).Int64("bytes", total).Msg("Audio relay interrupted")
		metrics.End("interrupted")
		return
	}

	logger.Info().
		Int64("bytes", total).
		Int("text_length", len(req.Text)).
		Float64("duration_ms", since(start)).
		Msg("Audio stream relayed")
	metrics.End("success")
}

func (s *Server) handleStreamAudioWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := requestLogger(r)
	metrics := observability.NewStreamMetrics("ws")

	var req StreamAudioRequest
	conn.SetReadDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.ReadJSON(&req); err != nil {
		metrics.End("invalid")
		writeControl(conn, logger, controlFrame{Type: "error", Message: "invalid request: " + err.Error()})
		return
	}
	conn.SetReadDeadline(time.Time{})
	if err := req.validate(); err != nil {
		metrics.End("invalid")
		writeControl(conn, logger, controlFrame{Type: "error", Message: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// A read error means the client went away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	body, err := s.synth.Synthesize(ctx, req.synthesisRequest())
	if err != nil {
		_, code := synthesisFailure(err)
		logger.Error().Err(err).Str("code", code).Msg("Synthesis failed")
		observability.RecordError(code, "voiceserver")
		metrics.End(code)
		writeControl(conn, logger, controlFrame{Type: "error", Message: err.Error()})
		return
	}
	defer body.Close()

	total, err := relay(ctx, body, s.cfg.StreamChunkSize, func(chunk []byte) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			return err
		}
		metrics.RecordBytes(len(chunk))
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Int64("bytes", total).Msg("Audio relay interrupted")
		metrics.End("interrupted")
		writeControl(conn, logger, controlFrame{Type: "error", Message: err.Error()})
		return
	}

	writeControl(conn, logger, controlFrame{Type: "end", Bytes: total})
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
		logger.Debug().Err(err).Msg("Failed to send close frame")
	}
	logger.Info().Int64("bytes", total).Msg("Audio stream relayed over websocket")
	metrics.End("success")
}

func writeControl(conn *websocket.Conn, logger zerolog.Logger, frame controlFrame) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		logger.Debug().Err(err).Str("frame", frame.Type).Msg("Failed to write control frame")
	}
}
