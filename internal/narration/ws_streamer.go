package narration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pagecast/narrator/internal/observability"
)

// controlFrame is a text frame sent by the voice server alongside binary audio
type controlFrame struct {
	Type    string `json:"type"` // "end" or "error"
	Message string `json:"message,omitempty"`
	Bytes   int64  `json:"bytes,omitempty"`
}

// WSStreamer requests audio over {baseURL}/ws/stream_audio: one JSON request
// frame, then binary audio frames until an "end" control frame
type WSStreamer struct {
	url    string
	dialer *websocket.Dialer
	logger zerolog.Logger
}

// NewWSStreamer creates a WebSocket streamer for the voice server at baseURL
// (http/https base URLs are mapped to ws/wss)
func NewWSStreamer(baseURL string) *WSStreamer {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &WSStreamer{
		url:    u + "/ws/stream_audio",
		dialer: websocket.DefaultDialer,
		logger: observability.WithComponent("ws_streamer"),
	}
}

// Stream dials the voice server and sends req
func (w *WSStreamer) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	conn, resp, err := w.dialer.DialContext(ctx, w.url, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial voice server (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial voice server: %w", err)
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	s := &wsStream{conn: conn, done: make(chan struct{}), logger: w.logger}
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type wsStream struct {
	conn   *websocket.Conn
	done   chan struct{}
	once   sync.Once
	got    bool
	logger zerolog.Logger
}

func (s *wsStream) Next(ctx context.Context) ([]byte, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				if !s.got {
					return nil, ErrNoBody
				}
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read frame: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(data) == 0 {
				continue
			}
			s.got = true
			return data, nil
		case websocket.TextMessage:
			var frame controlFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				return nil, fmt.Errorf("invalid control frame: %w", err)
			}
			switch frame.Type {
			case "end":
				if !s.got {
					return nil, ErrNoBody
				}
				return nil, io.EOF
			case "error":
				return nil, errors.New("voice server: " + frame.Message)
			}
		}
	}
}

func (s *wsStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		err := s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			s.logger.Debug().Err(err).Msg("Failed to send close frame")
		}
	})
	return s.conn.Close()
}
