package narration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pagecast/narrator/internal/observability"
)

const readChunkSize = 4096

// HTTPStreamer requests audio from POST {baseURL}/stream_audio and reads the
// chunked response body
type HTTPStreamer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStreamer creates a streamer for the voice server at baseURL
func NewHTTPStreamer(baseURL string, client *http.Client) *HTTPStreamer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPStreamer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Stream sends req and returns the response body as a chunk stream
func (h *HTTPStreamer) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/stream_audio", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("X-Correlation-ID", observability.NewCorrelationID())

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach voice server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("voice server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, ErrNoBody
	}
	return &bodyStream{body: resp.Body, buf: make([]byte, readChunkSize)}, nil
}

// bodyStream turns reads of a response body into chunks
type bodyStream struct {
	body io.ReadCloser
	buf  []byte
	err  error
}

func (b *bodyStream) Next(ctx context.Context) ([]byte, error) {
	for {
		if b.err != nil {
			return nil, b.err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := b.body.Read(b.buf)
		if err != nil {
			b.err = err
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, b.buf[:n])
			return chunk, nil
		}
	}
}

func (b *bodyStream) Close() error {
	return b.body.Close()
}
