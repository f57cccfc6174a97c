package audio

import (
	"context"
	"errors"
	"sync"
)

// BytesPerSecond is the byte rate of a 128 kbps constant bitrate MP3 stream
const BytesPerSecond = 16000

var (
	// ErrNotOpen is returned when appending to a buffer that was ended or closed
	ErrNotOpen = errors.New("decode buffer is not open")
	// ErrUpdating is returned when an append is submitted while another is in flight
	ErrUpdating = errors.New("decode buffer is still updating")
)

// ReadyState mirrors the lifecycle of an incremental media source
type ReadyState int

const (
	StateOpen   ReadyState = iota // Accepting appends
	StateEnded                    // End of stream signalled, data still readable
	StateClosed                   // Detached, nothing readable
)

func (s ReadyState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateEnded:
		return "ended"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// EstimateDuration converts a byte count to seconds at BytesPerSecond
func EstimateDuration(totalBytes int64) float64 {
	return float64(totalBytes) / BytesPerSecond
}

// DecodeBuffer is an append-only ordered sequence of encoded audio chunks.
// Appends are processed asynchronously by a decode goroutine; only one append
// may be in flight and Append returns once it has been acknowledged.
type DecodeBuffer struct {
	mu        sync.Mutex
	chunks    [][]byte
	size      int64
	state     ReadyState
	updating  bool
	updateEnd chan struct{} // closed when the in-flight append completes
	changed   chan struct{} // closed and replaced whenever data or state changes

	appends chan []byte
	done    chan struct{}
	once    sync.Once
}

// NewDecodeBuffer creates an open buffer and starts its decode goroutine
func NewDecodeBuffer() *DecodeBuffer {
	b := &DecodeBuffer{
		state:   StateOpen,
		changed: make(chan struct{}),
		appends: make(chan []byte),
		done:    make(chan struct{}),
	}
	go b.decode()
	return b
}

func (b *DecodeBuffer) decode() {
	for {
		select {
		case <-b.done:
			return
		case chunk := <-b.appends:
			b.mu.Lock()
			if b.state != StateClosed {
				b.chunks = append(b.chunks, chunk)
				b.size += int64(len(chunk))
			}
			b.finishUpdateLocked()
			b.signalLocked()
			b.mu.Unlock()
		}
	}
}

func (b *DecodeBuffer) finishUpdateLocked() {
	if b.updating {
		b.updating = false
		close(b.updateEnd)
	}
}

func (b *DecodeBuffer) signalLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// Append submits chunk and waits until the buffer acknowledges it
func (b *DecodeBuffer) Append(ctx context.Context, chunk []byte) error {
	b.mu.Lock()
	if b.state != StateOpen {
		b.mu.Unlock()
		return ErrNotOpen
	}
	if b.updating {
		b.mu.Unlock()
		return ErrUpdating
	}
	b.updating = true
	ack := make(chan struct{})
	b.updateEnd = ack
	b.mu.Unlock()

	data := make([]byte, len(chunk))
	copy(data, chunk)

	select {
	case b.appends <- data:
	case <-b.done:
		return ErrNotOpen
	case <-ctx.Done():
		b.mu.Lock()
		b.finishUpdateLocked()
		b.mu.Unlock()
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Updating reports whether an append is in flight
func (b *DecodeBuffer) Updating() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updating
}

// WaitUpdateEnd blocks until no append is in flight
func (b *DecodeBuffer) WaitUpdateEnd(ctx context.Context) error {
	b.mu.Lock()
	if !b.updating {
		b.mu.Unlock()
		return nil
	}
	ack := b.updateEnd
	b.mu.Unlock()

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Open reports whether the buffer still accepts appends
func (b *DecodeBuffer) Open() bool {
	return b.State() == StateOpen
}

// State returns the current ready state
func (b *DecodeBuffer) State() ReadyState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// EndOfStream marks the buffered data as complete
func (b *DecodeBuffer) EndOfStream() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return ErrNotOpen
	}
	if b.updating {
		return ErrUpdating
	}
	b.state = StateEnded
	b.signalLocked()
	return nil
}

// Close detaches the buffer and releases any waiter
func (b *DecodeBuffer) Close() error {
	b.once.Do(func() {
		b.mu.Lock()
		b.state = StateClosed
		b.finishUpdateLocked()
		b.signalLocked()
		b.mu.Unlock()
		close(b.done)
	})
	return nil
}

// Size returns the number of buffered bytes
func (b *DecodeBuffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Chunks returns the appended chunks in order
func (b *DecodeBuffer) Chunks() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.chunks...)
}

// Changed returns a channel closed on the next data or state change
func (b *DecodeBuffer) Changed() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.changed
}

// ReadAt copies buffered bytes starting at off into p. It returns the number
// of bytes copied and whether off+n reached the end of a completed stream.
func (b *DecodeBuffer) ReadAt(p []byte, off int64) (n int, eof bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		return 0, true
	}
	pos := int64(0)
	for _, c := range b.chunks {
		end := pos + int64(len(c))
		if off < end && n < len(p) {
			start := int64(0)
			if off > pos {
				start = off - pos
			}
			copied := copy(p[n:], c[start:])
			n += copied
			off = pos + start + int64(copied)
		}
		pos = end
		if n == len(p) {
			break
		}
	}
	eof = b.state == StateEnded && off >= b.size
	return n, eof
}
