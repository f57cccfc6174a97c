package audio

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestDecodeBuffer_Append(t *testing.T) {
	b := NewDecodeBuffer()
	defer b.Close()

	ctx := context.Background()
	if err := b.Append(ctx, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := b.Append(ctx, []byte{4, 5}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if b.Size() != 5 {
		t.Errorf("Expected size 5, got %d", b.Size())
	}
	chunks := b.Chunks()
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	if !bytes.Equal(chunks[1], []byte{4, 5}) {
		t.Errorf("Expected second chunk [4 5], got %v", chunks[1])
	}
	if b.Updating() {
		t.Error("Expected buffer not updating after acknowledged append")
	}
}

func TestDecodeBuffer_AppendCopiesInput(t *testing.T) {
	b := NewDecodeBuffer()
	defer b.Close()

	chunk := []byte{9, 9}
	if err := b.Append(context.Background(), chunk); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	chunk[0] = 0

	if b.Chunks()[0][0] != 9 {
		t.Error("Expected buffer to keep its own copy of the chunk")
	}
}

func TestDecodeBuffer_EndOfStream(t *testing.T) {
	b := NewDecodeBuffer()
	defer b.Close()

	if !b.Open() {
		t.Fatal("Expected new buffer to be open")
	}
	if err := b.EndOfStream(); err != nil {
		t.Fatalf("EndOfStream failed: %v", err)
	}
	if b.State() != StateEnded {
		t.Errorf("Expected state ended, got %s", b.State())
	}
	if err := b.Append(context.Background(), []byte{1}); err != ErrNotOpen {
		t.Errorf("Expected ErrNotOpen after end of stream, got %v", err)
	}
	if err := b.EndOfStream(); err != ErrNotOpen {
		t.Errorf("Expected ErrNotOpen on second EndOfStream, got %v", err)
	}
}

func TestDecodeBuffer_Close(t *testing.T) {
	b := NewDecodeBuffer()
	b.Close()
	b.Close()

	if b.Open() {
		t.Error("Expected closed buffer not to be open")
	}
	if err := b.Append(context.Background(), []byte{1}); err != ErrNotOpen {
		t.Errorf("Expected ErrNotOpen, got %v", err)
	}
	n, eof := b.ReadAt(make([]byte, 4), 0)
	if n != 0 || !eof {
		t.Errorf("Expected (0, true) from closed buffer, got (%d, %v)", n, eof)
	}
}

func TestDecodeBuffer_WaitUpdateEnd(t *testing.T) {
	b := NewDecodeBuffer()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := b.WaitUpdateEnd(ctx); err != nil {
		t.Errorf("Expected immediate return when idle, got %v", err)
	}
}

func TestDecodeBuffer_ReadAt(t *testing.T) {
	b := NewDecodeBuffer()
	defer b.Close()

	ctx := context.Background()
	b.Append(ctx, []byte{1, 2, 3})
	b.Append(ctx, []byte{4, 5, 6})

	p := make([]byte, 4)
	n, eof := b.ReadAt(p, 1)
	if n != 4 {
		t.Fatalf("Expected 4 bytes, got %d", n)
	}
	if !bytes.Equal(p, []byte{2, 3, 4, 5}) {
		t.Errorf("Expected [2 3 4 5], got %v", p)
	}
	if eof {
		t.Error("Expected no eof while stream is open")
	}

	n, _ = b.ReadAt(p, 6)
	if n != 0 {
		t.Errorf("Expected 0 bytes past the end, got %d", n)
	}

	b.EndOfStream()
	n, eof = b.ReadAt(p, 4)
	if n != 2 || !eof {
		t.Errorf("Expected (2, true) at the tail of an ended stream, got (%d, %v)", n, eof)
	}
}

func TestDecodeBuffer_ReadAtPartialLastChunk(t *testing.T) {
	b := NewDecodeBuffer()
	defer b.Close()

	b.Append(context.Background(), bytes.Repeat([]byte{9}, 4096))
	b.EndOfStream()

	p := make([]byte, 16)
	var off int64
	for {
		n, eof := b.ReadAt(p, off)
		off += int64(n)
		if eof {
			break
		}
		if n == 0 {
			t.Fatalf("Expected progress before eof, stuck at offset %d", off)
		}
	}
	if off != 4096 {
		t.Errorf("Expected eof only after 4096 bytes, got %d", off)
	}

	n, eof := b.ReadAt(p, 16)
	if n != 16 || eof {
		t.Errorf("Expected (16, false) inside the last chunk, got (%d, %v)", n, eof)
	}
}

func TestDecodeBuffer_Changed(t *testing.T) {
	b := NewDecodeBuffer()
	defer b.Close()

	changed := b.Changed()
	b.Append(context.Background(), []byte{1})

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Error("Expected change notification after append")
	}
}

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected float64
	}{
		{0, 0},
		{16000, 1},
		{40000, 2.5},
	}

	for _, tt := range tests {
		if got := EstimateDuration(tt.bytes); got != tt.expected {
			t.Errorf("EstimateDuration(%d): expected %v, got %v", tt.bytes, tt.expected, got)
		}
	}
}
