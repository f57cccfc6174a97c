// Package app holds the reader's application state: the open document, its
// file name, the persisted voice settings and the narration player.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pagecast/narrator/internal/audio"
	"github.com/pagecast/narrator/internal/document"
	"github.com/pagecast/narrator/internal/narration"
	"github.com/pagecast/narrator/internal/observability"
	"github.com/pagecast/narrator/internal/settings"
	"github.com/pagecast/narrator/internal/voices"
)

// ErrNoDocument is returned by operations that need an open document
var ErrNoDocument = errors.New("no document is open")

// Options configures a Reader
type Options struct {
	Streamer     narration.Streamer
	Media        narration.MediaFactory
	Store        settings.Store
	PollInterval time.Duration
	StallTimeout time.Duration
	Observer     narration.Observer
	OnPage       func(document.PageChange)
}

// PlaybackMedia returns a media factory that decodes into an audio.DecodeBuffer
// and plays it to w at rate bytes per second
func PlaybackMedia(w io.Writer, rate int) narration.MediaFactory {
	logger := observability.WithComponent("playback")
	return func() (narration.Sink, narration.Output, error) {
		buf := audio.NewDecodeBuffer()
		return buf, audio.NewPlayback(buf, w, rate, audio.WithLogger(logger)), nil
	}
}

// Reader is the application state of one reader window
type Reader struct {
	store  settings.Store
	player *narration.Player
	onPage func(document.PageChange)
	logger zerolog.Logger

	mu       sync.Mutex
	path     string
	filename string
	source   document.TextSource
	viewer   *document.Viewer
}

// NewReader creates a reader with the persisted settings loaded into its player
func NewReader(ctx context.Context, opts Options) (*Reader, error) {
	if opts.Store == nil {
		opts.Store = settings.NewMemoryStore()
	}
	current, err := opts.Store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load voice settings: %w", err)
	}

	playerOpts := []narration.Option{
		narration.WithSettings(current),
		narration.WithStallTimeout(opts.StallTimeout),
	}
	if opts.PollInterval > 0 {
		playerOpts = append(playerOpts, narration.WithPollInterval(opts.PollInterval))
	}
	if opts.Observer != nil {
		playerOpts = append(playerOpts, narration.WithObserver(opts.Observer))
	}

	return &Reader{
		store:  opts.Store,
		player: narration.NewPlayer(opts.Streamer, opts.Media, playerOpts...),
		onPage: opts.OnPage,
		logger: observability.WithComponent("reader"),
	}, nil
}

// Open validates and opens the PDF at path, showing its first page. An
// invalid file leaves the current state untouched.
func (r *Reader) Open(ctx context.Context, path string) error {
	src, err := document.OpenPDF(path)
	if err != nil {
		return err
	}
	if err := r.OpenSource(ctx, path, src); err != nil {
		src.Close()
		return err
	}
	return nil
}

// OpenSource replaces the open document with src
func (r *Reader) OpenSource(ctx context.Context, path string, src document.TextSource) error {
	if src.PageCount() < 1 {
		return fmt.Errorf("%s: %w", path, document.ErrPageOutOfRange)
	}

	viewer := document.NewViewer(src, r.player)
	if r.onPage != nil {
		viewer.OnPageChange(r.onPage)
	}

	r.mu.Lock()
	previous := r.source
	r.path = path
	r.filename = filepath.Base(path)
	r.source = src
	r.viewer = viewer
	r.mu.Unlock()

	closeSource(previous)
	r.logger.Info().Str("file", r.filename).Int("pages", src.PageCount()).Msg("Document opened")
	return viewer.GoTo(ctx, 1)
}

// Viewer returns the page viewer, nil before a document is opened
func (r *Reader) Viewer() *document.Viewer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewer
}

// Player returns the narration player
func (r *Reader) Player() *narration.Player {
	return r.player
}

// FileName returns the base name of the open document
func (r *Reader) FileName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filename
}

// GoTo shows page of the open document
func (r *Reader) GoTo(ctx context.Context, page int) error {
	v := r.Viewer()
	if v == nil {
		return ErrNoDocument
	}
	return v.GoTo(ctx, page)
}

// Settings returns the voice settings used for the next narration
func (r *Reader) Settings() voices.Settings {
	return r.player.Settings()
}

// UpdateSettings validates, persists and applies s. The current session keeps
// its settings; the next one uses s.
func (r *Reader) UpdateSettings(ctx context.Context, s voices.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := r.store.Set(ctx, s); err != nil {
		return fmt.Errorf("failed to save voice settings: %w", err)
	}
	r.player.SetSettings(s)
	return nil
}

// Reset stops narration and forgets the open document
func (r *Reader) Reset() {
	r.player.Reset()
	r.player.SetText("")

	r.mu.Lock()
	previous := r.source
	r.path = ""
	r.filename = ""
	r.source = nil
	r.viewer = nil
	r.mu.Unlock()

	closeSource(previous)
}

// Close resets the reader and closes the settings store
func (r *Reader) Close() error {
	r.Reset()
	return r.store.Close()
}

func closeSource(src document.TextSource) {
	if c, ok := src.(io.Closer); ok {
		c.Close()
	}
}
