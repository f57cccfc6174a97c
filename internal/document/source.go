// Package document supplies page text to the narration player.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrNotPDF is returned for files that are not PDF documents
	ErrNotPDF = errors.New("file is not a PDF document")
	// ErrPageOutOfRange is returned for page numbers outside [1, PageCount]
	ErrPageOutOfRange = errors.New("page out of range")
)

// TextSource produces the plain text of a document page. Pages are 1-based.
type TextSource interface {
	PageCount() int
	PageText(ctx context.Context, page int) (string, error)
}

// ValidateFile rejects anything that does not sniff as application/pdf
func ValidateFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ValidateBytes(head[:n])
}

// ValidateBytes rejects content that does not sniff as application/pdf
func ValidateBytes(data []byte) error {
	if http.DetectContentType(data) != "application/pdf" {
		return ErrNotPDF
	}
	return nil
}

// PDFSource extracts page text from a PDF document
type PDFSource struct {
	mu     sync.Mutex
	reader *pdf.Reader
	closer io.Closer
	pages  int
}

// OpenPDF validates and opens the PDF at path
func OpenPDF(path string) (*PDFSource, error) {
	if err := ValidateFile(path); err != nil {
		return nil, err
	}
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &PDFSource{reader: r, closer: f, pages: r.NumPage()}, nil
}

// NewPDFSource reads a PDF held in memory
func NewPDFSource(data []byte) (*PDFSource, error) {
	if err := ValidateBytes(data); err != nil {
		return nil, err
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdf: %w", err)
	}
	return &PDFSource{reader: r, pages: r.NumPage()}, nil
}

// PageCount returns the number of pages
func (s *PDFSource) PageCount() int {
	return s.pages
}

// PageText returns the page's text runs in reading order, whitespace separated
func (s *PDFSource) PageText(ctx context.Context, page int) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if page < 1 || page > s.pages {
		return "", fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, page, s.pages)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The parser panics on some malformed content streams
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("failed to extract page %d: %v", page, r)
		}
	}()

	p := s.reader.Page(page)
	if p.V.IsNull() {
		return "", fmt.Errorf("%w: page %d has no content", ErrPageOutOfRange, page)
	}
	fonts := make(map[string]*pdf.Font)
	for _, name := range p.Fonts() {
		f := p.Font(name)
		fonts[name] = &f
	}
	plain, err := p.GetPlainText(fonts)
	if err != nil {
		return "", fmt.Errorf("failed to extract page %d: %w", page, err)
	}
	return strings.Join(strings.Fields(plain), " "), nil
}

// Close releases the underlying file
func (s *PDFSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
