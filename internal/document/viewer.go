package document

import (
	"context"
	"fmt"
	"sync"
)

// Narrator is the narration side of the viewer: it is reset on every page
// change before the new page text is handed over
type Narrator interface {
	Reset()
	SetText(text string)
}

// PageChange is published after the viewer moved to a page
type PageChange struct {
	Page  int
	Pages int
	Text  string
}

// Viewer tracks the current page of a document and keeps the narrator in
// step with it
type Viewer struct {
	src      TextSource
	narrator Narrator
	onChange func(PageChange)

	mu   sync.Mutex
	page int
	text string
}

// NewViewer creates a viewer positioned before the first page; call GoTo(ctx, 1)
func NewViewer(src TextSource, narrator Narrator) *Viewer {
	return &Viewer{src: src, narrator: narrator}
}

// OnPageChange registers a callback for page changes
func (v *Viewer) OnPageChange(fn func(PageChange)) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// Page returns the current page, 0 before the first GoTo
func (v *Viewer) Page() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page
}

// PageCount returns the document page count
func (v *Viewer) PageCount() int {
	return v.src.PageCount()
}

// Text returns the current page text
func (v *Viewer) Text() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.text
}

// GoTo moves to page. The narrator is reset before the page text is
// extracted, so it never holds text from two pages.
func (v *Viewer) GoTo(ctx context.Context, page int) error {
	if page < 1 || page > v.src.PageCount() {
		return fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, page, v.src.PageCount())
	}

	v.mu.Lock()
	v.narrator.Reset()
	v.page = page
	v.text = ""

	text, err := v.src.PageText(ctx, page)
	if err != nil {
		v.narrator.SetText("")
		v.mu.Unlock()
		return err
	}
	v.text = text
	v.narrator.SetText(text)
	onChange := v.onChange
	v.mu.Unlock()

	if onChange != nil {
		onChange(PageChange{Page: page, Pages: v.src.PageCount(), Text: text})
	}
	return nil
}

// Next moves to the following page
func (v *Viewer) Next(ctx context.Context) error {
	return v.GoTo(ctx, v.Page()+1)
}

// Prev moves to the preceding page
func (v *Viewer) Prev(ctx context.Context) error {
	return v.GoTo(ctx, v.Page()-1)
}
