package messenger

import (
	"context"
	"time"

	"github.com/xkilldash9x/wabridge/internal/browser"
)

// boundedHandle caps every browser call at step, so a page that stops
// answering fails the step instead of holding the op lock forever. URL and
// Close are not wrapped; their callers pass their own timeouts.
type boundedHandle struct {
	browser.Handle
	step time.Duration
}

// bounded wraps h for use inside one guarded operation.
func (s *Session) bounded(h browser.Handle) browser.Handle {
	if s.opts.Timeouts.ElementWait <= 0 {
		return h
	}
	return &boundedHandle{Handle: h, step: s.opts.Timeouts.ElementWait}
}

func (b *boundedHandle) FindAll(ctx context.Context, xpath string) ([]browser.Element, error) {
	ctx, cancel := context.WithTimeout(ctx, b.step)
	defer cancel()
	els, err := b.Handle.FindAll(ctx, xpath)
	return wrapElements(els, b.step), err
}

func (b *boundedHandle) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, b.step)
	defer cancel()
	return b.Handle.Navigate(ctx, url)
}

func (b *boundedHandle) InsertText(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, b.step)
	defer cancel()
	return b.Handle.InsertText(ctx, text)
}

func (b *boundedHandle) PressEnter(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.step)
	defer cancel()
	return b.Handle.PressEnter(ctx)
}

func (b *boundedHandle) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	ctx, cancel := context.WithTimeout(ctx, b.step)
	defer cancel()
	return b.Handle.Cookies(ctx)
}

func (b *boundedHandle) Release(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.step)
	defer cancel()
	return b.Handle.Release(ctx)
}

type boundedElement struct {
	browser.Element
	step time.Duration
}

func wrapElements(els []browser.Element, step time.Duration) []browser.Element {
	for i, el := range els {
		els[i] = &boundedElement{Element: el, step: step}
	}
	return els
}

func (b *boundedElement) FindAll(ctx context.Context, xpath string) ([]browser.Element, error) {
	ctx, cancel := context.WithTimeout(ctx, b.step)
	defer cancel()
	els, err := b.Element.FindAll(ctx, xpath)
	return wrapElements(els, b.step), err
}

func (b *boundedElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, b.step)
	defer cancel()
	return b.Element.Attribute(ctx, name)
}

func (b *boundedElement) Text(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.step)
	defer cancel()
	return b.Element.Text(ctx)
}

func (b *boundedElement) Visible(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, b.step)
	defer cancel()
	return b.Element.Visible(ctx)
}

func (b *boundedElement) Click(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.step)
	defer cancel()
	return b.Element.Click(ctx)
}

func (b *boundedElement) Hover(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.step)
	defer cancel()
	return b.Element.Hover(ctx)
}

func (b *boundedElement) Focus(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.step)
	defer cancel()
	return b.Element.Focus(ctx)
}

func (b *boundedElement) Screenshot(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.step)
	defer cancel()
	return b.Element.Screenshot(ctx)
}

func (b *boundedElement) SetFiles(ctx context.Context, paths []string) error {
	ctx, cancel := context.WithTimeout(ctx, b.step)
	defer cancel()
	return b.Element.SetFiles(ctx, paths)
}
