package browsertest

import (
	"context"
	"sync"

	"github.com/xkilldash9x/wabridge/internal/browser"
)

// Element is a fake DOM node. Configure it before handing it to a Page.
type Element struct {
	// Name identifies the element in recorded events.
	Name  string
	Attrs map[string]string
	// TextValue is what Text returns.
	TextValue string
	// Hidden makes Visible report false.
	Hidden bool
	// PNG is what Screenshot returns.
	PNG []byte
	// Children maps relative XPath expressions to matches.
	Children map[string][]*Element

	// OnClick runs after the click is recorded.
	OnClick func()
	// OnHover runs after the hover is recorded.
	OnHover func()
	// ClickErr fails Click.
	ClickErr error

	page *Page

	mu    sync.Mutex
	files []string
}

var _ browser.Element = (*Element)(nil)

// NewElement creates a named element.
func NewElement(name string) *Element {
	return &Element{Name: name, Attrs: map[string]string{}, Children: map[string][]*Element{}}
}

// WithAttr sets an attribute.
func (e *Element) WithAttr(name, value string) *Element {
	e.Attrs[name] = value
	return e
}

// WithText sets the rendered text.
func (e *Element) WithText(text string) *Element {
	e.TextValue = text
	return e
}

// WithChild adds matches for a relative XPath expression.
func (e *Element) WithChild(xpath string, els ...*Element) *Element {
	e.Children[xpath] = append(e.Children[xpath], els...)
	return e
}

// Files returns what SetFiles received.
func (e *Element) Files() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.files...)
}

func (e *Element) enter(ctx context.Context) (func(), error) {
	if e.page == nil {
		return func() {}, ctx.Err()
	}
	return e.page.enter(ctx)
}

func (e *Element) record(event string) {
	if e.page != nil {
		e.page.record(event + ":" + e.Name)
	}
}

func (e *Element) FindAll(ctx context.Context, xpath string) ([]browser.Element, error) {
	exit, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer exit()
	children := e.Children[xpath]
	if e.page != nil {
		e.page.mu.Lock()
		for _, c := range children {
			if c.page == nil {
				c.page = e.page
			}
		}
		e.page.mu.Unlock()
	}
	return toElements(children), nil
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	exit, err := e.enter(ctx)
	if err != nil {
		return "", false, err
	}
	defer exit()
	v, ok := e.Attrs[name]
	return v, ok, nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	exit, err := e.enter(ctx)
	if err != nil {
		return "", err
	}
	defer exit()
	return e.TextValue, nil
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	exit, err := e.enter(ctx)
	if err != nil {
		return false, err
	}
	defer exit()
	return !e.Hidden, nil
}

func (e *Element) Click(ctx context.Context) error {
	exit, err := e.enter(ctx)
	if err != nil {
		return err
	}
	if e.page != nil {
		if err := e.page.stall(ctx, "click:"+e.Name); err != nil {
			exit()
			return err
		}
	}
	if e.ClickErr != nil {
		exit()
		return e.ClickErr
	}
	e.record("click")
	exit()
	if e.OnClick != nil {
		e.OnClick()
	}
	return nil
}

func (e *Element) Hover(ctx context.Context) error {
	exit, err := e.enter(ctx)
	if err != nil {
		return err
	}
	e.record("hover")
	exit()
	if e.OnHover != nil {
		e.OnHover()
	}
	return nil
}

func (e *Element) Focus(ctx context.Context) error {
	exit, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer exit()
	e.record("focus")
	return nil
}

func (e *Element) Screenshot(ctx context.Context) ([]byte, error) {
	exit, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer exit()
	e.record("screenshot")
	return append([]byte(nil), e.PNG...), nil
}

func (e *Element) SetFiles(ctx context.Context, paths []string) error {
	exit, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer exit()
	e.mu.Lock()
	e.files = append(e.files, paths...)
	e.mu.Unlock()
	e.record("files")
	return nil
}

func toElements(els []*Element) []browser.Element {
	out := make([]browser.Element, len(els))
	for i, el := range els {
		out[i] = el
	}
	return out
}
