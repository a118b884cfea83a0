// Package browsertest provides an in-memory browser.Handle whose DOM is a
// scripted table of XPath expressions to elements.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/wabridge/internal/browser"
)

// Page is a fake browser tab. Lookups match XPath expressions literally.
type Page struct {
	mu      sync.Mutex
	url     string
	nodes   map[string][]*Element
	dynamic map[string]func() []*Element
	cookies []browser.Cookie
	events  []string
	closed  bool
	stalls  map[string]bool

	// CrashErr makes URL fail, simulating a dead browser.
	CrashErr error
	// CloseErr is returned by Close after the page is marked closed.
	CloseErr error
	// Delay is slept inside every handle and element call.
	Delay time.Duration
	// CloseDelay is slept by Close before the page is marked closed.
	CloseDelay time.Duration
	// OnNavigate runs after each navigation.
	OnNavigate func(p *Page, url string)

	active    int
	maxActive int
	releases  int
}

var _ browser.Handle = (*Page)(nil)

// NewPage creates a page at the given URL.
func NewPage(url string) *Page {
	return &Page{
		url:     url,
		nodes:   make(map[string][]*Element),
		dynamic: make(map[string]func() []*Element),
		stalls:  make(map[string]bool),
	}
}

// Stall makes a call hang until its context ends, the way a renderer blocked
// by a modal dialog never answers. Calls are named "find:<xpath>", "insert",
// "enter", "navigate" or "click:<element name>".
func (p *Page) Stall(call string) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stalls[call] = true
	return p
}

// stall blocks a stalled call until ctx is done.
func (p *Page) stall(ctx context.Context, call string) error {
	p.mu.Lock()
	stalled := p.stalls[call]
	p.mu.Unlock()
	if !stalled {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

// Set replaces the elements matched by xpath at document level.
func (p *Page) Set(xpath string, els ...*Element) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, el := range els {
		el.page = p
	}
	p.nodes[xpath] = els
	return p
}

// Remove drops every element matched by xpath.
func (p *Page) Remove(xpath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.nodes, xpath)
	delete(p.dynamic, xpath)
}

// Dynamic computes the matches for xpath on every lookup.
func (p *Page) Dynamic(xpath string, fn func() []*Element) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dynamic[xpath] = fn
	return p
}

// SetCookies sets what Cookies returns.
func (p *Page) SetCookies(cookies ...browser.Cookie) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = cookies
}

// Events returns the recorded interactions in order, e.g. "click:send",
// "insert:hello", "navigate:https://...".
func (p *Page) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// MaxActive is the highest number of calls that were ever in flight at once.
func (p *Page) MaxActive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive
}

// Releases counts Release calls.
func (p *Page) Releases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releases
}

func (p *Page) record(event string) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

// enter marks a call in flight and applies Delay. The returned func ends it.
func (p *Page) enter(ctx context.Context) (func(), error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, browser.ErrClosed
	}
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	delay := p.Delay
	p.mu.Unlock()

	exit := func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			exit()
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		exit()
		return nil, err
	}
	return exit, nil
}

func (p *Page) lookup(xpath string) []*Element {
	p.mu.Lock()
	fn := p.dynamic[xpath]
	els := append([]*Element(nil), p.nodes[xpath]...)
	p.mu.Unlock()
	if fn != nil {
		els = fn()
		p.mu.Lock()
		for _, el := range els {
			el.page = p
		}
		p.mu.Unlock()
	}
	return els
}

func (p *Page) URL(ctx context.Context) (string, error) {
	exit, err := p.enter(ctx)
	if err != nil {
		return "", err
	}
	defer exit()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CrashErr != nil {
		return "", p.CrashErr
	}
	return p.url, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	exit, err := p.enter(ctx)
	if err == nil {
		if err = p.stall(ctx, "navigate"); err != nil {
			exit()
		}
	}
	if err != nil {
		return err
	}
	defer exit()
	p.mu.Lock()
	p.url = url
	hook := p.OnNavigate
	p.mu.Unlock()
	p.record("navigate:" + url)
	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *Page) FindAll(ctx context.Context, xpath string) ([]browser.Element, error) {
	exit, err := p.enter(ctx)
	if err == nil {
		if err = p.stall(ctx, "find:"+xpath); err != nil {
			exit()
		}
	}
	if err != nil {
		return nil, err
	}
	defer exit()
	return toElements(p.lookup(xpath)), nil
}

func (p *Page) InsertText(ctx context.Context, text string) error {
	exit, err := p.enter(ctx)
	if err == nil {
		if err = p.stall(ctx, "insert"); err != nil {
			exit()
		}
	}
	if err != nil {
		return err
	}
	defer exit()
	p.record("insert:" + text)
	return nil
}

func (p *Page) PressEnter(ctx context.Context) error {
	exit, err := p.enter(ctx)
	if err == nil {
		if err = p.stall(ctx, "enter"); err != nil {
			exit()
		}
	}
	if err != nil {
		return err
	}
	defer exit()
	p.record("enter")
	return nil
}

func (p *Page) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	exit, err := p.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer exit()
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Cookie(nil), p.cookies...), nil
}

func (p *Page) Release(ctx context.Context) error {
	exit, err := p.enter(ctx)
	if err != nil {
		return err
	}
	defer exit()
	p.mu.Lock()
	p.releases++
	p.mu.Unlock()
	return nil
}

func (p *Page) Close(context.Context) error {
	p.mu.Lock()
	delay := p.CloseDelay
	p.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrClosed
	}
	p.closed = true
	p.events = append(p.events, "close")
	return p.CloseErr
}

// Launcher hands out pages in place of real browsers.
type Launcher struct {
	mu       sync.Mutex
	newPage  func(browser.Profile) *Page
	pages    []*Page
	profiles []browser.Profile

	// Err, when set, fails every launch.
	Err error
}

var _ browser.Launcher = (*Launcher)(nil)

// NewLauncher creates a launcher that builds each page with newPage.
func NewLauncher(newPage func(browser.Profile) *Page) *Launcher {
	return &Launcher{newPage: newPage}
}

func (l *Launcher) Launch(ctx context.Context, profile browser.Profile) (browser.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	var p *Page
	if l.newPage != nil {
		p = l.newPage(profile)
	}
	if p == nil {
		p = NewPage("about:blank")
	}
	l.pages = append(l.pages, p)
	l.profiles = append(l.profiles, profile)
	return p, nil
}

// Launches returns how many handles were started.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pages)
}

// Page returns the i-th launched page.
func (l *Launcher) Page(i int) *Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.pages) {
		panic(fmt.Sprintf("browsertest: no page %d (launched %d)", i, len(l.pages)))
	}
	return l.pages[i]
}

// Profile returns the profile of the i-th launch.
func (l *Launcher) Profile(i int) browser.Profile {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profiles[i]
}

// ErrCrashed is a ready-made CrashErr.
var ErrCrashed = errors.New("browsertest: target crashed")
