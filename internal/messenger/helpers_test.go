package messenger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/wabridge/internal/browser"
	"github.com/xkilldash9x/wabridge/internal/browser/browsertest"
	"github.com/xkilldash9x/wabridge/internal/config"
	"github.com/xkilldash9x/wabridge/internal/selectors"
)

const testURL = "https://web.whatsapp.com/"

var testSelectors = selectors.MustNew("ru")

func xp(name selectors.Name) string { return testSelectors.XPath(name) }

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		AccountsDir: t.TempDir(),
		URL:         testURL,
		Timeouts: config.TimeoutsConfig{
			LoginMaxWait:     300 * time.Millisecond,
			LoginPoll:        10 * time.Millisecond,
			ElementWait:      200 * time.Millisecond,
			PollInterval:     5 * time.Millisecond,
			Liveness:         100 * time.Millisecond,
			CloseChatWait:    50 * time.Millisecond,
			ContextMenuWait:  100 * time.Millisecond,
			AnchorWait:       20 * time.Millisecond,
			Download:         150 * time.Millisecond,
			DownloadPoll:     10 * time.Millisecond,
			HarvestBudget:    10 * time.Second,
			ChatOpenAttempts: 3,
			ChatOpenBackoff:  5 * time.Millisecond,
			Shutdown:         time.Second,
		},
		UI: config.UIConfig{QRMinBytes: 1000},
	}
}

// fixture is one session whose browser is a scripted page.
type fixture struct {
	t        *testing.T
	launcher *browsertest.Launcher
	session  *Session
}

// newFixture builds a session whose launched pages are prepared by setup.
func newFixture(t *testing.T, setup func(p *browsertest.Page)) *fixture {
	t.Helper()
	launcher := browsertest.NewLauncher(func(browser.Profile) *browsertest.Page {
		p := browsertest.NewPage("about:blank")
		if setup != nil {
			setup(p)
		}
		return p
	})
	s, err := NewSession("default", testOptions(t), launcher, testSelectors, zaptest.NewLogger(t))
	require.NoError(t, err)
	return &fixture{t: t, launcher: launcher, session: s}
}

// start launches the browser and returns its page.
func (f *fixture) start() *browsertest.Page {
	f.t.Helper()
	_, err := f.session.Handle(context.Background(), true)
	require.NoError(f.t, err)
	return f.page()
}

func (f *fixture) page() *browsertest.Page {
	return f.launcher.Page(f.launcher.Launches() - 1)
}

// -- UI builders --

func chatItem(title string, unread bool) *browsertest.Element {
	item := browsertest.NewElement("chat:" + title).
		WithChild(xp(selectors.ChatTitle), browsertest.NewElement("title").WithAttr("title", title))
	if unread {
		item.WithChild(xp(selectors.UnreadBadge), browsertest.NewElement("badge"))
	}
	return item
}

func chatList(items ...*browsertest.Element) *browsertest.Element {
	return browsertest.NewElement("chat_list").WithChild(xp(selectors.ChatItem), items...)
}

func meta(sender string) *browsertest.Element {
	return browsertest.NewElement("meta").WithAttr("data-pre-plain-text", "[12:01, 18.10.2026] "+sender+": ")
}

func textRow(sender, text string) *browsertest.Element {
	row := browsertest.NewElement("row:" + text).
		WithChild(xp(selectors.Text), browsertest.NewElement("text").WithText(text))
	if sender != "" {
		row.WithChild(xp(selectors.MessageMeta), meta(sender))
	}
	return row
}

// writeLater drops a finished file into dir shortly after being called, the
// way a browser download completes asynchronously.
func writeLater(dir, name string) func() {
	return func() {
		go func() {
			time.Sleep(5 * time.Millisecond)
			_ = os.WriteFile(filepath.Join(dir, name), []byte("payload"), 0o644)
		}()
	}
}

// fileRow is a document row whose download control writes name into dir.
// A nil dir makes the download hang.
func fileRow(sender, name, dir string) *browsertest.Element {
	button := browsertest.NewElement("download:"+name).WithAttr("title", `Скачать "`+name+`"`)
	if dir != "" {
		button.OnClick = writeLater(dir, name)
	}
	return browsertest.NewElement("row:"+name).
		WithChild(xp(selectors.MessageMeta), meta(sender)).
		WithChild(xp(selectors.FileDownloadButton), button).
		WithChild(xp(selectors.FileType), browsertest.NewElement("type").WithAttr("title", "PDF")).
		WithChild(xp(selectors.FileSize), browsertest.NewElement("size").WithText("12 КБ"))
}

// mediaRow is an audio or image row downloaded through the context menu.
func mediaRow(sender string, control selectors.Name) *browsertest.Element {
	return browsertest.NewElement("row:"+string(control)).
		WithChild(xp(selectors.MessageMeta), meta(sender)).
		WithChild(xp(control), browsertest.NewElement(string(control)))
}

// installContextMenu makes the download option write name into dir.
func installContextMenu(p *browsertest.Page, dir, name string) {
	option := browsertest.NewElement("download_option")
	if dir != "" {
		option.OnClick = writeLater(dir, name)
	}
	p.Set(xp(selectors.ContextMenu), browsertest.NewElement("context_menu"))
	p.Set(xp(selectors.DownloadOption), option)
}

// installChatControls renders the chat pane menu used to close a chat.
func installChatControls(p *browsertest.Page) {
	p.Set(xp(selectors.MenuButton), browsertest.NewElement("menu"))
	p.Set(xp(selectors.CloseChat), browsertest.NewElement("close_chat"))
}

// openWith makes clicking item render rows below an unread marker, or as
// plain incoming rows when anchored is false.
func openWith(p *browsertest.Page, item *browsertest.Element, anchored bool, rows ...*browsertest.Element) {
	item.OnClick = func() {
		if anchored {
			anchor := browsertest.NewElement("anchor").WithChild(xp(selectors.MessagesAfter), rows...)
			p.Set(xp(selectors.UnreadAnchor), anchor)
			p.Remove(xp(selectors.MessageIn))
		} else {
			p.Remove(xp(selectors.UnreadAnchor))
			p.Set(xp(selectors.MessageIn), rows...)
		}
	}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
