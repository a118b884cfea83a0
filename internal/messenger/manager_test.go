package messenger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/wabridge/internal/browser"
	"github.com/xkilldash9x/wabridge/internal/browser/browsertest"
	"github.com/xkilldash9x/wabridge/internal/selectors"
)

func newTestManager(t *testing.T, setup func(account string, p *browsertest.Page)) (*Manager, *browsertest.Launcher) {
	t.Helper()
	launcher := browsertest.NewLauncher(func(profile browser.Profile) *browsertest.Page {
		p := browsertest.NewPage("about:blank")
		if setup != nil {
			setup(profile.Account, p)
		}
		return p
	})
	return NewManager(zaptest.NewLogger(t), testOptions(t), launcher, testSelectors), launcher
}

func TestManagerGet(t *testing.T) {
	m, _ := newTestManager(t, nil)

	a, err := m.Get("alice")
	require.NoError(t, err)
	again, err := m.Get("alice")
	require.NoError(t, err)
	assert.Same(t, a, again)

	b, err := m.Get("bob")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.NotEqual(t, a.ProfileDir(), b.ProfileDir())

	_, err = m.Get("../etc")
	assert.ErrorIs(t, err, ErrInvalidAccount)
}

func TestManagerGetConcurrent(t *testing.T) {
	m, _ := newTestManager(t, nil)

	const n = 16
	got := make([]*Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Get("shared")
			assert.NoError(t, err)
			got[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range got[1:] {
		assert.Same(t, got[0], s)
	}
}

func TestManagerClose(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown account", func(t *testing.T) {
		m, _ := newTestManager(t, nil)
		assert.ErrorIs(t, m.Close(ctx, "nobody"), ErrNotFound)
	})

	t.Run("running browser", func(t *testing.T) {
		m, launcher := newTestManager(t, nil)
		s, err := m.Get("alice")
		require.NoError(t, err)
		_, err = s.Handle(ctx, true)
		require.NoError(t, err)

		require.NoError(t, m.Close(ctx, "alice"))
		assert.True(t, launcher.Page(0).Closed())

		_, err = s.Handle(ctx, true)
		assert.ErrorIs(t, err, ErrSessionClosed, "a removed session never starts another browser")
		assert.Equal(t, 1, launcher.Launches())

		fresh, err := m.Get("alice")
		require.NoError(t, err)
		assert.NotSame(t, s, fresh, "a closed account gets a new session")
		assert.NoError(t, m.Close(ctx, "alice"))
	})

	t.Run("never started", func(t *testing.T) {
		m, launcher := newTestManager(t, nil)
		_, err := m.Get("alice")
		require.NoError(t, err)

		require.NoError(t, m.Close(ctx, "alice"))
		assert.Equal(t, 0, launcher.Launches())
		assert.ErrorIs(t, m.Close(ctx, "alice"), ErrNotFound)
	})

	t.Run("close failure still removes the session", func(t *testing.T) {
		boom := errors.New("browser refused to exit")
		m, _ := newTestManager(t, func(_ string, p *browsertest.Page) { p.CloseErr = boom })
		s, err := m.Get("alice")
		require.NoError(t, err)
		_, err = s.Handle(ctx, true)
		require.NoError(t, err)

		assert.ErrorIs(t, m.Close(ctx, "alice"), boom)
		assert.ErrorIs(t, m.Close(ctx, "alice"), ErrNotFound)
	})
}

func TestManagerCloseRacingLogin(t *testing.T) {
	ctx := context.Background()
	m, launcher := newTestManager(t, func(_ string, p *browsertest.Page) {
		p.Set(xp(selectors.ChatList), chatList())
		p.CloseDelay = 100 * time.Millisecond
	})

	_, err := m.Login(ctx, "default")
	require.NoError(t, err)
	first := launcher.Page(0)

	closed := make(chan error, 1)
	go func() { closed <- m.Close(ctx, "default") }()
	time.Sleep(20 * time.Millisecond)

	result, err := m.Login(ctx, "default")
	require.NoError(t, err)
	assert.True(t, result.LoggedIn)
	require.NoError(t, <-closed)

	require.Equal(t, 2, launcher.Launches())
	assert.True(t, first.Closed())
	second := launcher.Page(1)
	assert.False(t, second.Closed())

	s, err := m.Get("default")
	require.NoError(t, err)
	h, err := s.Handle(ctx, false)
	require.NoError(t, err)
	assert.Same(t, browser.Handle(second), h, "the registered session owns the live browser")

	require.NoError(t, m.Shutdown(ctx))
	for i := 0; i < launcher.Launches(); i++ {
		assert.True(t, launcher.Page(i).Closed(), "browser %d outlived shutdown", i)
	}
}

func TestManagerGetWaitsForClosingBrowser(t *testing.T) {
	ctx := context.Background()
	m, launcher := newTestManager(t, func(_ string, p *browsertest.Page) {
		p.CloseDelay = 80 * time.Millisecond
	})
	s, err := m.Get("alice")
	require.NoError(t, err)
	_, err = s.Handle(ctx, true)
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- m.Close(ctx, "alice") }()
	time.Sleep(10 * time.Millisecond)

	fresh, err := m.Get("alice")
	require.NoError(t, err)
	assert.NotSame(t, s, fresh)
	assert.True(t, launcher.Page(0).Closed(), "the old browser is gone before a new session is handed out")
	require.NoError(t, <-closed)

	waitCtx, cancel := context.WithCancel(ctx)
	cancel()
	m.mu.Lock()
	m.closing["bob"] = make(chan struct{})
	m.mu.Unlock()
	_, err = m.get(waitCtx, "bob")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManagerStaleSessionAfterClose(t *testing.T) {
	ctx := context.Background()
	m, launcher := newTestManager(t, func(_ string, p *browsertest.Page) {
		p.Set(xp(selectors.ChatList), chatList())
	})

	stale, err := m.Get("default")
	require.NoError(t, err)
	_, err = stale.Login(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Close(ctx, "default"))

	_, err = stale.Login(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, 1, launcher.Launches())

	// The manager itself hands out a fresh session.
	_, err = m.Login(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 2, launcher.Launches())
}

func TestManagerRetiresBusySession(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	m, launcher := newTestManager(t, func(_ string, p *browsertest.Page) {
		installNewChatFlow(p, true)
		newChat := browsertest.NewElement("new_chat")
		newChat.OnClick = func() {
			close(entered)
			<-release
		}
		p.Set(xp(selectors.NewChatButton), newChat)
	})
	s, err := m.Get("alice")
	require.NoError(t, err)
	_, err = s.Handle(ctx, true)
	require.NoError(t, err)

	sent := make(chan error, 1)
	go func() { sent <- s.SendMessage(ctx, "bob", "hi") }()
	<-entered

	closeCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Close(closeCtx, "alice"), context.DeadlineExceeded)
	assert.False(t, launcher.Page(0).Closed(), "the running operation keeps its browser")

	close(release)
	assert.NoError(t, <-sent)

	// Get waits until the deferred close has happened.
	_, err = m.Get("alice")
	require.NoError(t, err)
	assert.True(t, launcher.Page(0).Closed())
}

func TestManagerAccounts(t *testing.T) {
	m, _ := newTestManager(t, nil)

	accounts, err := m.Accounts()
	require.NoError(t, err)
	assert.Empty(t, accounts)

	for _, name := range []string{"zoe", "alice"} {
		_, err := m.Get(name)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(m.opts.AccountsDir, "notes.txt"), nil, 0o644))

	accounts, err = m.Accounts()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "zoe"}, accounts)
}

func TestManagerAccountsMissingDirectory(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.opts.AccountsDir = filepath.Join(t.TempDir(), "absent")

	accounts, err := m.Accounts()
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestManagerShutdown(t *testing.T) {
	ctx := context.Background()
	m, launcher := newTestManager(t, nil)

	for _, name := range []string{"alice", "bob"} {
		s, err := m.Get(name)
		require.NoError(t, err)
		_, err = s.Handle(ctx, true)
		require.NoError(t, err)
	}
	_, err := m.Get("idle")
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(ctx))
	for i := 0; i < launcher.Launches(); i++ {
		assert.True(t, launcher.Page(i).Closed())
	}
	assert.ErrorIs(t, m.Close(ctx, "alice"), ErrNotFound)
}

func TestManagerAccountsAreIndependent(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})

	m, _ := newTestManager(t, func(account string, p *browsertest.Page) {
		installNewChatFlow(p, true)
		if account == "slow" {
			newChat := browsertest.NewElement("new_chat")
			newChat.OnClick = func() {
				close(entered)
				<-release
			}
			p.Set(xp(selectors.NewChatButton), newChat)
		}
	})
	for _, name := range []string{"slow", "fast"} {
		s, err := m.Get(name)
		require.NoError(t, err)
		_, err = s.Handle(ctx, true)
		require.NoError(t, err)
	}

	slowDone := make(chan error, 1)
	go func() { slowDone <- m.SendMessage(ctx, "slow", "someone", "hi") }()
	<-entered

	fastDone := make(chan error, 1)
	go func() { fastDone <- m.SendMessage(ctx, "fast", "someone", "hi") }()
	select {
	case err := <-fastDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("an operation on one account blocked another account")
	}

	close(release)
	assert.NoError(t, <-slowDone)
}

func TestManagerFacades(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, func(_ string, p *browsertest.Page) {
		p.Set(xp(selectors.ChatList), chatList(chatItem("Alice", false)))
		installNewChatFlow(p, true)
	})

	result, err := m.Login(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, result.LoggedIn)

	chats, err := m.Chats(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, chats, 1)

	batch, err := m.UnreadMessages(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, batch)

	require.NoError(t, m.SendMessage(ctx, "alice", "Alice", "hi"))

	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))
	require.NoError(t, m.SendFile(ctx, "alice", "Alice", path))

	assert.ErrorIs(t, m.SendMessage(ctx, "", "Alice", "hi"), ErrInvalidAccount)
}
