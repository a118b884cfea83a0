package messenger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/wabridge/api/schemas"
	"github.com/xkilldash9x/wabridge/internal/browser"
	"github.com/xkilldash9x/wabridge/internal/observability"
	"github.com/xkilldash9x/wabridge/internal/selectors"
)

// Manager is the registry of sessions, at most one per account. Its lock only
// guards the registry itself; session operations run under each session's
// own lock, so accounts never block each other.
type Manager struct {
	logger   *zap.Logger
	opts     Options
	launcher browser.Launcher
	sel      *selectors.Registry

	mu       sync.Mutex
	sessions map[string]*Session
	// closing holds accounts whose removed session still has a browser
	// shutting down. The channel is closed once it is gone.
	closing map[string]chan struct{}
}

// NewManager creates an empty registry.
func NewManager(logger *zap.Logger, opts Options, launcher browser.Launcher, sel *selectors.Registry) *Manager {
	return &Manager{
		logger:   observability.Component(logger, "session_manager"),
		opts:     opts,
		launcher: launcher,
		sel:      sel,
		sessions: make(map[string]*Session),
		closing:  make(map[string]chan struct{}),
	}
}

// Get returns the account's session, creating it on first use. While the
// account's previous session is still closing its browser, Get waits, so a
// profile directory never has two browsers.
func (m *Manager) Get(account string) (*Session, error) {
	return m.get(context.Background(), account)
}

func (m *Manager) get(ctx context.Context, account string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if s, ok := m.sessions[account]; ok {
			return s, nil
		}
		done, ok := m.closing[account]
		if !ok {
			break
		}
		m.mu.Unlock()
		select {
		case <-done:
			m.mu.Lock()
		case <-ctx.Done():
			m.mu.Lock()
			return nil, ctx.Err()
		}
	}

	s, err := NewSession(account, m.opts, m.launcher, m.sel, m.logger)
	if err != nil {
		return nil, err
	}
	m.sessions[account] = s
	m.logger.Debug("Session registered", observability.Account(account))
	return s, nil
}

// detachLocked removes s from the registry and marks its account as closing.
// The returned func ends the closing state. m.mu must be held.
func (m *Manager) detachLocked(account string) func() {
	delete(m.sessions, account)
	done := make(chan struct{})
	m.closing[account] = done
	return func() {
		m.mu.Lock()
		if m.closing[account] == done {
			delete(m.closing, account)
		}
		m.mu.Unlock()
		close(done)
	}
}

// Close shuts the account's browser and removes its session. An account
// whose browser was never started is removed without error; an account with
// no session fails with ErrNotFound. Callers still holding the removed
// session get ErrSessionClosed from it.
func (m *Manager) Close(ctx context.Context, account string) error {
	m.mu.Lock()
	s, ok := m.sessions[account]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, account)
	}
	done := m.detachLocked(account)
	m.mu.Unlock()

	err := s.retire(ctx, done)
	m.logger.Info("Session closed", observability.Account(account), zap.Error(err))
	return err
}

// Accounts lists the accounts that have a profile directory.
func (m *Manager) Accounts() ([]string, error) {
	entries, err := os.ReadDir(m.opts.AccountsDir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	accounts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && ValidateAccount(e.Name()) == nil {
			accounts = append(accounts, e.Name())
		}
	}
	sort.Strings(accounts)
	return accounts, nil
}

// Shutdown closes every live browser concurrently, each bounded by the
// shutdown timeout, and empties the registry.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down sessions...")

	type retiring struct {
		s    *Session
		done func()
	}
	m.mu.Lock()
	sessions := make([]retiring, 0, len(m.sessions))
	for account, s := range m.sessions {
		sessions = append(sessions, retiring{s: s, done: m.detachLocked(account)})
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, r := range sessions {
		r := r
		g.Go(func() error {
			closeCtx, cancel := context.WithTimeout(ctx, m.opts.Timeouts.Shutdown)
			defer cancel()
			if err := r.s.retire(closeCtx, r.done); err != nil {
				m.logger.Warn("Error closing session during shutdown", observability.Account(r.s.Account()), zap.Error(err))
				return fmt.Errorf("account %q: %w", r.s.Account(), err)
			}
			return nil
		})
	}
	err := g.Wait()

	m.logger.Info("Session shutdown complete.", zap.Int("sessions", len(sessions)))
	return err
}

// withSession runs fn on the account's session. A session closed between
// lookup and use is looked up once more.
func (m *Manager) withSession(ctx context.Context, account string, fn func(*Session) error) error {
	for attempt := 0; ; attempt++ {
		s, err := m.get(ctx, account)
		if err != nil {
			return err
		}
		err = fn(s)
		if attempt == 0 && errors.Is(err, ErrSessionClosed) {
			m.logger.Debug("Session closed underneath the call, retrying", observability.Account(account))
			continue
		}
		return err
	}
}

// Login runs Session.Login for account.
func (m *Manager) Login(ctx context.Context, account string) (schemas.LoginResult, error) {
	var result schemas.LoginResult
	err := m.withSession(ctx, account, func(s *Session) error {
		var err error
		result, err = s.Login(ctx)
		return err
	})
	return result, err
}

// SendMessage runs Session.SendMessage for account.
func (m *Manager) SendMessage(ctx context.Context, account, target, text string) error {
	return m.withSession(ctx, account, func(s *Session) error {
		return s.SendMessage(ctx, target, text)
	})
}

// SendFile runs Session.SendFile for account.
func (m *Manager) SendFile(ctx context.Context, account, target, path string) error {
	return m.withSession(ctx, account, func(s *Session) error {
		return s.SendFile(ctx, target, path)
	})
}

// UnreadMessages runs Session.UnreadMessages for account.
func (m *Manager) UnreadMessages(ctx context.Context, account string) (schemas.MessageBatch, error) {
	var batch schemas.MessageBatch
	err := m.withSession(ctx, account, func(s *Session) error {
		var err error
		batch, err = s.UnreadMessages(ctx)
		return err
	})
	return batch, err
}

// Chats runs Session.Chats for account.
func (m *Manager) Chats(ctx context.Context, account string) ([]schemas.Chat, error) {
	var chats []schemas.Chat
	err := m.withSession(ctx, account, func(s *Session) error {
		var err error
		chats, err = s.Chats(ctx)
		return err
	})
	return chats, err
}
