// Package messenger drives the web messaging client for one or more accounts.
//
// A Session owns at most one browser handle bound to its account's profile
// directory. Every Session operation is serialized by the session's own lock;
// sessions of different accounts never wait on each other.
package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wabridge/internal/browser"
	"github.com/xkilldash9x/wabridge/internal/config"
	"github.com/xkilldash9x/wabridge/internal/download"
	"github.com/xkilldash9x/wabridge/internal/observability"
	"github.com/xkilldash9x/wabridge/internal/poll"
	"github.com/xkilldash9x/wabridge/internal/selectors"
)

const (
	downloadsDirName = "downloads"
	cookiesFileName  = "cookies.json"
)

// Options holds what every session needs from the configuration.
type Options struct {
	AccountsDir string
	URL         string
	Timeouts    config.TimeoutsConfig
	UI          config.UIConfig
}

// OptionsFromConfig extracts session options from the root configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AccountsDir: cfg.AccountsDir,
		URL:         cfg.Messenger.URL,
		Timeouts:    cfg.Timeouts,
		UI:          cfg.UI,
	}
}

// Session is the browser-driven messenger client of one account.
type Session struct {
	account    string
	profileDir string
	opts       Options
	origin     *url.URL

	launcher  browser.Launcher
	sel       *selectors.Registry
	downloads *download.Reconciler
	logger    *zap.Logger
	now       func() time.Time

	// opLock is a one-slot semaphore; see acquireOpLock.
	opLock chan struct{}
	// handle is guarded by opLock.
	handle browser.Handle
	// retired is set once the manager has dropped the session for good.
	retired atomic.Bool
}

// ValidateAccount rejects ids that cannot be used as a single directory name.
func ValidateAccount(account string) error {
	switch {
	case account == "", account == ".", account == "..":
		return fmt.Errorf("%w: %q", ErrInvalidAccount, account)
	case strings.ContainsAny(account, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidAccount, account)
	}
	return nil
}

// NewSession creates the session and ensures its profile and download
// directories exist. No browser is started.
func NewSession(account string, opts Options, launcher browser.Launcher, sel *selectors.Registry, logger *zap.Logger) (*Session, error) {
	if err := ValidateAccount(account); err != nil {
		return nil, err
	}
	origin, err := url.Parse(opts.URL)
	if err != nil || origin.Host == "" {
		return nil, fmt.Errorf("messenger url %q is not absolute", opts.URL)
	}
	logger = observability.ForAccount(logger, "session", account)

	profileDir, err := filepath.Abs(filepath.Join(opts.AccountsDir, account))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve profile directory: %w", err)
	}
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	downloads, err := download.New(filepath.Join(profileDir, downloadsDirName), opts.Timeouts.DownloadPoll, logger)
	if err != nil {
		return nil, err
	}

	return &Session{
		account:    account,
		profileDir: profileDir,
		opts:       opts,
		origin:     origin,
		launcher:   launcher,
		sel:        sel,
		downloads:  downloads,
		logger:     logger,
		now:        time.Now,
		opLock:     make(chan struct{}, 1),
	}, nil
}

// Account returns the account id.
func (s *Session) Account() string { return s.account }

// ProfileDir returns the absolute browser profile directory.
func (s *Session) ProfileDir() string { return s.profileDir }

// DownloadDir returns the absolute download directory.
func (s *Session) DownloadDir() string { return s.downloads.Dir() }

// Handle returns the live browser handle. With create set, a missing or
// unresponsive handle is replaced by a fresh browser opened on the messenger.
// A responsive handle that has wandered off the messenger is never
// navigated back; that is ErrWrongContext.
func (s *Session) Handle(ctx context.Context, create bool) (browser.Handle, error) {
	ctx, unlock, err := s.acquireOpLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.handleLocked(ctx, create, true)
}

// handleLocked implements Handle. checkOrigin is off only for login, which
// navigates explicitly.
func (s *Session) handleLocked(ctx context.Context, create, checkOrigin bool) (browser.Handle, error) {
	if s.retired.Load() {
		return nil, ErrSessionClosed
	}
	if s.handle != nil {
		liveCtx, cancel := context.WithTimeout(ctx, s.opts.Timeouts.Liveness)
		current, err := s.handle.URL(liveCtx)
		cancel()

		switch {
		case err != nil && !create:
			return nil, fmt.Errorf("%w: %v", ErrHandleUnavailable, err)
		case err != nil:
			s.logger.Warn("Browser did not answer the liveness check, replacing it", zap.Error(err))
			stale := s.handle
			s.handle = nil
			s.bestEffort(ctx, "close stale browser", s.opts.Timeouts.Liveness, stale.Close)
		case checkOrigin && !s.onMessenger(current):
			return nil, fmt.Errorf("%w: at %s", ErrWrongContext, current)
		default:
			return s.handle, nil
		}
	}

	if !create {
		return nil, ErrHandleNotStarted
	}

	s.logger.Info("Starting browser", zap.String("profile", s.profileDir))
	h, err := s.launcher.Launch(ctx, browser.Profile{
		Account:     s.account,
		UserDataDir: s.profileDir,
		DownloadDir: s.downloads.Dir(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start browser for account %q: %w", s.account, err)
	}
	if err := s.bounded(h).Navigate(ctx, s.opts.URL); err != nil {
		s.bestEffort(ctx, "close browser after failed navigation", s.opts.Timeouts.Liveness, h.Close)
		return nil, fmt.Errorf("failed to open %s: %w", s.opts.URL, err)
	}
	s.handle = h
	return h, nil
}

func (s *Session) onMessenger(current string) bool {
	u, err := url.Parse(current)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, s.origin.Scheme) && strings.EqualFold(u.Host, s.origin.Host)
}

// Close terminates the browser. The handle reference is dropped even when the
// browser fails to shut down cleanly.
func (s *Session) Close(ctx context.Context) error {
	ctx, unlock, err := s.acquireOpLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return s.closeLocked(ctx)
}

func (s *Session) closeLocked(ctx context.Context) error {
	if s.handle == nil {
		return ErrHandleNotStarted
	}
	h := s.handle
	s.handle = nil

	if err := h.Close(ctx); err != nil && !errors.Is(err, browser.ErrClosed) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	s.logger.Info("Browser closed")
	return nil
}

// retire closes the browser for good; every later operation on s fails with
// ErrSessionClosed instead of launching a new browser. If ctx ends while
// another operation still holds the lock, the browser is closed as soon as
// that operation returns. done runs once the browser is gone either way.
func (s *Session) retire(ctx context.Context, done func()) error {
	s.retired.Store(true)

	lockedCtx, unlock, err := s.acquireOpLock(ctx)
	if err != nil {
		s.logger.Warn("Session is busy, closing its browser when the running operation returns", zap.Error(err))
		go func() {
			defer done()
			lockedCtx, unlock, _ := s.acquireOpLock(context.Background())
			defer unlock()
			s.bestEffort(lockedCtx, "close retired browser", s.opts.Timeouts.Shutdown, func(ctx context.Context) error {
				if err := s.closeLocked(ctx); !errors.Is(err, ErrHandleNotStarted) {
					return err
				}
				return nil
			})
		}()
		return err
	}
	defer done()
	defer unlock()

	err = s.closeLocked(lockedCtx)
	if errors.Is(err, ErrHandleNotStarted) {
		return nil
	}
	return err
}

// bestEffort runs a cleanup step whose failure must not change the outcome of
// the operation around it. Failures are logged and dropped. The step gets its
// own timeout and survives cancellation of ctx.
func (s *Session) bestEffort(ctx context.Context, step string, timeout time.Duration, fn func(context.Context) error) {
	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := fn(stepCtx); err != nil {
		s.logger.Warn("Cleanup step failed", zap.String("step", step), zap.Error(err))
	}
}

// first returns the first element matching name under root, without waiting.
func (s *Session) first(ctx context.Context, root browser.Finder, name selectors.Name) (browser.Element, bool) {
	els, err := root.FindAll(ctx, s.sel.XPath(name))
	if err != nil {
		s.logger.Debug("Lookup failed", zap.String("element", string(name)), zap.Error(err))
		return nil, false
	}
	if len(els) == 0 {
		return nil, false
	}
	return els[0], true
}

// waitFor polls for name under root until it appears (and, with visible set,
// is rendered) or wait elapses.
func (s *Session) waitFor(ctx context.Context, root browser.Finder, name selectors.Name, wait time.Duration, visible bool) (browser.Element, error) {
	xpath := s.sel.XPath(name)
	var found browser.Element
	err := poll.Until(ctx, poll.Policy{Interval: s.opts.Timeouts.PollInterval, MaxWait: wait}, func(ctx context.Context) (bool, error) {
		els, err := root.FindAll(ctx, xpath)
		if err != nil {
			if errors.Is(err, browser.ErrClosed) {
				return false, err
			}
			s.logger.Debug("Lookup failed", zap.String("element", string(name)), zap.Error(err))
			return false, nil
		}
		for _, el := range els {
			if !visible {
				found = el
				return true, nil
			}
			if ok, err := el.Visible(ctx); err == nil && ok {
				found = el
				return true, nil
			}
		}
		return false, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return nil, &ElementTimeoutError{Name: name, Wait: wait}
	}
	if err != nil {
		return nil, err
	}
	return found, nil
}

// click waits for a visible name under root, clicks it and lets the UI settle.
func (s *Session) click(ctx context.Context, root browser.Finder, name selectors.Name, wait time.Duration) error {
	el, err := s.waitFor(ctx, root, name, wait, true)
	if err != nil {
		return err
	}
	if err := el.Click(ctx); err != nil {
		return fmt.Errorf("failed to click %s: %w", name, err)
	}
	return s.settle(ctx)
}

// settle pauses for a jittered moment so the UI can react.
func (s *Session) settle(ctx context.Context) error {
	return hesitate(ctx, jitter(s.opts.UI.SettleMin, s.opts.UI.SettleMax))
}

// typeText inserts text into the focused element, one rune at a time when a
// key delay is configured.
func (s *Session) typeText(ctx context.Context, h browser.Handle, text string) error {
	if s.opts.UI.KeyDelayMean <= 0 {
		return h.InsertText(ctx, text)
	}
	runes := []rune(text)
	delays := keyDelays(len(runes), s.opts.UI.KeyDelayMean)
	for i, r := range runes {
		if err := h.InsertText(ctx, string(r)); err != nil {
			return err
		}
		if i < len(delays) {
			if err := hesitate(ctx, delays[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// saveCookies writes the cookie snapshot next to the profile. Nothing reads it
// back; it is kept for debugging.
func (s *Session) saveCookies(ctx context.Context, h browser.Handle) error {
	cookies, err := h.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}
	return os.WriteFile(filepath.Join(s.profileDir, cookiesFileName), data, 0o600)
}
