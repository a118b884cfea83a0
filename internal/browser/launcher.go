package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wabridge/internal/browser/humanoid"
	"github.com/xkilldash9x/wabridge/internal/browser/stealth"
	"github.com/xkilldash9x/wabridge/internal/config"
	"github.com/xkilldash9x/wabridge/internal/observability"
)

// ChromeLauncher starts one Chrome process per profile.
type ChromeLauncher struct {
	logger *zap.Logger
	cfg    config.BrowserConfig
}

var _ Launcher = (*ChromeLauncher)(nil)

// NewChromeLauncher creates a launcher for the given browser settings.
func NewChromeLauncher(logger *zap.Logger, cfg config.BrowserConfig) *ChromeLauncher {
	return &ChromeLauncher{
		logger: observability.Component(logger, "browser_launcher"),
		cfg:    cfg,
	}
}

// Launch starts Chrome bound to the profile directory, routes downloads into
// the profile's download directory and applies the stealth evasions.
//
// The browser outlives ctx; ctx only bounds the startup.
func (l *ChromeLauncher) Launch(ctx context.Context, profile Profile) (Handle, error) {
	logger := l.logger.With(observability.Account(profile.Account))

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions(profile)...)

	cdpLog := NewZapAdapter(logger)
	ctxOpts := []chromedp.ContextOption{
		chromedp.WithLogf(cdpLog.Logf),
		chromedp.WithErrorf(cdpLog.Errorf),
	}
	if l.cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(cdpLog.Debugf))
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, ctxOpts...)
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	persona := stealth.Persona{Languages: l.cfg.Languages}

	// The first Run starts the browser and binds it to tabCtx, so it must not
	// run under a shorter-lived context.
	started := make(chan error, 1)
	go func() {
		if err := chromedp.Run(tabCtx,
			cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
				WithDownloadPath(profile.DownloadDir),
		); err != nil {
			started <- err
			return
		}
		if err := chromedp.Run(tabCtx, stealth.Apply(persona, logger)); err != nil {
			logger.Warn("Failed to apply stealth evasions", zap.Error(err))
		}
		started <- nil
	}()

	timeout := l.cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-started:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-timer.C:
		cancel()
		return nil, fmt.Errorf("browser did not start within %s", timeout)
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	logger.Info("Browser started",
		zap.String("profile", profile.UserDataDir),
		zap.Bool("headless", l.cfg.Headless),
	)
	return l.newHandle(tabCtx, cancel, logger), nil
}

func (l *ChromeLauncher) newHandle(tabCtx context.Context, cancel context.CancelFunc, logger *zap.Logger) *chromeHandle {
	h := &chromeHandle{tabCtx: tabCtx, cancel: cancel, logger: logger}
	if l.cfg.HumanizeMouse {
		h.pointer = humanoid.NewPointer(humanoid.DefaultConfig(), time.Now().UnixNano())
	}
	return h
}

// allocatorOptions configures the browser executable.
func (l *ChromeLauncher) allocatorOptions(profile Profile) []chromedp.ExecAllocatorOption {
	// Start with default options provided by ChromeDP.
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.UserDataDir(profile.UserDataDir),
		chromedp.WindowSize(l.cfg.WindowWidth, l.cfg.WindowHeight),
	)
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	for name, value := range launchFlags(l.cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// launchFlags returns the command line flags layered over chromedp's defaults.
// Later entries of cfg.Args override the built-in ones.
func launchFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		// The defaults run headless; override explicitly either way.
		"headless": cfg.Headless,

		// Essential flags for automation detection evasion
		"enable-automation":      false,
		"disable-blink-features": "AutomationControlled",

		// Performance and stability flags
		"disable-sync":             true,
		"metrics-recording-only":   true,
		"disable-default-apps":     true,
		"no-first-run":             true,
		"disable-hang-monitor":     true,
		"disable-prompt-on-repost": true,

		// GPU often causes issues in headless/containerized environments.
		"disable-gpu": cfg.Headless,
	}
	if cfg.NoSandbox {
		flags["no-sandbox"] = true
	}
	if len(cfg.Languages) > 0 {
		flags["lang"] = cfg.Languages[0]
	}

	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags[name] = value
		} else {
			flags[name] = true
		}
	}
	return flags
}
