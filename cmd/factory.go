package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wabridge/internal/api"
	"github.com/xkilldash9x/wabridge/internal/browser"
	"github.com/xkilldash9x/wabridge/internal/config"
	"github.com/xkilldash9x/wabridge/internal/messenger"
	"github.com/xkilldash9x/wabridge/internal/selectors"
)

// Components holds the long-lived services of the serve command.
type Components struct {
	Manager *messenger.Manager
	Server  *api.Server

	logger *zap.Logger
}

// Shutdown closes every browser the manager started.
func (c *Components) Shutdown(ctx context.Context) {
	c.logger.Debug("Beginning components shutdown sequence.")
	// The serve context is already cancelled at this point.
	if err := c.Manager.Shutdown(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("Some browsers did not close cleanly", zap.Error(err))
	}
	c.logger.Info("All components shut down.")
}

// ComponentFactory builds Components from configuration.
type ComponentFactory interface {
	Create(cfg *config.Config, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct {
	launcherFor func(*zap.Logger, config.BrowserConfig) browser.Launcher
}

// NewComponentFactory returns the factory that wires real Chrome browsers.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{
		launcherFor: func(logger *zap.Logger, cfg config.BrowserConfig) browser.Launcher {
			return browser.NewChromeLauncher(logger, cfg)
		},
	}
}

func (f *concreteFactory) Create(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	sel, err := selectors.New(cfg.Messenger.SelectorVersion, cfg.Messenger.SelectorOverrides)
	if err != nil {
		return nil, fmt.Errorf("failed to load selectors: %w", err)
	}
	logger.Info("Selector snapshot loaded",
		zap.String("version", sel.Version()),
		zap.Int("overrides", len(cfg.Messenger.SelectorOverrides)),
	)

	manager := messenger.NewManager(logger, messenger.OptionsFromConfig(cfg), f.launcherFor(logger, cfg.Browser), sel)
	return &Components{
		Manager: manager,
		Server:  api.NewServer(manager, logger),
		logger:  logger,
	}, nil
}
