package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wabridge/internal/config"
	"github.com/xkilldash9x/wabridge/internal/observability"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "wabridge",
		Short:         "wabridge drives the messenger web client for several accounts.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// config init must work without a valid configuration.
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			// 1. Read file and environment
			if err := initializeConfig(viper.GetViper()); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			// 2. Unmarshal and validate
			if err := config.Load(viper.GetViper()); err != nil {
				observability.InitializeLogger(config.NewDefaultConfig().Logger)
				return err
			}

			// 3. Initialize the logger
			cfg := config.Get()
			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAccountsCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the root command. ctx is cancelled on SIGINT/SIGTERM by main.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		// Cancellation during shutdown is not a failure.
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// initializeConfig reads the config file and environment into v.
func initializeConfig(v *viper.Viper) error {
	// Defaults first so the app can run with a minimal config.
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("WABRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; a broken one is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
