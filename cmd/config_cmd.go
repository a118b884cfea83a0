package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/wabridge/internal/config"
)

// skipConfigAnnotation marks commands that run before any configuration exists.
const skipConfigAnnotation = "wabridge/skip-config"

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	configCmd.AddCommand(newConfigInitCmd())
	return configCmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		output string
		force  bool
	)
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the default configuration as YAML",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "-" {
				return config.WriteDefaults(cmd.OutOrStdout())
			}
			return writeDefaultConfig(output, force, cmd.OutOrStdout())
		},
	}
	initCmd.Flags().StringVarP(&output, "output", "o", "config.yaml", `destination file, or "-" for stdout`)
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return initCmd
}

func writeDefaultConfig(path string, force bool, out io.Writer) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s already exists, use --force to overwrite it", path)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := config.WriteDefaults(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintln(out, "Wrote default configuration to", path)
	return nil
}
