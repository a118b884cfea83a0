package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/wabridge/internal/config"
	"github.com/xkilldash9x/wabridge/internal/messenger"
	"github.com/xkilldash9x/wabridge/internal/observability"
	"github.com/xkilldash9x/wabridge/internal/selectors"
)

func newAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the accounts that have a browser profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			sel, err := selectors.New(cfg.Messenger.SelectorVersion, cfg.Messenger.SelectorOverrides)
			if err != nil {
				return err
			}
			// Listing never launches a browser, so no launcher is needed.
			m := messenger.NewManager(observability.GetLogger(), messenger.OptionsFromConfig(cfg), nil, sel)
			accounts, err := m.Accounts()
			if err != nil {
				return err
			}
			for _, a := range accounts {
				fmt.Fprintln(cmd.OutOrStdout(), a)
			}
			return nil
		},
	}
}
