package main

import (
	"github.com/spf13/cobra"

	"sales-assistant/internal/common/config"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sales-assistant",
		Short:         "Conversational sales reporting over a template catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default: configs/config.yaml merged with config.<APP_ENVIRONMENT>.yaml)")

	root.AddCommand(newServeCmd(), newChatCmd(), newCatalogCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}
