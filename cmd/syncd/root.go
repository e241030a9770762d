package main

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the syncd command tree
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "syncd",
		Short: "Conversation sync engine",
		Long:  "Keeps a local conversation list and message views in sync with the IM backend.",
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config/syncd.yaml", "path to config file")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}
