package main

import (
	"fmt"

	"parley/internal/version"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root parley command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "parley",
		Short:         "Parley conversation client",
		Long:          "parley is a terminal client for the Parley chat service.\nIt manages conversation sessions, streams replies, and keeps a local cache.",
		Version:       fmt.Sprintf("parley %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.PersistentFlags().String("config", "", "config file (default $PARLEY_HOME/config.toml)")
	cmd.PersistentFlags().String("backend", "", "backend base URL (overrides config)")

	cmd.AddCommand(
		newChatCmd(),
		newSessionsCmd(),
		newRenameCmd(),
		newPinCmd(),
		newUnpinCmd(),
		newDeleteCmd(),
		newExportCmd(),
		newLogCmd(),
		newDevserverCmd(),
		newVersionCmd(),
	)

	return cmd
}

// newVersionCmd prints the build version.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the parley version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "parley %s\n", version.String())
			return nil
		},
	}
}
