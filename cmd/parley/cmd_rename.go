package main

import (
	"github.com/spf13/cobra"

	"parley/pkg/session"
)

// newRenameCmd retitles a conversation.
func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <session-id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := cmd.Context()

			title := args[1]
			if err := app.client.UpdateSession(ctx, args[0], session.SessionUpdate{Title: &title}); err != nil {
				return err
			}
			app.syncStore(ctx)
			cmd.Printf("renamed %s to %q\n", args[0], title)
			return nil
		},
	}
}
