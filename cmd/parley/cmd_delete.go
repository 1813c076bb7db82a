package main

import (
	"github.com/spf13/cobra"
)

// newDeleteCmd removes a conversation from the backend and the local cache.
func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := cmd.Context()

			if err := app.client.DeleteSession(ctx, args[0]); err != nil {
				return err
			}
			_ = app.store.DeleteSession(ctx, args[0])
			cmd.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}
