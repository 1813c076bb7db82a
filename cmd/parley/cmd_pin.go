package main

import (
	"github.com/spf13/cobra"

	"parley/pkg/session"
)

// newPinCmd pins a conversation to the top of the list.
func newPinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pin <session-id>",
		Short: "Pin a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPinned(cmd, args[0], true)
		},
	}
}

// newUnpinCmd removes a conversation's pin.
func newUnpinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpin <session-id>",
		Short: "Unpin a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPinned(cmd, args[0], false)
		},
	}
}

func setPinned(cmd *cobra.Command, id string, pinned bool) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()
	ctx := cmd.Context()

	if err := app.client.UpdateSession(ctx, id, session.SessionUpdate{Pinned: &pinned}); err != nil {
		return err
	}
	app.syncStore(ctx)
	if pinned {
		cmd.Printf("pinned %s\n", id)
	} else {
		cmd.Printf("unpinned %s\n", id)
	}
	return nil
}
