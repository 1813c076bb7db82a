package main

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"parley/pkg/chat"
)

// newSessionsCmd lists conversations. The backend is authoritative; when it
// is unreachable the command falls back to the local cache.
func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := cmd.Context()

			list, err := app.client.ListSessions(ctx)
			switch {
			case err == nil:
				_ = app.store.ReplaceSessions(ctx, list)
			case chat.IsTransport(err):
				cached, loadErr := app.store.LoadSessions(ctx)
				if loadErr != nil {
					return err
				}
				cmd.PrintErrln("backend unreachable, showing cached conversations")
				list = cached
			default:
				return err
			}

			renderSessionsTable(cmd.OutOrStdout(), list)
			return nil
		},
	}
}

func renderSessionsTable(w io.Writer, sessions []chat.Session) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Title", "Pinned", "Messages", "Last activity"})
	for _, s := range sessions {
		pinned := ""
		if s.Pinned {
			pinned = "yes"
		}
		last := ""
		if !s.LastMessageAt.IsZero() {
			last = s.LastMessageAt.Local().Format("2006-01-02 15:04")
		}
		tw.AppendRow(table.Row{s.ID, s.Title, pinned, s.MessageCount, last})
	}
	tw.Render()
}
