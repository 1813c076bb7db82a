package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// newLogCmd shows recent conversation lifecycle events from the local cache.
func newLogCmd() *cobra.Command {
	var (
		kind  string
		limit int
		prune int
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if prune >= 0 {
				dropped, err := app.store.PruneEvents(cmd.Context(), prune)
				if err != nil {
					return err
				}
				cmd.Printf("pruned %d events\n", dropped)
				return nil
			}

			events, err := app.store.RecentEvents(cmd.Context(), kind, limit)
			if err != nil {
				return err
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Time", "Kind", "Session", "Detail"})
			for _, ev := range events {
				tw.AppendRow(table.Row{
					ev.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					ev.Kind,
					ev.SessionID,
					ev.Detail,
				})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "filter by event kind (select, send, resolved, ...)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum events to show")
	cmd.Flags().IntVar(&prune, "prune", -1, "drop all but the newest N events and exit")
	return cmd
}
