package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"parley/pkg/chat"
	"parley/pkg/export"
	"parley/pkg/remote"
)

// newExportCmd writes a conversation transcript to a file or stdout.
func newExportCmd() *cobra.Command {
	var (
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a conversation transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, err := export.New(format)
			if err != nil {
				return err
			}

			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := cmd.Context()
			id := args[0]

			sess, err := findSession(ctx, app.client, id)
			if err != nil {
				return err
			}
			messages, err := fetchTranscript(ctx, app.client, id, app.cfg.HistoryPageSize)
			if err != nil {
				return err
			}
			transcript := export.Transcript{Session: sess, Messages: messages}

			if out == "-" {
				return exporter.Export(transcript, cmd.OutOrStdout())
			}
			path := out
			if path == "" {
				path = fmt.Sprintf("%s.%s", id, exporter.Extension())
			}
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create %s: %w", path, err)
			}
			if err := exporter.Export(transcript, f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %s: %w", path, err)
			}
			cmd.Printf("exported %s to %s\n", id, path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "output format: json, yaml, md")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default <session-id>.<ext>, - for stdout)")
	return cmd
}

// findSession resolves one conversation's metadata from the listing.
func findSession(ctx context.Context, client *remote.Client, id string) (chat.Session, error) {
	list, err := client.ListSessions(ctx)
	if err != nil {
		return chat.Session{}, err
	}
	for _, s := range list {
		if s.ID == id {
			return s, nil
		}
	}
	return chat.Session{}, &chat.NotFoundError{SessionID: id}
}

// fetchTranscript pages through the full history, oldest first.
func fetchTranscript(ctx context.Context, client *remote.Client, id string, pageSize int) ([]chat.Message, error) {
	if pageSize <= 0 {
		pageSize = 200
	}
	var messages []chat.Message
	for {
		page, total, err := client.Fetch(ctx, id, pageSize, len(messages))
		if err != nil {
			return nil, err
		}
		messages = append(messages, page...)
		if len(messages) >= total || len(page) == 0 {
			return messages, nil
		}
	}
}
