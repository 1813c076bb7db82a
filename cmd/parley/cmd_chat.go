package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"parley/pkg/attach"
	"parley/pkg/chat"
	"parley/pkg/session"
)

// newChatCmd creates the `chat` command, the interactive conversation view.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat view",
		Long: `Chat opens the full-screen conversation view. New messages stream in as
the assistant produces them; drafts, tool toggles, and renames apply
immediately and reconcile with the backend behind the scenes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
				return fmt.Errorf("chat needs an interactive terminal; try 'parley sessions' instead")
			}

			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			orch := session.New(session.Config{
				Sessions:        app.client,
				History:         app.client,
				Completer:       app.client,
				ToolPersister:   app.client,
				Uploader:        app.client,
				Titles:          app.client,
				Log:             app.store,
				Model:           app.cfg.Model,
				DefaultTools:    app.cfg.Tools,
				HistoryPageSize: app.cfg.HistoryPageSize,
				DraftExpiry:     app.cfg.DraftExpiry(),
			})

			// Seed from the local cache so the sidebar is usable before
			// the first server round-trip finishes.
			if cached, err := app.store.LoadSessions(cmd.Context()); err == nil {
				orch.SeedSessions(cached)
			}

			stopWatcher := startStagingWatcher(cmd, app, orch)
			defer stopWatcher()

			orch.StartDraft(cmd.Context())

			p := tea.NewProgram(newChatModel(orch, DefaultTheme()), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("chat view: %w", err)
			}

			// Persist what we ended up with for the next offline start.
			if err := app.store.ReplaceSessions(cmd.Context(), orch.Sessions()); err != nil {
				cmd.PrintErrln("warning: session cache not saved:", err)
			}
			return nil
		},
	}
}

// startStagingWatcher uploads files dropped into the staging directory while
// the chat view runs. Watcher failures are not fatal; staging is a
// convenience on top of the normal attachment path.
func startStagingWatcher(cmd *cobra.Command, app *appContext, orch *session.Orchestrator) func() {
	dir := app.cfg.StagingDir
	if dir == "" {
		dir = app.paths.StagingDir
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		cmd.PrintErrln("warning: staging disabled:", err)
		return func() {}
	}

	notify := func(att chat.Attachment, err error) {
		if err != nil {
			_ = app.store.AppendEvent(cmd.Context(), "attachment_error", "", err.Error())
			return
		}
		_ = app.store.AppendEvent(cmd.Context(), "attachment_staged", "", att.Name)
	}

	w, err := attach.NewWatcher(dir, orch.AttachmentStore(), orch.CurrentBucket, notify)
	if err != nil {
		cmd.PrintErrln("warning: staging disabled:", err)
		return func() {}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	go w.Run(ctx)
	return cancel
}
