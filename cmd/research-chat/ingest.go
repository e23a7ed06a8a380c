package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mikeboe/research-chat/pkg/app"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <url>...",
		Short: "Index web pages or PDFs into the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for ingest")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			kb, err := app.OpenKnowledge(ctx, cfg)
			if err != nil {
				return err
			}
			defer kb.Close()

			return ingestAll(ctx, kb, args, cmd.OutOrStdout())
		},
	}
}

func ingestAll(ctx context.Context, kb *app.KnowledgeBase, sources []string, out io.Writer) error {
	failed := 0
	for _, source := range sources {
		n, err := kb.Pipeline.Run(ctx, source)
		if err != nil {
			failed++
			fmt.Fprintln(out, errorStyle.Render("✗ "+source+": "+err.Error()))
			continue
		}
		fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("✓ %s (%d chunks)", source, n)))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sources failed", failed, len(sources))
	}
	return nil
}
