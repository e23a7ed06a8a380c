package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mikeboe/research-chat/pkg/config"
)

var configPath string

func main() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})
	slog.SetDefault(slog.New(handler))

	rootCmd := &cobra.Command{
		Use:   "research-chat",
		Short: "A retrieval-augmented research assistant for the terminal",
		Long: `research-chat answers questions with fresh web search results, attached
documents and tables, streaming the answer as it is generated.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	rootCmd.PersistentFlags().Bool("verbose", false, "log at info level")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("verbose"); v {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
		}
	}

	rootCmd.AddCommand(newChatCmd(), newIngestCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.LoadFile(configPath)
}
