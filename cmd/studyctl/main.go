// Command studyctl is the operator CLI for lesson content and learner progress.
package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-study/internal/platform/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "studyctl",
		Short:        "Manage lesson content and learner progress",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("content", "", "Path to lesson content (overrides LEARN_CONTENT_PATH)")

	root.AddCommand(newValidateCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newTokenCmd())
	return root
}

// loadConfig reads .env and LEARN_* variables, applies the --content flag and
// installs a logger on stderr.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if p, _ := cmd.Flags().GetString("content"); p != "" {
		cfg.ContentPath = p
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.SetDefault(cfg.Log.NewLogger(cmd.ErrOrStderr()))
	return cfg, nil
}
