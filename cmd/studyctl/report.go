package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-study/internal/curriculum"
	"github.com/p-n-ai/pai-study/internal/platform/database"
	"github.com/p-n-ai/pai-study/internal/progress"
	"github.com/p-n-ai/pai-study/internal/report"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write a learner's attempt history for a lesson as XLSX",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			lessonID, _ := cmd.Flags().GetString("lesson")
			outPath, _ := cmd.Flags().GetString("out")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cfg.HasDatabase() {
				return fmt.Errorf("LEARN_DATABASE_URL is required for reports")
			}

			loader, err := curriculum.NewLoader(cfg.ContentPath)
			if err != nil {
				return err
			}
			lesson, ok := loader.GetLesson(lessonID)
			if !ok {
				return fmt.Errorf("lesson %q not found", lessonID)
			}
			if outPath == "" {
				outPath = report.FileName(lesson)
			}

			ctx := cmd.Context()
			db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
			if err != nil {
				return err
			}
			defer db.Close()

			store, err := progress.NewPostgresStore(db.Pool, cfg.Progress.Table)
			if err != nil {
				return err
			}
			attempts, err := store.History(ctx, userID, lesson.ID, 0)
			if err != nil {
				return err
			}

			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("create report: %w", err)
			}
			defer f.Close()

			if err := report.WriteAttempts(f, lesson, attempts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d attempts)\n", outPath, len(attempts))
			return nil
		},
	}
	cmd.Flags().String("user", "", "User ID")
	cmd.Flags().String("lesson", "", "Lesson ID")
	cmd.Flags().String("out", "", "Output file (default <lesson>_history.xlsx)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("lesson")
	return cmd
}
