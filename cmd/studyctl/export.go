package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-study/internal/curriculum"
	"github.com/p-n-ai/pai-study/internal/export"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write study materials as text files",
		RunE: func(cmd *cobra.Command, args []string) error {
			lessonID, _ := cmd.Flags().GetString("lesson")
			all, _ := cmd.Flags().GetBool("all")
			outDir, _ := cmd.Flags().GetString("out")
			if (lessonID == "") == !all {
				return fmt.Errorf("pass exactly one of --lesson or --all")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			loader, err := curriculum.NewLoader(cfg.ContentPath)
			if err != nil {
				return err
			}

			lessons := loader.AllLessons()
			if !all {
				l, ok := loader.GetLesson(lessonID)
				if !ok {
					return fmt.Errorf("lesson %q not found", lessonID)
				}
				lessons = []curriculum.Lesson{l}
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			for _, l := range lessons {
				file := export.Materials(l)
				path := filepath.Join(outDir, file.Name)
				if err := os.WriteFile(path, file.Body, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().String("lesson", "", "Lesson ID to export")
	cmd.Flags().Bool("all", false, "Export every lesson")
	cmd.Flags().String("out", ".", "Output directory")
	return cmd
}
