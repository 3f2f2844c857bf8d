package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-study/internal/curriculum"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check every lesson's content and quiz",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			loader, err := curriculum.NewLoader(cfg.ContentPath)
			if err != nil {
				return err
			}

			problems := loader.Problems()
			out := cmd.OutOrStdout()
			for _, l := range loader.AllLessons() {
				if _, bad := problems[l.ID]; !bad {
					fmt.Fprintf(out, "ok    %s\n", l.ID)
				}
			}

			ids := make([]string, 0, len(problems))
			for id := range problems {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Fprintf(out, "FAIL  %s: %v\n", id, problems[id])
			}

			if len(problems) > 0 {
				return fmt.Errorf("%d of %d lessons have problems", len(problems), len(loader.AllLessons()))
			}
			return nil
		},
	}
}
