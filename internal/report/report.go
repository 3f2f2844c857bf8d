// Package report renders a learner's attempt history as an XLSX workbook.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-study/internal/curriculum"
	"github.com/p-n-ai/pai-study/internal/progress"
	"github.com/p-n-ai/pai-study/internal/quiz"
)

// SheetName is the worksheet holding the attempt rows.
const SheetName = "History"

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var header = []any{"Timestamp", "User", "Lesson", "Score", "Completed", "Materials downloaded"}

// FileName returns the download name for a lesson's history report.
func FileName(l curriculum.Lesson) string {
	return fmt.Sprintf("%s_history.xlsx", l.ID)
}

// WriteAttempts writes one row per attempt, in the given order, to w.
// Scores are formatted in the lesson's score mode.
func WriteAttempts(w io.Writer, l curriculum.Lesson, attempts []progress.Attempt) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, a := range attempts {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			a.Timestamp.UTC().Format(time.RFC3339),
			a.UserID,
			a.LessonID,
			quiz.FormatScore(a.Score, l),
			yesNo(a.Completed),
			yesNo(a.MaterialDownloaded),
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(SheetName, "A", "A", 24); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
