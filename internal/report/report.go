// Package report exports progress records as spreadsheets.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-progress/internal/gamification"
	"github.com/p-n-ai/pai-progress/internal/progress"
)

// SheetName is the worksheet holding one row per user.
const SheetName = "Progress"

var header = []any{
	"User", "Total XP", "Level", "XP To Next Level",
	"Courses Completed", "Articles Read", "Comments Posted",
	"Current Streak", "Longest Streak", "Last Activity", "Badges", "Updated At",
}

// WriteProgressWorkbook writes rows as an XLSX workbook to w.
func WriteProgressWorkbook(w io.Writer, rows []progress.Progress) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, p := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := rowValues(p)
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("write row for %s: %w", p.UserID, err)
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func rowValues(p progress.Progress) []any {
	_, _, next := gamification.LevelProgress(p.TotalXP)
	toNext := next - p.TotalXP
	if toNext < 0 {
		toNext = 0
	}

	lastActivity := ""
	if p.Stats.LastActivityDate != nil {
		lastActivity = p.Stats.LastActivityDate.UTC().Format("2006-01-02")
	}
	updated := ""
	if !p.UpdatedAt.IsZero() {
		updated = p.UpdatedAt.UTC().Format("2006-01-02 15:04:05")
	}

	return []any{
		p.UserID, p.TotalXP, p.CurrentLevel, toNext,
		p.Stats.CoursesCompleted, p.Stats.ArticlesRead, p.Stats.CommentsPosted,
		p.Stats.CurrentStreak, p.Stats.LongestStreak, lastActivity,
		strings.Join(p.Badges, ", "), updated,
	}
}
