// Package report exports question test runs as xlsx workbooks.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-elements/internal/question"
)

// Sheet names.
const (
	SummarySheet = "Summary"
	CasesSheet   = "Cases"
)

var (
	summaryHeader = []any{"Question", "Run ID", "Started", "Cases", "Failures", "Result"}
	casesHeader   = []any{"Question", "Run ID", "Seed", "Type", "Expected score", "Actual score",
		"Expected format errors", "Actual format errors", "Gradable", "Result", "Message"}
)

// WriteWorkbook writes one summary row per report and one case row per
// test case to w.
func WriteWorkbook(w io.Writer, reports ...question.TestReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("naming summary sheet: %w", err)
	}
	if _, err := f.NewSheet(CasesSheet); err != nil {
		return fmt.Errorf("adding cases sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	summary := [][]any{summaryHeader}
	cases := [][]any{casesHeader}
	for _, r := range reports {
		summary = append(summary, []any{
			r.Question, r.RunID, r.Started.Format(time.RFC3339), len(r.Cases), r.Failures(), result(r.Passed()),
		})
		for _, c := range r.Cases {
			cases = append(cases, []any{
				r.Question, r.RunID, c.Seed, string(c.Type), c.ExpectedScore, c.ActualScore,
				strings.Join(c.ExpectedErrors, ", "), strings.Join(c.ActualErrors, ", "),
				yesNo(c.Gradable), result(c.Passed), c.Message,
			})
		}
	}

	if err := writeRows(f, SummarySheet, summary, bold); err != nil {
		return err
	}
	if err := writeRows(f, CasesSheet, cases, bold); err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("styling %s header: %w", sheet, err)
	}
	return nil
}

func result(passed bool) string {
	if passed {
		return "pass"
	}
	return "fail"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
