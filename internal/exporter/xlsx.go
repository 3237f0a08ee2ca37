package exporter

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"surveykit/internal/estimator"
	"surveykit/internal/store"
)

const (
	estimatesSheet = "Estimates"
	runSheet       = "Run"
)

// WriteXLSX writes a workbook with the result table on an Estimates sheet and
// the run record on a Run sheet. Numeric cells stay numeric so spreadsheet
// formulas work on the export.
func WriteXLSX(w io.Writer, run store.Run, results []estimator.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", estimatesSheet)
	if _, err := f.NewSheet(runSheet); err != nil {
		return fmt.Errorf("create run sheet: %w", err)
	}

	if err := writeEstimatesSheet(f, results); err != nil {
		return err
	}
	if err := writeRunSheet(f, run); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeEstimatesSheet(f *excelize.File, results []estimator.Result) error {
	table := BuildTable(results)

	// Header row, bold with a frozen pane below it.
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for col, name := range table.Headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(estimatesSheet, cell, name); err != nil {
			return fmt.Errorf("write header %q: %w", name, err)
		}
	}
	if len(table.Headers) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(table.Headers), 1)
		if err := f.SetCellStyle(estimatesSheet, "A1", last, headerStyle); err != nil {
			return fmt.Errorf("style header: %w", err)
		}
	}
	if err := f.SetPanes(estimatesSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	numericCols := numericColumnSet(table.Headers)
	for rowIdx, r := range results {
		rec := table.Records[rowIdx]
		for col, value := range rec {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err != nil {
				return fmt.Errorf("data cell: %w", err)
			}
			var cellValue interface{} = value
			if numericCols[col] && value != "" {
				cellValue = numericCell(table.Headers[col], r)
			}
			if err := f.SetCellValue(estimatesSheet, cell, cellValue); err != nil {
				return fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
	}

	return nil
}

// numericColumnSet marks which header positions carry numbers.
func numericColumnSet(headers []string) map[int]bool {
	numeric := map[string]bool{
		"estimate": true, "se": true, "ci_low": true, "ci_high": true,
		"deff": true, "n": true, "var_among": true, "var_within": true,
	}
	out := make(map[int]bool, len(headers))
	for i, h := range headers {
		out[i] = numeric[h]
	}
	return out
}

// numericCell returns the native value for a numeric column so the sheet
// holds a number, not text.
func numericCell(header string, r estimator.Result) interface{} {
	switch header {
	case "estimate":
		return r.Estimate
	case "se":
		return r.SE
	case "ci_low":
		return r.CILow
	case "ci_high":
		return r.CIHigh
	case "deff":
		return r.Deff
	case "n":
		return r.N
	case "var_among":
		return r.VarAmong
	case "var_within":
		return r.VarWithin
	default:
		return nil
	}
}

func writeRunSheet(f *excelize.File, run store.Run) error {
	rows := [][]interface{}{
		{"id", run.ID},
		{"created_at", run.CreatedAt.Format("2006-01-02 15:04:05")},
		{"dataset", run.Dataset},
		{"statistic", run.Statistic},
		{"requested_method", run.RequestedMethod},
		{"method", run.Method},
		{"rows", run.Rows},
		{"status", run.Status},
	}
	if run.Error != "" {
		rows = append(rows, []interface{}{"error", run.Error})
	}

	for i, row := range rows {
		keyCell, _ := excelize.CoordinatesToCellName(1, i+1)
		valCell, _ := excelize.CoordinatesToCellName(2, i+1)
		if err := f.SetCellValue(runSheet, keyCell, row[0]); err != nil {
			return fmt.Errorf("write run field: %w", err)
		}
		if err := f.SetCellValue(runSheet, valCell, row[1]); err != nil {
			return fmt.Errorf("write run value: %w", err)
		}
	}

	if err := f.SetColWidth(runSheet, "A", "A", 18); err != nil {
		return fmt.Errorf("size run sheet: %w", err)
	}
	if err := f.SetColWidth(runSheet, "B", "B", 40); err != nil {
		return fmt.Errorf("size run sheet: %w", err)
	}
	return nil
}
