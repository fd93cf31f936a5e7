package export

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/azmove/azmove/pkg/simulator"
)

const (
	resultsSheet = "Results"
	summarySheet = "Summary"
)

// WriteXLSX renders the report as a workbook with a results sheet and a
// per-policy summary sheet.
func WriteXLSX(path string, report *simulator.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return fmt.Errorf("failed to name results sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeResults(f, headerStyle, report); err != nil {
		return err
	}
	if err := writeSummary(f, headerStyle, report); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	return nil
}

func writeResults(f *excelize.File, headerStyle int, report *simulator.Report) error {
	if err := setRow(f, resultsSheet, 1, Columns); err != nil {
		return err
	}
	for i, r := range report.Results {
		if err := setRow(f, resultsSheet, i+2, Row(r)); err != nil {
			return err
		}
	}

	last, err := excelize.CoordinatesToCellName(len(Columns), 1)
	if err != nil {
		return fmt.Errorf("failed to compute header range: %w", err)
	}
	if err := f.SetCellStyle(resultsSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to style results header: %w", err)
	}
	if err := f.AutoFilter(resultsSheet, "A1:"+last, nil); err != nil {
		return fmt.Errorf("failed to set results filter: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, headerStyle int, report *simulator.Report) error {
	header := []string{"AssignmentName", "PolicyName", "PolicyReferenceID", "ResolvedEffect", "Violating", "Compliant", "ViolatingTypes"}
	if err := setRow(f, summarySheet, 1, header); err != nil {
		return err
	}
	for i, s := range report.Summaries {
		row := []any{
			s.AssignmentName,
			s.PolicyName,
			s.ReferenceID,
			s.ResolvedEffect,
			s.Violating,
			s.Compliant,
			strings.Join(s.ViolatingTypes, "; "),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to compute summary cell: %w", err)
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}
	}

	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return fmt.Errorf("failed to compute summary header range: %w", err)
	}
	if err := f.SetCellStyle(summarySheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to style summary header: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, rowNum int, values []string) error {
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("failed to compute cell for row %d: %w", rowNum, err)
	}
	if err := f.SetSheetRow(sheet, cell, &row); err != nil {
		return fmt.Errorf("failed to write row %d on %s: %w", rowNum, sheet, err)
	}
	return nil
}
