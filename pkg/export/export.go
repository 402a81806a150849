// Package export writes tabular reports as CSV, Excel and JSON files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
)

// Table is a titled grid of strings. Title names the Excel sheet.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// FileName returns dir/<prefix>_<YYYYMMDD_HHMMSS>.<ext>.
func FileName(dir, prefix, ext string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.%s", prefix, now.Format("20060102_150405"), ext))
}

// WriteCSV writes t with a header row.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Headers); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// SaveCSV writes t to path, creating parent directories.
func SaveCSV(path string, t Table) error {
	return create(path, func(w io.Writer) error { return WriteCSV(w, t) })
}

// SaveJSON writes v as indented JSON.
func SaveJSON(path string, v any) error {
	return create(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// SaveXLSX writes one sheet per table, header row in bold with a filter.
func SaveXLSX(path string, tables ...Table) error {
	if len(tables) == 0 {
		return fmt.Errorf("no tables to export")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	for i, t := range tables {
		sheet := sheetName(t.Title, i)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
		if err := writeSheet(f, sheet, t, bold); err != nil {
			return fmt.Errorf("sheet %s: %w", sheet, err)
		}
	}
	return f.SaveAs(path)
}

func writeSheet(f *excelize.File, sheet string, t Table, headerStyle int) error {
	header := toRow(t.Headers)
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for r, row := range t.Rows {
		cells := toRow(row)
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return err
		}
	}
	if len(t.Headers) == 0 {
		return nil
	}
	last, err := excelize.CoordinatesToCellName(len(t.Headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return err
	}
	return f.AutoFilter(sheet, "A1:"+last, nil)
}

func toRow(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// sheetName trims a title to Excel's 31-character sheet name limit.
func sheetName(title string, i int) string {
	if title == "" {
		return fmt.Sprintf("Sheet%d", i+1)
	}
	if r := []rune(title); len(r) > 31 {
		return string(r[:31])
	}
	return title
}

func create(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
