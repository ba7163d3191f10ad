// Package export writes check history to spreadsheet formats.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/3leaps/plagctl/pkg/api"
)

// Format is an export file format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// HistorySheet is the worksheet name of XLSX exports.
const HistorySheet = "History"

var headers = []string{
	"ID",
	"File",
	"Similarity (%)",
	"Level",
	"Matches",
	"Created",
}

// ParseFormat accepts "xlsx" or "csv" (case-insensitive).
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatXLSX, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (want xlsx or csv)", raw)
	}
}

// FormatForPath picks the format from a file extension, defaulting to XLSX.
func FormatForPath(path string) Format {
	if strings.HasSuffix(strings.ToLower(path), ".csv") {
		return FormatCSV
	}
	return FormatXLSX
}

// Write encodes items to w in the given format.
func Write(w io.Writer, format Format, items []api.HistoryItem) error {
	switch format {
	case FormatCSV:
		return CSV(w, items)
	case FormatXLSX:
		b, err := XLSX(items)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// XLSX returns a workbook with one row per history item.
func XLSX(items []api.HistoryItem) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if index, _ := f.GetSheetIndex(HistorySheet); index == -1 {
		if _, err := f.NewSheet(HistorySheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(HistorySheet)
	f.SetActiveSheet(activeIndex)
	_ = f.DeleteSheet("Sheet1")

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(HistorySheet, cell, h)
	}

	for r, it := range items {
		row := r + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(HistorySheet, cell, v)
		}
		write(1, it.ID)
		write(2, it.QueryName)
		write(3, it.OverallSimilarity)
		write(4, levelLabel(it))
		write(5, it.MatchesCount)
		write(6, createdText(it))
	}

	_ = f.SetColWidth(HistorySheet, "A", "A", 38) // id
	_ = f.SetColWidth(HistorySheet, "B", "B", 40) // file
	_ = f.SetColWidth(HistorySheet, "C", "E", 16)
	_ = f.SetColWidth(HistorySheet, "F", "F", 22) // created

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// CSV writes a header row and one row per history item.
func CSV(w io.Writer, items []api.HistoryItem) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return err
	}
	for _, it := range items {
		rec := []string{
			it.ID,
			it.QueryName,
			strconv.FormatFloat(it.OverallSimilarity, 'f', -1, 64),
			levelLabel(it),
			strconv.Itoa(it.MatchesCount),
			createdText(it),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func levelLabel(it api.HistoryItem) string {
	if it.PlagiarismLevel == "" {
		return ""
	}
	return it.PlagiarismLevel.Label()
}

func createdText(it api.HistoryItem) string {
	if t := it.CreatedTime(); !t.IsZero() {
		return t.Format("2006-01-02 15:04")
	}
	return it.CreatedAt
}
