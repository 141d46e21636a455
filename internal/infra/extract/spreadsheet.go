package extract

import (
	"context"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/docqa/engine/internal/domain/docqa"
)

// Spreadsheet extracts one unit per sheet, treating each sheet as a "slide"
// so the slide_number locator field carries a meaningful position in a
// document type Go can parse natively, without a real slide deck format.
type Spreadsheet struct{}

func (Spreadsheet) Supports(fileType string) bool {
	switch strings.ToLower(fileType) {
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/vnd.ms-excel", "xlsx", "xls":
		return true
	default:
		return false
	}
}

func (Spreadsheet) Extract(_ context.Context, _ string, r io.Reader) ([]docqa.ExtractedUnit, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []docqa.ExtractedUnit
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		var b strings.Builder
		for _, row := range rows {
			b.WriteString("| " + strings.Join(row, " | ") + " |\n")
		}
		slideNumber := i + 1
		sheetName := sheet
		out = append(out, docqa.ExtractedUnit{
			SlideNumber:  &slideNumber,
			SectionTitle: &sheetName,
			Text:         b.String(),
		})
	}
	return out, nil
}

var _ docqa.Extractor = Spreadsheet{}
