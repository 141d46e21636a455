package extract

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/docqa/engine/internal/domain/docqa"
)

// PDF extracts one unit per page, carrying the page number so retrieval can
// point back at a specific location in the source document.
type PDF struct{}

func (PDF) Supports(fileType string) bool {
	switch strings.ToLower(fileType) {
	case "application/pdf", "pdf":
		return true
	default:
		return false
	}
}

func (PDF) Extract(_ context.Context, _ string, r io.Reader) ([]docqa.ExtractedUnit, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	var out []docqa.ExtractedUnit
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pageNum := i
		out = append(out, docqa.ExtractedUnit{PageNumber: &pageNum, Text: text})
	}
	return out, nil
}

var _ docqa.Extractor = PDF{}
