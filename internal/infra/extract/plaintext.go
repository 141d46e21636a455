package extract

import (
	"context"
	"io"
	"strings"

	"github.com/docqa/engine/internal/domain/docqa"
)

// PlainText extracts text-like files (txt, md, csv and similar). A form-feed
// (\f) is the conventional ASCII page break, so a file that contains one
// splits into one unit per page, each carrying a page number; a file with
// none produces a single unit with no page locator.
type PlainText struct{}

func (PlainText) Supports(fileType string) bool {
	switch strings.ToLower(fileType) {
	case "text/plain", "text/markdown", "text/csv", "txt", "md", "csv":
		return true
	default:
		return false
	}
}

func (PlainText) Extract(_ context.Context, _ string, r io.Reader) ([]docqa.ExtractedUnit, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}
	if !strings.Contains(text, "\f") {
		return []docqa.ExtractedUnit{{Text: text}}, nil
	}
	pages := strings.Split(text, "\f")
	units := make([]docqa.ExtractedUnit, 0, len(pages))
	for i, page := range pages {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		pageNumber := i + 1
		units = append(units, docqa.ExtractedUnit{PageNumber: &pageNumber, Text: page})
	}
	return units, nil
}

var _ docqa.Extractor = PlainText{}
