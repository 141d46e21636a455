package extract

import (
	"context"
	"fmt"
	"io"

	"github.com/docqa/engine/internal/domain/docqa"
)

// Dispatcher routes extraction to the first registered extractor that
// supports the document's file-type tag.
type Dispatcher struct {
	extractors []docqa.Extractor
}

// NewDispatcher builds the default dispatcher: plaintext, PDF, spreadsheet.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{extractors: []docqa.Extractor{PlainText{}, PDF{}, Spreadsheet{}}}
}

func (d *Dispatcher) Supports(fileType string) bool {
	for _, e := range d.extractors {
		if e.Supports(fileType) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) Extract(ctx context.Context, fileType string, r io.Reader) ([]docqa.ExtractedUnit, error) {
	for _, e := range d.extractors {
		if e.Supports(fileType) {
			return e.Extract(ctx, fileType, r)
		}
	}
	return nil, fmt.Errorf("extract: unsupported file type %q", fileType)
}

var _ docqa.Extractor = (*Dispatcher)(nil)
