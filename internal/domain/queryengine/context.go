package queryengine

import (
	"fmt"
	"strings"

	"github.com/docqa/engine/internal/domain/docqa"
)

// assembledContext is the prompt-ready context built from retrieved chunks,
// kept under a token budget.
type assembledContext struct {
	Text     string
	Sources  []docqa.SourceRef
	Used     []docqa.ScoredChunk
	Tokens   int
}

// assembleContext packs chunks into source-tagged blocks up to targetCount
// chunks or tokenBudget tokens, whichever is hit first. Chunks are consumed
// in ranked order so the highest-scoring survive truncation.
func assembleContext(chunks []docqa.ScoredChunk, docNames map[string]string, targetCount, tokenBudget int, counter *tokenCounter) assembledContext {
	var b strings.Builder
	var used []docqa.ScoredChunk
	var sources []docqa.SourceRef
	total := 0

	for i, sc := range chunks {
		if len(used) >= targetCount {
			break
		}
		marker := sourceMarker(i+1, docNames[sc.Chunk.DocumentID.String()], sc.Chunk)
		block := marker + "\n" + sc.Chunk.Content + "\n\n"
		blockTokens := counter.count(block)
		if total+blockTokens > tokenBudget && len(used) > 0 {
			break
		}
		b.WriteString(block)
		total += blockTokens
		used = append(used, sc)
		sources = append(sources, docqa.SourceRef{
			DocumentID: sc.Chunk.DocumentID,
			FileName:   docNames[sc.Chunk.DocumentID.String()],
			Page:       sc.Chunk.PageNumber,
			Slide:      sc.Chunk.SlideNumber,
		})
	}

	return assembledContext{Text: b.String(), Sources: sources, Used: used, Tokens: total}
}

// sourceMarker renders the "[Source i: filename, Page p | Slide s]" tag used
// to ground the model's citations.
func sourceMarker(index int, fileName string, chunk docqa.Chunk) string {
	loc := ""
	switch {
	case chunk.PageNumber != nil:
		loc = fmt.Sprintf(", Page %d", *chunk.PageNumber)
	case chunk.SlideNumber != nil:
		loc = fmt.Sprintf(", Slide %d", *chunk.SlideNumber)
	}
	return fmt.Sprintf("[Source %d: %s%s]", index, fileName, loc)
}
