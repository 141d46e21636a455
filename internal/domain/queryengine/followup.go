package queryengine

import (
	"github.com/google/uuid"

	"github.com/docqa/engine/internal/domain/docqa"
)

// followUpDocumentIDs restricts retrieval to the documents cited as sources
// in recent answers, so a follow-up question stays scoped to whatever the
// conversation was just about. Only called when chat history is non-empty
// (an empty history means there is nothing to follow up on).
func followUpDocumentIDs(recent []docqa.QueryHistoryEntry) []uuid.UUID {
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, entry := range recent {
		for _, src := range entry.Sources {
			if seen[src.DocumentID] {
				continue
			}
			seen[src.DocumentID] = true
			out = append(out, src.DocumentID)
		}
	}
	return out
}
