package retrieval

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/docqa/engine/internal/domain/docqa"
)

func chunkWithID(id uuid.UUID, doc uuid.UUID) docqa.ScoredChunk {
	return docqa.ScoredChunk{Chunk: docqa.Chunk{ID: id, DocumentID: doc}}
}

func TestFuseIsOrderInsensitiveToListPresentation(t *testing.T) {
	doc := uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	keyword := []docqa.ScoredChunk{chunkWithID(a, doc), chunkWithID(b, doc), chunkWithID(c, doc)}
	vector := []docqa.ScoredChunk{chunkWithID(c, doc), chunkWithID(a, doc), chunkWithID(b, doc)}

	fusedKV := fuse(keyword, vector, 60)
	fusedVK := fuse(vector, keyword, 60)

	scoresKV := map[string]float64{}
	for _, sc := range fusedKV {
		scoresKV[sc.Chunk.ID.String()] = sc.Score
	}
	for _, sc := range fusedVK {
		require.InDelta(t, scoresKV[sc.Chunk.ID.String()], sc.Score, 1e-9)
	}
}

func TestFuseGivesPartialScoreToSingleListMembers(t *testing.T) {
	doc := uuid.New()
	onlyKeyword := uuid.New()
	shared := uuid.New()
	keyword := []docqa.ScoredChunk{chunkWithID(shared, doc), chunkWithID(onlyKeyword, doc)}
	vector := []docqa.ScoredChunk{chunkWithID(shared, doc)}

	fused := fuse(keyword, vector, 60)
	require.Len(t, fused, 2)

	var sharedScore, onlyScore float64
	for _, sc := range fused {
		if sc.Chunk.ID == shared {
			sharedScore = sc.Score
		} else {
			onlyScore = sc.Score
		}
	}
	require.Greater(t, sharedScore, onlyScore, "chunk present in both lists should outrank one present in only one")
	require.Greater(t, onlyScore, 0.0, "a chunk present in only one list still receives a valid partial score")
}

func TestDiversifyCapsPerDocumentAndDedupsContent(t *testing.T) {
	r := New(nil, Config{MaxChunksPerDocument: 1, MaxChunksPerSection: 5, MinScore: 0}, nil)
	doc := uuid.New()
	ranked := []docqa.ScoredChunk{
		{Chunk: docqa.Chunk{ID: uuid.New(), DocumentID: doc, Content: "one"}, Score: 0.9},
		{Chunk: docqa.Chunk{ID: uuid.New(), DocumentID: doc, Content: "two"}, Score: 0.8},
		{Chunk: docqa.Chunk{ID: uuid.New(), DocumentID: uuid.New(), Content: "one"}, Score: 0.7},
	}
	out := r.diversify(ranked, 10)
	require.Len(t, out, 1, "second chunk from the same document should be capped and repeated content dropped")
}

func TestDiversifyRejectsScoresBelowFloor(t *testing.T) {
	r := New(nil, Config{MinScore: 0.5}, nil)
	ranked := []docqa.ScoredChunk{
		{Chunk: docqa.Chunk{ID: uuid.New(), DocumentID: uuid.New(), Content: "low"}, Score: 0.1},
	}
	out := r.diversify(ranked, 10)
	require.Empty(t, out)
}
