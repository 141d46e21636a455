// Package memory provides in-process implementations of the document and
// chunk store interfaces, used by the sweeper tests to run without a
// database. Grounded on the teacher's
// internal/infra/uploadask/repo/memory.go: mutex-guarded maps, no ordering
// or index guarantees beyond a linear scan.
package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docqa/engine/internal/domain/docqa"
)

// DocumentRepository is an in-memory docqa.DocumentRepository.
type DocumentRepository struct {
	mu   sync.RWMutex
	docs map[uuid.UUID]docqa.Document
}

func NewDocumentRepository() *DocumentRepository {
	return &DocumentRepository{docs: make(map[uuid.UUID]docqa.Document)}
}

func (r *DocumentRepository) Create(_ context.Context, doc docqa.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = doc
	return nil
}

func (r *DocumentRepository) Get(_ context.Context, id uuid.UUID) (docqa.Document, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[id]
	return d, ok, nil
}

func (r *DocumentRepository) ListByChat(_ context.Context, chatID uuid.UUID) ([]docqa.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []docqa.Document
	for _, d := range r.docs {
		if d.ChatID == chatID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *DocumentRepository) AdvanceTier(_ context.Context, id uuid.UUID, tier docqa.DocumentTier, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil
	}
	d.Tier = tier
	d.ErrorMessage = errMsg
	r.docs[id] = d
	return nil
}

func (r *DocumentRepository) SetChunkCounts(_ context.Context, id uuid.UUID, totalChunks, chunksEmbedded int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil
	}
	d.TotalChunks = totalChunks
	d.ChunksEmbedded = chunksEmbedded
	r.docs[id] = d
	return nil
}

func (r *DocumentRepository) MarkCompleted(_ context.Context, id uuid.UUID, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil
	}
	d.Tier = docqa.TierCompleted
	d.ProcessingCompletedAt = &completedAt
	r.docs[id] = d
	return nil
}

func (r *DocumentRepository) AnyUnready(_ context.Context, chatID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.docs {
		if d.ChatID != chatID {
			continue
		}
		switch d.Tier {
		case docqa.TierPending, docqa.TierExtracting, docqa.TierChunked:
			return true, nil
		}
	}
	return false, nil
}

func (r *DocumentRepository) DeleteByChat(_ context.Context, chatID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, d := range r.docs {
		if d.ChatID == chatID {
			delete(r.docs, id)
		}
	}
	return nil
}

var _ docqa.DocumentRepository = (*DocumentRepository)(nil)

// ChunkStore is an in-memory docqa.ChunkStore with a brute-force cosine
// search standing in for an ANN index and a naive substring match standing
// in for full-text search.
type ChunkStore struct {
	mu     sync.RWMutex
	chunks map[uuid.UUID]docqa.Chunk
	docs   docqa.DocumentRepository
}

func NewChunkStore(docs docqa.DocumentRepository) *ChunkStore {
	return &ChunkStore{chunks: make(map[uuid.UUID]docqa.Chunk), docs: docs}
}

func (s *ChunkStore) InsertBatch(_ context.Context, chunks []docqa.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *ChunkStore) UpdateEmbedding(_ context.Context, chunkID uuid.UUID, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[chunkID]
	if !ok {
		return nil
	}
	c.Embedding = vec
	s.chunks[chunkID] = c
	return nil
}

func (s *ChunkStore) FindPendingEmbeddings(_ context.Context, limit int) ([]docqa.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []docqa.Chunk
	for _, c := range s.chunks {
		if len(c.Embedding) == 0 {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ChunkStore) CountPendingEmbeddings(_ context.Context, documentID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, c := range s.chunks {
		if c.DocumentID == documentID && len(c.Embedding) == 0 {
			count++
		}
	}
	return count, nil
}

func (s *ChunkStore) KeywordSearch(ctx context.Context, chatID uuid.UUID, filter docqa.DocumentFilter, query string, limit int) ([]docqa.ScoredChunk, error) {
	terms := strings.Fields(strings.ToLower(query))
	return s.search(ctx, chatID, filter, limit, func(c docqa.Chunk) (float64, bool) {
		lower := strings.ToLower(c.Content)
		hits := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				hits++
			}
		}
		if hits == 0 {
			return 0, false
		}
		return float64(hits) / float64(len(terms)+1), true
	})
}

func (s *ChunkStore) VectorSearch(ctx context.Context, chatID uuid.UUID, filter docqa.DocumentFilter, vec []float32, limit int) ([]docqa.ScoredChunk, error) {
	return s.search(ctx, chatID, filter, limit, func(c docqa.Chunk) (float64, bool) {
		if len(c.Embedding) == 0 {
			return 0, false
		}
		return cosineSimilarity(vec, c.Embedding), true
	})
}

func (s *ChunkStore) search(ctx context.Context, chatID uuid.UUID, filter docqa.DocumentFilter, limit int, score func(docqa.Chunk) (float64, bool)) ([]docqa.ScoredChunk, error) {
	s.mu.RLock()
	candidates := make([]docqa.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		candidates = append(candidates, c)
	}
	s.mu.RUnlock()

	wantIDs := map[uuid.UUID]bool{}
	for _, id := range filter.DocumentIDs {
		wantIDs[id] = true
	}
	wantTiers := map[docqa.DocumentTier]bool{docqa.TierCompleted: true}
	if len(filter.Tiers) > 0 {
		wantTiers = map[docqa.DocumentTier]bool{}
		for _, t := range filter.Tiers {
			wantTiers[t] = true
		}
	}

	var out []docqa.ScoredChunk
	for _, c := range candidates {
		if !filter.CrossChat && c.ChatID != chatID {
			continue
		}
		if len(wantIDs) > 0 && !wantIDs[c.DocumentID] {
			continue
		}
		doc, found, err := s.docs.Get(ctx, c.DocumentID)
		if err != nil || !found || !wantTiers[doc.Tier] {
			continue
		}
		sc, ok := score(c)
		if !ok {
			continue
		}
		out = append(out, docqa.ScoredChunk{Chunk: c, Document: doc, Score: sc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ChunkStore) DeleteByDocument(_ context.Context, documentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.DocumentID == documentID {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *ChunkStore) DeleteByChat(_ context.Context, chatID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.ChatID == chatID {
			delete(s.chunks, id)
		}
	}
	return nil
}

var _ docqa.ChunkStore = (*ChunkStore)(nil)

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
