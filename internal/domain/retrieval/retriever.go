// Package retrieval implements the Hybrid Retriever (C7): parallel keyword
// and vector sub-searches fused by reciprocal rank fusion, followed by a
// diversity filter. Grounded on the teacher's parallel-fan-out style
// (internal/domain/uploadask.Service.searchMemories running alongside chunk
// search) and generalized with golang.org/x/sync/errgroup for the two
// independent sub-searches.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docqa/engine/internal/domain/docqa"
	apperrors "github.com/docqa/engine/pkg/errors"
)

const ErrCodeRetrievalUnavailable = "RETRIEVAL_UNAVAILABLE"

// Config controls fusion and diversity parameters, mirroring spec §6's
// retrieval.* configuration surface.
type Config struct {
	RRFK                 int
	MaxChunksPerDocument  int
	MaxChunksPerSection   int
	MinScore              float64
}

// Retriever is the Hybrid Retriever (C7).
type Retriever struct {
	chunks docqa.ChunkStore
	cfg    Config
	logger *slog.Logger
}

// New constructs a Retriever over the given chunk store.
func New(chunks docqa.ChunkStore, cfg Config, logger *slog.Logger) *Retriever {
	if cfg.RRFK <= 0 {
		cfg.RRFK = 60
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = 0.1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{chunks: chunks, cfg: cfg, logger: logger.With("component", "retrieval")}
}

// Search runs the keyword sub-search via C3.KeywordSearch, and — if a query
// vector is available — the vector sub-search in parallel, fuses ranks by
// RRF, and applies the diversity filter to return up to n chunks.
func (r *Retriever) Search(ctx context.Context, chatID uuid.UUID, filter docqa.DocumentFilter, query string, queryVec []float32, n int) ([]docqa.ScoredChunk, error) {
	limit := 2 * n

	var keywordResults, vectorResults []docqa.ScoredChunk
	var keywordErr, vectorErr error

	if len(queryVec) == 0 {
		keywordResults, keywordErr = r.chunks.KeywordSearch(ctx, chatID, filter, query, limit)
		if keywordErr != nil {
			return nil, apperrors.Wrap(ErrCodeRetrievalUnavailable, "keyword search failed", keywordErr)
		}
		return r.diversify(keywordResults, n), nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := r.chunks.KeywordSearch(gctx, chatID, filter, query, limit)
		keywordResults, keywordErr = res, err
		return nil // sub-search failures degrade, not abort
	})
	g.Go(func() error {
		res, err := r.chunks.VectorSearch(gctx, chatID, filter, queryVec, limit)
		vectorResults, vectorErr = res, err
		return nil
	})
	_ = g.Wait()

	if keywordErr != nil && vectorErr != nil {
		return nil, apperrors.Wrap(ErrCodeRetrievalUnavailable, "both sub-searches failed", keywordErr)
	}
	if vectorErr != nil {
		r.logger.Warn("vector sub-search failed, degrading to keyword-only", "error", vectorErr)
		return r.diversify(keywordResults, n), nil
	}
	if keywordErr != nil {
		r.logger.Warn("keyword sub-search failed, degrading to vector-only", "error", keywordErr)
		return r.diversify(vectorResults, n), nil
	}

	fused := fuse(keywordResults, vectorResults, r.cfg.RRFK)
	return r.diversify(fused, n), nil
}

type fusedEntry struct {
	chunk docqa.ScoredChunk
	score float64
}

// fuse combines two ranked lists by Reciprocal Rank Fusion: a chunk's
// contribution from a list is 1/(K+rank) for its 1-based rank in that list;
// contributions sum across lists. A chunk present in only one list still
// receives a valid (partial) score from that list alone. The sum is then
// scaled by (K+1)/2, the reciprocal of the best attainable sum, so fused
// scores lie in (0, 1] and the diversity filter's MinScore floor applies on
// that scale; the scaling does not change the order.
func fuse(keyword, vector []docqa.ScoredChunk, k int) []docqa.ScoredChunk {
	scores := make(map[string]*fusedEntry)
	order := make([]string, 0, len(keyword)+len(vector))

	add := func(list []docqa.ScoredChunk) {
		for i, sc := range list {
			rank := i + 1
			id := sc.Chunk.ID.String()
			entry, ok := scores[id]
			if !ok {
				entry = &fusedEntry{chunk: sc}
				scores[id] = entry
				order = append(order, id)
			}
			entry.score += 1.0 / float64(k+rank)
		}
	}
	add(keyword)
	add(vector)

	out := make([]docqa.ScoredChunk, 0, len(order))
	for _, id := range order {
		entry := scores[id]
		entry.chunk.Score = entry.score * float64(k+1) / 2
		out = append(out, entry.chunk)
	}
	sortByScoreDesc(out)
	return out
}

func sortByScoreDesc(chunks []docqa.ScoredChunk) {
	for i := 1; i < len(chunks); i++ {
		j := i
		for j > 0 && chunks[j-1].Score < chunks[j].Score {
			chunks[j-1], chunks[j] = chunks[j], chunks[j-1]
			j--
		}
	}
}

// diversify applies the per-document, per-section and dedup/min-score caps,
// accepting chunks in ranked order until n are selected.
func (r *Retriever) diversify(ranked []docqa.ScoredChunk, n int) []docqa.ScoredChunk {
	maxPerDoc := r.cfg.MaxChunksPerDocument
	if maxPerDoc <= 0 {
		maxPerDoc = max(5, n/4)
	}
	maxPerSection := r.cfg.MaxChunksPerSection
	if maxPerSection <= 0 {
		maxPerSection = 3
	}
	minScore := r.cfg.MinScore

	perDoc := map[string]int{}
	perSection := map[string]int{}
	seenContent := map[string]bool{}

	out := make([]docqa.ScoredChunk, 0, n)
	for _, sc := range ranked {
		if len(out) >= n {
			break
		}
		if sc.Score < minScore {
			continue
		}
		contentKey := contentHash(sc.Chunk.Content)
		if seenContent[contentKey] {
			continue
		}
		docKey := sc.Chunk.DocumentID.String()
		if perDoc[docKey] >= maxPerDoc {
			continue
		}
		secKey := sc.Chunk.SectionKey()
		if perSection[secKey] >= maxPerSection {
			continue
		}
		seenContent[contentKey] = true
		perDoc[docKey]++
		perSection[secKey]++
		out = append(out, sc)
	}
	return out
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
