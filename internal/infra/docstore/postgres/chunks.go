package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/docqa/engine/internal/domain/docqa"
)

// ChunkStore implements C3: chunk persistence plus keyword and vector search.
type ChunkStore struct {
	pool *pgxpool.Pool
}

// NewChunkStore constructs the chunk store.
func NewChunkStore(pool *pgxpool.Pool) *ChunkStore {
	return &ChunkStore{pool: pool}
}

func (s *ChunkStore) InsertBatch(ctx context.Context, chunks []docqa.Chunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO document_chunks (id, document_id, user_id, chat_id, chunk_index, content, content_hash, page_number, slide_number, section_title, embedding, token_count, content_tsv, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, to_tsvector('english', $6), $13)
		`, c.ID, c.DocumentID, c.UserID, c.ChatID, c.ChunkIndex, c.Content, c.ContentHash, c.PageNumber, c.SlideNumber, c.SectionTitle, vectorOrNil(c.Embedding), c.TokenCount, c.CreatedAt)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *ChunkStore) UpdateEmbedding(ctx context.Context, chunkID uuid.UUID, vec []float32) error {
	_, err := s.pool.Exec(ctx, `UPDATE document_chunks SET embedding = $1 WHERE id = $2`, pgvector.NewVector(vec), chunkID)
	return err
}

func (s *ChunkStore) FindPendingEmbeddings(ctx context.Context, limit int) ([]docqa.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, user_id, chat_id, chunk_index, content, content_hash, page_number, slide_number, section_title, token_count, created_at
		FROM document_chunks
		WHERE embedding IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []docqa.Chunk
	for rows.Next() {
		var c docqa.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.UserID, &c.ChatID, &c.ChunkIndex, &c.Content, &c.ContentHash, &c.PageNumber, &c.SlideNumber, &c.SectionTitle, &c.TokenCount, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *ChunkStore) CountPendingEmbeddings(ctx context.Context, documentID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM document_chunks WHERE document_id = $1 AND embedding IS NULL
	`, documentID).Scan(&count)
	return count, err
}

// KeywordSearch ranks chunks by full-text match against the GIN-indexed
// content_tsv column, restricted by appendScopeFilter to the caller's chat
// (unless the filter opts into cross-chat search) and to documents in the
// filter's tiers (COMPLETED only by default).
func (s *ChunkStore) KeywordSearch(ctx context.Context, chatID uuid.UUID, filter docqa.DocumentFilter, query string, limit int) ([]docqa.ScoredChunk, error) {
	sql := `
		SELECT c.id, c.document_id, c.user_id, c.chat_id, c.chunk_index, c.content, c.content_hash, c.page_number, c.slide_number, c.section_title, c.token_count, c.created_at,
			ts_rank(c.content_tsv, plainto_tsquery('english', $1)) AS score
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.content_tsv @@ plainto_tsquery('english', $1)
	`
	args := []any{query}
	argPos := 2
	sql, args, argPos = appendScopeFilter(sql, args, argPos, chatID, filter)
	sql += ` ORDER BY score DESC LIMIT $` + itoa(argPos)
	args = append(args, limit)

	return s.scanScoredChunks(ctx, sql, args...)
}

// VectorSearch ranks chunks by cosine distance over the HNSW-indexed
// embedding column, scoring as 1/(1+distance).
func (s *ChunkStore) VectorSearch(ctx context.Context, chatID uuid.UUID, filter docqa.DocumentFilter, vec []float32, limit int) ([]docqa.ScoredChunk, error) {
	sql := `
		SELECT c.id, c.document_id, c.user_id, c.chat_id, c.chunk_index, c.content, c.content_hash, c.page_number, c.slide_number, c.section_title, c.token_count, c.created_at,
			(1.0 / (1.0 + (c.embedding <=> $1))) AS score
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.embedding IS NOT NULL
	`
	args := []any{pgvector.NewVector(vec)}
	argPos := 2
	sql, args, argPos = appendScopeFilter(sql, args, argPos, chatID, filter)
	sql += ` ORDER BY (c.embedding <=> $1) ASC LIMIT $` + itoa(argPos)
	args = append(args, limit)

	return s.scanScoredChunks(ctx, sql, args...)
}

// appendScopeFilter restricts a search to the caller's chat (unless
// cross-chat is requested), an explicit document id allowlist, and a tier
// allowlist — defaulting to COMPLETED-only when the caller doesn't specify
// one, since retrieval must never surface chunks from a document still mid-
// ingestion.
func appendScopeFilter(sql string, args []any, argPos int, chatID uuid.UUID, filter docqa.DocumentFilter) (string, []any, int) {
	if !filter.CrossChat {
		sql += ` AND c.chat_id = $` + itoa(argPos)
		args = append(args, chatID)
		argPos++
	}
	if len(filter.DocumentIDs) > 0 {
		sql += ` AND c.document_id = ANY($` + itoa(argPos) + `)`
		args = append(args, filter.DocumentIDs)
		argPos++
	}
	tiers := filter.Tiers
	if len(tiers) == 0 {
		tiers = []docqa.DocumentTier{docqa.TierCompleted}
	}
	sql += ` AND d.tier = ANY($` + itoa(argPos) + `)`
	args = append(args, tierStrings(tiers))
	argPos++
	return sql, args, argPos
}

func tierStrings(tiers []docqa.DocumentTier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}

func (s *ChunkStore) scanScoredChunks(ctx context.Context, sql string, args ...any) ([]docqa.ScoredChunk, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []docqa.ScoredChunk
	for rows.Next() {
		var c docqa.Chunk
		var score float64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.UserID, &c.ChatID, &c.ChunkIndex, &c.Content, &c.ContentHash, &c.PageNumber, &c.SlideNumber, &c.SectionTitle, &c.TokenCount, &c.CreatedAt, &score); err != nil {
			return nil, err
		}
		out = append(out, docqa.ScoredChunk{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

func (s *ChunkStore) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	return err
}

func (s *ChunkStore) DeleteByChat(ctx context.Context, chatID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM document_chunks WHERE chat_id = $1`, chatID)
	return err
}

var _ docqa.ChunkStore = (*ChunkStore)(nil)
