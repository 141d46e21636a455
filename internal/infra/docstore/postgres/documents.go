package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docqa/engine/internal/domain/docqa"
)

// DocumentRepository persists documents and their tier/progress fields.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

func (r *DocumentRepository) Create(ctx context.Context, doc docqa.Document) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (id, user_id, chat_id, name, size_bytes, file_type, tier, total_chunks, chunks_embedded, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, doc.ID, doc.UserID, doc.ChatID, doc.Name, doc.SizeBytes, doc.FileType, doc.Tier, doc.TotalChunks, doc.ChunksEmbedded, doc.ErrorMessage, doc.CreatedAt)
	return err
}

func (r *DocumentRepository) Get(ctx context.Context, id uuid.UUID) (docqa.Document, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, chat_id, name, size_bytes, file_type, tier, total_chunks, chunks_embedded, error_message, created_at, processing_completed_at
		FROM documents WHERE id = $1
	`, id)
	var doc docqa.Document
	if err := row.Scan(&doc.ID, &doc.UserID, &doc.ChatID, &doc.Name, &doc.SizeBytes, &doc.FileType, &doc.Tier, &doc.TotalChunks, &doc.ChunksEmbedded, &doc.ErrorMessage, &doc.CreatedAt, &doc.ProcessingCompletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return docqa.Document{}, false, nil
		}
		return docqa.Document{}, false, err
	}
	return doc, true, nil
}

func (r *DocumentRepository) ListByChat(ctx context.Context, chatID uuid.UUID) ([]docqa.Document, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, chat_id, name, size_bytes, file_type, tier, total_chunks, chunks_embedded, error_message, created_at, processing_completed_at
		FROM documents WHERE chat_id = $1 ORDER BY created_at DESC
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []docqa.Document
	for rows.Next() {
		var doc docqa.Document
		if err := rows.Scan(&doc.ID, &doc.UserID, &doc.ChatID, &doc.Name, &doc.SizeBytes, &doc.FileType, &doc.Tier, &doc.TotalChunks, &doc.ChunksEmbedded, &doc.ErrorMessage, &doc.CreatedAt, &doc.ProcessingCompletedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *DocumentRepository) AdvanceTier(ctx context.Context, id uuid.UUID, tier docqa.DocumentTier, errMsg *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE documents SET tier = $1, error_message = $2 WHERE id = $3
	`, tier, errMsg, id)
	return err
}

func (r *DocumentRepository) SetChunkCounts(ctx context.Context, id uuid.UUID, totalChunks, chunksEmbedded int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE documents SET total_chunks = $1, chunks_embedded = $2 WHERE id = $3
	`, totalChunks, chunksEmbedded, id)
	return err
}

func (r *DocumentRepository) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE documents SET tier = $1, processing_completed_at = $2 WHERE id = $3
	`, docqa.TierCompleted, completedAt, id)
	return err
}

func (r *DocumentRepository) AnyUnready(ctx context.Context, chatID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM documents
			WHERE chat_id = $1 AND tier IN ($2, $3, $4)
		)
	`, chatID, docqa.TierPending, docqa.TierExtracting, docqa.TierChunked).Scan(&exists)
	return exists, err
}

func (r *DocumentRepository) DeleteByChat(ctx context.Context, chatID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE chat_id = $1`, chatID)
	return err
}

var _ docqa.DocumentRepository = (*DocumentRepository)(nil)
