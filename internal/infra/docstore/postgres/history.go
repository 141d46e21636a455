package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docqa/engine/internal/domain/docqa"
)

// HistoryRepository implements the append-only query history log.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository constructs the repository.
func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

func (r *HistoryRepository) Append(ctx context.Context, entry docqa.QueryHistoryEntry) error {
	sources, err := json.Marshal(entry.Sources)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO query_history (id, user_id, chat_id, question, question_embedding, answer, sources, retrieval_ms, generation_ms, total_ms, chunks_retrieved, llm_calls_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, entry.ID, entry.UserID, entry.ChatID, entry.Question, vectorOrNil(entry.QuestionEmbedding), entry.Answer, sources,
		entry.RetrievalMs, entry.GenerationMs, entry.TotalMs, entry.ChunksRetrieved, entry.LLMCallsUsed, entry.CreatedAt)
	return err
}

func (r *HistoryRepository) RecentAnswers(ctx context.Context, chatID uuid.UUID, limit int) ([]docqa.QueryHistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, chat_id, question, answer, sources, retrieval_ms, generation_ms, total_ms, chunks_retrieved, llm_calls_used, created_at
		FROM query_history WHERE chat_id = $1 ORDER BY created_at DESC LIMIT $2
	`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []docqa.QueryHistoryEntry
	for rows.Next() {
		var e docqa.QueryHistoryEntry
		var sourcesRaw []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.ChatID, &e.Question, &e.Answer, &sourcesRaw, &e.RetrievalMs, &e.GenerationMs, &e.TotalMs, &e.ChunksRetrieved, &e.LLMCallsUsed, &e.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(sourcesRaw, &e.Sources)
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ docqa.HistoryRepository = (*HistoryRepository)(nil)
