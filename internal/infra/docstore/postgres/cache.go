package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/docqa/engine/internal/domain/docqa"
)

// CacheRepository implements C9's persistence layer: exact-hash and
// semantic (ANN) lookup over cached answers.
type CacheRepository struct {
	pool *pgxpool.Pool
}

// NewCacheRepository constructs the cache repository.
func NewCacheRepository(pool *pgxpool.Pool) *CacheRepository {
	return &CacheRepository{pool: pool}
}

func (r *CacheRepository) LookupExact(ctx context.Context, chatID uuid.UUID, hash string) (docqa.CacheEntry, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, chat_id, query_text, query_hash, response, sources, created_at, expires_at, hit_count
		FROM query_cache WHERE chat_id = $1 AND query_hash = $2
	`, chatID, hash)
	return scanCacheEntry(row)
}

func (r *CacheRepository) LookupSemantic(ctx context.Context, chatID uuid.UUID, vec []float32, threshold float64) (docqa.CacheEntry, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, chat_id, query_text, query_hash, response, sources, created_at, expires_at, hit_count
		FROM query_cache
		WHERE chat_id = $1 AND expires_at > NOW() AND (1.0 - (query_embedding <=> $2)) >= $3
		ORDER BY (query_embedding <=> $2) ASC
		LIMIT 1
	`, chatID, pgvector.NewVector(vec), threshold)
	return scanCacheEntry(row)
}

func scanCacheEntry(row pgx.Row) (docqa.CacheEntry, bool, error) {
	var e docqa.CacheEntry
	var sourcesRaw []byte
	if err := row.Scan(&e.ID, &e.UserID, &e.ChatID, &e.QueryText, &e.QueryHash, &e.Response, &sourcesRaw, &e.CreatedAt, &e.ExpiresAt, &e.HitCount); err != nil {
		if err == pgx.ErrNoRows {
			return docqa.CacheEntry{}, false, nil
		}
		return docqa.CacheEntry{}, false, err
	}
	_ = json.Unmarshal(sourcesRaw, &e.Sources)
	return e, true, nil
}

func (r *CacheRepository) Upsert(ctx context.Context, entry docqa.CacheEntry) error {
	sources, err := json.Marshal(entry.Sources)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO query_cache (id, user_id, chat_id, query_text, query_hash, query_embedding, response, sources, created_at, expires_at, hit_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), $9, 0)
		ON CONFLICT (chat_id, query_hash) DO UPDATE SET
			query_text = EXCLUDED.query_text, query_embedding = EXCLUDED.query_embedding,
			response = EXCLUDED.response, sources = EXCLUDED.sources,
			created_at = NOW(), expires_at = EXCLUDED.expires_at, hit_count = 0
	`, entry.ID, entry.UserID, entry.ChatID, entry.QueryText, entry.QueryHash, vectorOrNil(entry.Embedding), entry.Response, sources, entry.ExpiresAt)
	return err
}

func (r *CacheRepository) IncrementHit(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE query_cache SET hit_count = hit_count + 1 WHERE id = $1`, id)
	return err
}

func (r *CacheRepository) EvictExpired(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM query_cache WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

var _ docqa.CacheRepository = (*CacheRepository)(nil)
