// Package valkey decorates C9's Postgres-backed CacheRepository with a
// Valkey-compatible front tier, so a repeated exact-hash lookup for a hot
// (chat, query) pair skips the Postgres round trip entirely, grounded on
// the teacher's internal/infra/faqstore/valkey_store.go GET/SET pattern.
package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/docqa/engine/internal/domain/docqa"
)

// Repository wraps an inner docqa.CacheRepository, serving LookupExact from
// Valkey when present and falling back to (then populating from) the inner
// store on a miss. Upsert writes to the inner store and then refreshes the
// Valkey entry; semantic lookups, hit counts and eviction pass straight
// through, since only the exact-hash path benefits from a key-value front tier.
type Repository struct {
	inner  docqa.CacheRepository
	client valkeygo.Client
	ttl    time.Duration
}

// New constructs the decorated cache repository.
func New(inner docqa.CacheRepository, client valkeygo.Client, ttl time.Duration) *Repository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Repository{inner: inner, client: client, ttl: ttl}
}

func (r *Repository) LookupExact(ctx context.Context, chatID uuid.UUID, hash string) (docqa.CacheEntry, bool, error) {
	key := exactKey(chatID, hash)
	cmd := r.client.B().Get().Key(key).Build()
	payload, err := r.client.Do(ctx, cmd).ToString()
	if err == nil {
		var entry docqa.CacheEntry
		if jsonErr := json.Unmarshal([]byte(payload), &entry); jsonErr == nil {
			return entry, true, nil
		}
	} else if !valkeygo.IsValkeyNil(err) {
		return docqa.CacheEntry{}, false, err
	}

	entry, found, err := r.inner.LookupExact(ctx, chatID, hash)
	if err != nil || !found {
		return entry, found, err
	}
	r.cacheEntry(ctx, key, entry)
	return entry, true, nil
}

func (r *Repository) LookupSemantic(ctx context.Context, chatID uuid.UUID, vec []float32, threshold float64) (docqa.CacheEntry, bool, error) {
	return r.inner.LookupSemantic(ctx, chatID, vec, threshold)
}

func (r *Repository) Upsert(ctx context.Context, entry docqa.CacheEntry) error {
	if err := r.inner.Upsert(ctx, entry); err != nil {
		return err
	}
	r.cacheEntry(ctx, exactKey(entry.ChatID, entry.QueryHash), entry)
	return nil
}

func (r *Repository) IncrementHit(ctx context.Context, id uuid.UUID) error {
	return r.inner.IncrementHit(ctx, id)
}

func (r *Repository) EvictExpired(ctx context.Context) (int, error) {
	return r.inner.EvictExpired(ctx)
}

func (r *Repository) cacheEntry(ctx context.Context, key string, entry docqa.CacheEntry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	cmd := r.client.B().Set().Key(key).Value(string(payload)).Ex(r.ttl).Build()
	_ = r.client.Do(ctx, cmd).Error()
}

func exactKey(chatID uuid.UUID, hash string) string {
	return fmt.Sprintf("doccache:%x:%s", chatID, hash)
}

var _ docqa.CacheRepository = (*Repository)(nil)
