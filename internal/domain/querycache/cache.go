// Package querycache implements the Query Cache (C9): exact-hash and
// semantic lookup over cached answers, with an in-process LRU of hot
// exact-hash lookups grounded on the teacher's hashicorp/golang-lru usage
// pattern to avoid a DB round trip for the hottest repeated queries.
package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"

	"github.com/docqa/engine/internal/domain/docqa"
)

// Config controls TTL and semantic-match behavior per spec §6's cache.*
// configuration surface.
type Config struct {
	TTL               time.Duration
	SemanticThreshold float64
	LRUSize           int
}

// Cache is the Query Cache (C9).
type Cache struct {
	repo   docqa.CacheRepository
	cfg    Config
	logger *slog.Logger
	hot    *lru.Cache[string, docqa.CacheEntry]
}

// New constructs a Cache over the given repository.
func New(repo docqa.CacheRepository, cfg Config, logger *slog.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.SemanticThreshold <= 0 {
		cfg.SemanticThreshold = 0.95
	}
	if cfg.LRUSize <= 0 {
		cfg.LRUSize = 512
	}
	if logger == nil {
		logger = slog.Default()
	}
	hot, _ := lru.New[string, docqa.CacheEntry](cfg.LRUSize)
	return &Cache{repo: repo, cfg: cfg, logger: logger.With("component", "querycache"), hot: hot}
}

// NormalizeQuery lower-cases and collapses whitespace, matching the
// normalization the hash is computed over so near-identical phrasing hits
// the exact-hash path before falling back to semantic search.
func NormalizeQuery(q string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(q) {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

// HashQuery computes the SHA-256 hash of a normalized query text.
func HashQuery(q string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(q)))
	return hex.EncodeToString(sum[:])
}

// Lookup tries the exact-hash path first (LRU, then repository), falling
// back to semantic nearest-neighbor search. Expired entries are treated as
// misses.
func (c *Cache) Lookup(ctx context.Context, chatID uuid.UUID, question string, queryVec []float32) (docqa.CacheEntry, bool, error) {
	hash := HashQuery(question)
	lruKey := chatID.String() + "|" + hash
	if entry, ok := c.hot.Get(lruKey); ok {
		if isLive(entry) {
			return entry, true, nil
		}
		c.hot.Remove(lruKey)
	}

	entry, found, err := c.repo.LookupExact(ctx, chatID, hash)
	if err != nil {
		return docqa.CacheEntry{}, false, err
	}
	if found && isLive(entry) {
		c.hot.Add(lruKey, entry)
		return entry, true, nil
	}

	if len(queryVec) == 0 {
		return docqa.CacheEntry{}, false, nil
	}
	entry, found, err = c.repo.LookupSemantic(ctx, chatID, queryVec, c.cfg.SemanticThreshold)
	if err != nil {
		return docqa.CacheEntry{}, false, err
	}
	if !found || !isLive(entry) {
		return docqa.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// Store upserts a cache entry for (chat, query-hash) with a fresh TTL and
// zeroed hit count.
func (c *Cache) Store(ctx context.Context, entry docqa.CacheEntry) error {
	entry.QueryHash = HashQuery(entry.QueryText)
	entry.ExpiresAt = time.Now().UTC().Add(c.cfg.TTL)
	entry.HitCount = 0
	if err := c.repo.Upsert(ctx, entry); err != nil {
		return err
	}
	c.hot.Add(entry.ChatID.String()+"|"+entry.QueryHash, entry)
	return nil
}

// IncrementHit records a cache hit against the stored entry.
func (c *Cache) IncrementHit(ctx context.Context, id uuid.UUID) error {
	return c.repo.IncrementHit(ctx, id)
}

// EvictExpired removes expired entries, returning the count removed.
func (c *Cache) EvictExpired(ctx context.Context) (int, error) {
	return c.repo.EvictExpired(ctx)
}

func isLive(e docqa.CacheEntry) bool {
	return time.Now().UTC().Before(e.ExpiresAt)
}
