package querycache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/docqa/engine/internal/domain/docqa"
)

type memRepo struct {
	byChatHash map[string]docqa.CacheEntry
	hits       map[uuid.UUID]int
}

func newMemRepo() *memRepo {
	return &memRepo{byChatHash: map[string]docqa.CacheEntry{}, hits: map[uuid.UUID]int{}}
}

func (m *memRepo) key(chatID uuid.UUID, hash string) string { return chatID.String() + "|" + hash }

func (m *memRepo) LookupExact(_ context.Context, chatID uuid.UUID, hash string) (docqa.CacheEntry, bool, error) {
	e, ok := m.byChatHash[m.key(chatID, hash)]
	return e, ok, nil
}

func (m *memRepo) LookupSemantic(context.Context, uuid.UUID, []float32, float64) (docqa.CacheEntry, bool, error) {
	return docqa.CacheEntry{}, false, nil
}

func (m *memRepo) Upsert(_ context.Context, e docqa.CacheEntry) error {
	m.byChatHash[m.key(e.ChatID, e.QueryHash)] = e
	return nil
}

func (m *memRepo) IncrementHit(_ context.Context, id uuid.UUID) error {
	m.hits[id]++
	return nil
}

func (m *memRepo) EvictExpired(context.Context) (int, error) { return 0, nil }

func TestStoreThenLookupExactReturnsStoredAnswerWhenNotExpired(t *testing.T) {
	repo := newMemRepo()
	c := New(repo, Config{TTL: time.Hour}, nil)
	chatID := uuid.New()

	err := c.Store(context.Background(), docqa.CacheEntry{ID: uuid.New(), ChatID: chatID, QueryText: "What is Go?", Response: "A language."})
	require.NoError(t, err)

	entry, found, err := c.Lookup(context.Background(), chatID, "What is Go?", nil)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "A language.", entry.Response)
}

func TestLookupMissesOnExpiredEntry(t *testing.T) {
	repo := newMemRepo()
	c := New(repo, Config{TTL: time.Hour}, nil)
	chatID := uuid.New()
	expired := docqa.CacheEntry{
		ID: uuid.New(), ChatID: chatID, QueryText: "old",
		QueryHash: HashQuery("old"), ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, repo.Upsert(context.Background(), expired))

	_, found, err := c.Lookup(context.Background(), chatID, "old", nil)
	require.NoError(t, err)
	require.False(t, found)
}

func TestNormalizeQueryCollapsesWhitespaceAndCase(t *testing.T) {
	require.Equal(t, HashQuery("What  IS   Go?"), HashQuery("what is go?"))
}
