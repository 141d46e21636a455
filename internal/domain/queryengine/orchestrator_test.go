package queryengine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/docqa/engine/internal/domain/docqa"
	"github.com/docqa/engine/internal/domain/querycache"
	"github.com/docqa/engine/internal/domain/retrieval"
)

type fakeDocs struct {
	docs    map[uuid.UUID]docqa.Document
	unready bool
}

func (f *fakeDocs) Create(context.Context, docqa.Document) error { return nil }
func (f *fakeDocs) Get(_ context.Context, id uuid.UUID) (docqa.Document, bool, error) {
	d, ok := f.docs[id]
	return d, ok, nil
}
func (f *fakeDocs) ListByChat(context.Context, uuid.UUID) ([]docqa.Document, error) { return nil, nil }
func (f *fakeDocs) AdvanceTier(context.Context, uuid.UUID, docqa.DocumentTier, *string) error {
	return nil
}
func (f *fakeDocs) SetChunkCounts(context.Context, uuid.UUID, int, int) error { return nil }
func (f *fakeDocs) MarkCompleted(context.Context, uuid.UUID, time.Time) error { return nil }
func (f *fakeDocs) AnyUnready(context.Context, uuid.UUID) (bool, error) { return f.unready, nil }
func (f *fakeDocs) DeleteByChat(context.Context, uuid.UUID) error { return nil }

type fakeChunks struct {
	results []docqa.ScoredChunk
}

func (f *fakeChunks) InsertBatch(context.Context, []docqa.Chunk) error        { return nil }
func (f *fakeChunks) UpdateEmbedding(context.Context, uuid.UUID, []float32) error { return nil }
func (f *fakeChunks) FindPendingEmbeddings(context.Context, int) ([]docqa.Chunk, error) {
	return nil, nil
}
func (f *fakeChunks) CountPendingEmbeddings(context.Context, uuid.UUID) (int, error) { return 0, nil }
func (f *fakeChunks) KeywordSearch(context.Context, uuid.UUID, docqa.DocumentFilter, string, int) ([]docqa.ScoredChunk, error) {
	return f.results, nil
}
func (f *fakeChunks) VectorSearch(context.Context, uuid.UUID, docqa.DocumentFilter, []float32, int) ([]docqa.ScoredChunk, error) {
	return f.results, nil
}
func (f *fakeChunks) DeleteByDocument(context.Context, uuid.UUID) error { return nil }
func (f *fakeChunks) DeleteByChat(context.Context, uuid.UUID) error     { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedOne(context.Context, string) ([]float32, error) { return []float32{0.1}, nil }
func (fakeEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, nil
}

type fakeChat struct{ calls int }

func (f *fakeChat) Generate(context.Context, docqa.GenerateRequest) (string, error) {
	f.calls++
	return "the answer", nil
}

type fakeHistory struct{ entries []docqa.QueryHistoryEntry }

func (f *fakeHistory) Append(_ context.Context, e docqa.QueryHistoryEntry) error {
	f.entries = append(f.entries, e)
	return nil
}
func (f *fakeHistory) RecentAnswers(context.Context, uuid.UUID, int) ([]docqa.QueryHistoryEntry, error) {
	return f.entries, nil
}

type fakeCacheRepo struct {
	byChatHash map[string]docqa.CacheEntry
}

func newFakeCacheRepo() *fakeCacheRepo { return &fakeCacheRepo{byChatHash: map[string]docqa.CacheEntry{}} }

func (f *fakeCacheRepo) key(chatID uuid.UUID, hash string) string { return chatID.String() + "|" + hash }

func (f *fakeCacheRepo) LookupExact(_ context.Context, chatID uuid.UUID, hash string) (docqa.CacheEntry, bool, error) {
	e, ok := f.byChatHash[f.key(chatID, hash)]
	return e, ok, nil
}
func (f *fakeCacheRepo) LookupSemantic(context.Context, uuid.UUID, []float32, float64) (docqa.CacheEntry, bool, error) {
	return docqa.CacheEntry{}, false, nil
}
func (f *fakeCacheRepo) Upsert(_ context.Context, e docqa.CacheEntry) error {
	f.byChatHash[f.key(e.ChatID, e.QueryHash)] = e
	return nil
}
func (f *fakeCacheRepo) IncrementHit(context.Context, uuid.UUID) error { return nil }
func (f *fakeCacheRepo) EvictExpired(context.Context) (int, error)    { return 0, nil }

func newOrchestrator(docs *fakeDocs, chunks *fakeChunks, chat *fakeChat, cacheRepo docqa.CacheRepository) *Orchestrator {
	r := retrieval.New(chunks, retrieval.Config{}, nil)
	c := querycache.New(cacheRepo, querycache.Config{}, nil)
	return New(docs, r, fakeEmbedder{}, chat, c, &fakeHistory{}, Config{}, nil)
}

func TestAnswerReturnsStillProcessingWhenDocumentsUnready(t *testing.T) {
	docs := &fakeDocs{docs: map[uuid.UUID]docqa.Document{}, unready: true}
	o := newOrchestrator(docs, &fakeChunks{}, &fakeChat{}, newFakeCacheRepo())

	resp, err := o.Answer(context.Background(), Request{ChatID: uuid.New(), Question: "anything?"})
	require.NoError(t, err)
	require.True(t, resp.StillProcessing)
}

func TestAnswerGeneratesFromRetrievedChunks(t *testing.T) {
	docID := uuid.New()
	docs := &fakeDocs{docs: map[uuid.UUID]docqa.Document{docID: {ID: docID, Name: "book.pdf"}}}
	page := 1
	chunks := &fakeChunks{results: []docqa.ScoredChunk{
		{Chunk: docqa.Chunk{ID: uuid.New(), DocumentID: docID, Content: "some content", PageNumber: &page}, Score: 0.9},
	}}
	chat := &fakeChat{}
	o := newOrchestrator(docs, chunks, chat, newFakeCacheRepo())

	resp, err := o.Answer(context.Background(), Request{ChatID: uuid.New(), Question: "what is in the book?"})
	require.NoError(t, err)
	require.Equal(t, "the answer", resp.Answer)
	require.Equal(t, 1, chat.calls)
	require.Len(t, resp.Sources, 1)
	require.Equal(t, "book.pdf", resp.Sources[0].FileName)
}

func TestAnswerSetsExternalSearchWhenNoChunksAndNoHistory(t *testing.T) {
	docs := &fakeDocs{docs: map[uuid.UUID]docqa.Document{}}
	chat := &fakeChat{}
	o := newOrchestrator(docs, &fakeChunks{}, chat, newFakeCacheRepo())

	resp, err := o.Answer(context.Background(), Request{ChatID: uuid.New(), Question: "anything at all?"})
	require.NoError(t, err)
	require.True(t, resp.ExternalSearchEnabled)
}
