package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/docqa/engine/internal/domain/docqa"
	"github.com/docqa/engine/internal/infra/docstore/memory"
)

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedOne(context.Context, string) ([]float32, error) { return []float32{1}, nil }
func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.5}
	}
	return out, nil
}

func TestTickEmbedsAllPendingChunksAndCompletesDocument(t *testing.T) {
	docID := uuid.New()
	docs := memory.NewDocumentRepository()
	require.NoError(t, docs.Create(context.Background(), docqa.Document{ID: docID, TotalChunks: 2}))

	store := memory.NewChunkStore(docs)
	require.NoError(t, store.InsertBatch(context.Background(), []docqa.Chunk{
		{ID: uuid.New(), DocumentID: docID},
		{ID: uuid.New(), DocumentID: docID},
	}))

	s := New(store, docs, fakeEmbedder{}, Config{BatchSize: 1, BatchSleep: time.Millisecond}, nil)
	require.NoError(t, s.Tick(context.Background()))

	remaining, err := store.CountPendingEmbeddings(context.Background(), docID)
	require.NoError(t, err)
	require.Zero(t, remaining)

	doc, found, err := docs.Get(context.Background(), docID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, docqa.TierCompleted, doc.Tier)
	require.Equal(t, 2, doc.ChunksEmbedded)
}

func TestTickIsNoOpWhenNothingPending(t *testing.T) {
	docs := memory.NewDocumentRepository()
	store := memory.NewChunkStore(docs)
	s := New(store, docs, fakeEmbedder{}, Config{}, nil)
	require.NoError(t, s.Tick(context.Background()))

	remaining, err := store.CountPendingEmbeddings(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Zero(t, remaining)
}
