package embedclient

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docqa/engine/internal/domain/keypool"
)

type stubProvider struct {
	calls     int32
	failTimes int32
	kind      keypool.ErrorKind
	dims      int
}

func (p *stubProvider) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	n := atomic.AddInt32(&p.calls, 1)
	if n <= p.failTimes {
		return nil, &ProviderError{Kind: p.kind, Err: errors.New("boom")}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, p.dims)
	}
	return out, nil
}

func newTestPool() *keypool.Pool {
	return keypool.New([]keypool.KeySpec{{ID: "a", Secret: "sa", RPM: 6000}, {ID: "b", Secret: "sb", RPM: 6000}}, keypool.Config{}, nil)
}

func TestEmbedBatchSucceedsAfterTransientRetry(t *testing.T) {
	provider := &stubProvider{failTimes: 1, kind: keypool.ErrorKindTransient, dims: 4}
	client := New(newTestPool(), provider, Config{CallTimeout: time.Second}, nil)
	vecs, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
}

func TestEmbedBatchRotatesKeyOnLeaked(t *testing.T) {
	provider := &stubProvider{failTimes: 1, kind: keypool.ErrorKindKeyLeaked, dims: 3}
	client := New(newTestPool(), provider, Config{CallTimeout: time.Second}, nil)
	vecs, err := client.EmbedBatch(context.Background(), []string{"only"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
}

func TestEmbedBatchRejectsOversizeBatch(t *testing.T) {
	client := New(newTestPool(), &stubProvider{dims: 1}, Config{BatchSizeLimit: 1}, nil)
	_, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
}
