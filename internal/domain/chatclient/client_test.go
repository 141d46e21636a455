package chatclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docqa/engine/internal/domain/docqa"
	"github.com/docqa/engine/internal/domain/embedclient"
	"github.com/docqa/engine/internal/domain/keypool"
)

type stubProvider struct {
	calls int
	err   error
	reply string
}

func (p *stubProvider) Generate(_ context.Context, credential string, _ docqa.GenerateRequest) (string, error) {
	p.calls++
	if credential == "" {
		return "", errors.New("missing credential")
	}
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func newTestPool() *keypool.Pool {
	return keypool.New([]keypool.KeySpec{{ID: "a", Secret: "sa", RPM: 6000}}, keypool.Config{}, nil)
}

func TestGenerateThreadsLeasedCredential(t *testing.T) {
	provider := &stubProvider{reply: "hello"}
	client := New(newTestPool(), provider, Config{CallTimeout: time.Second}, nil)
	out, err := client.Generate(context.Background(), docqa.GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "hello", out)
	require.Equal(t, 1, provider.calls)
}

func TestGenerateReportsFailureToPool(t *testing.T) {
	provider := &stubProvider{err: &embedclient.ProviderError{Kind: keypool.ErrorKindRateLimit, Err: errors.New("429")}}
	pool := newTestPool()
	client := New(pool, provider, Config{CallTimeout: time.Second}, nil)
	_, err := client.Generate(context.Background(), docqa.GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	require.NotNil(t, pool.Stats()[0].LastFailure, "the failure should be recorded against the leased key")
}
