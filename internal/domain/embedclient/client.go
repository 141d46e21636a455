// Package embedclient implements the Embedding Client (C2): synchronous
// single and batched text-to-vector calls that retry with backoff and
// rotate through the Key Pool on leaked-credential errors, grounded on the
// teacher's internal/infra/uploadask/embedder/chatgpt.go batching shape.
package embedclient

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/docqa/engine/internal/domain/docqa"
	"github.com/docqa/engine/internal/domain/keypool"
	apperrors "github.com/docqa/engine/pkg/errors"
)

const ErrCodeEmbeddingUnavailable = "EMBEDDING_UNAVAILABLE"

// Provider performs the raw outbound embedding call for a batch of texts
// using the given credential, returning one vector per text in order.
type Provider interface {
	Embed(ctx context.Context, credential string, texts []string) ([][]float32, error)
}

// ProviderError lets a Provider classify the failure so the client knows
// whether to retry, rotate keys, or give up.
type ProviderError struct {
	Kind keypool.ErrorKind
	Err  error
}

func (e *ProviderError) Error() string { return e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

// Config bounds batching behavior per spec §6.
type Config struct {
	BatchSizeLimit int
	AcquireTimeout time.Duration
	CallTimeout    time.Duration
}

// Client is the Embedding Client (C2).
type Client struct {
	pool     *keypool.Pool
	provider Provider
	cfg      Config
	logger   *slog.Logger
}

// New constructs an embedding client backed by the given Key Pool and provider.
func New(pool *keypool.Pool, provider Provider, cfg Config, logger *slog.Logger) *Client {
	if cfg.BatchSizeLimit <= 0 {
		cfg.BatchSizeLimit = 100
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{pool: pool, provider: provider, cfg: cfg, logger: logger.With("component", "embedclient")}
}

// EmbedOne embeds a single text. Equivalent to EmbedBatch([text])[0].
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds up to BatchSizeLimit texts, preserving order. On
// transient failures it retries with jittered exponential backoff (waits of
// about 1s then 2s; max 3 attempts). On a key-leaked failure it rotates to a
// different key, up to one full rotation through the pool.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > c.cfg.BatchSizeLimit {
		return nil, apperrors.Wrap("EMBEDDING_BATCH_TOO_LARGE", "batch exceeds configured limit", nil)
	}

	rotations := len(c.pool.Stats())
	if rotations < 1 {
		rotations = 1
	}
	var lastErr error
	for rotation := 0; rotation < rotations; rotation++ {
		lease, err := c.pool.Acquire(ctx, c.cfg.AcquireTimeout)
		if err != nil {
			return nil, apperrors.Wrap(ErrCodeEmbeddingUnavailable, "no credential available", err)
		}

		vecs, err := c.embedWithRetry(ctx, lease.Credential, texts)
		if err == nil {
			c.pool.ReportSuccess(lease)
			return vecs, nil
		}

		var provErr *ProviderError
		if asProviderError(err, &provErr) && provErr.Kind == keypool.ErrorKindKeyLeaked {
			c.pool.ReportFailure(lease, keypool.ErrorKindKeyLeaked)
			lastErr = err
			continue
		}
		c.pool.ReportFailure(lease, keypool.ErrorKindTransient)
		lastErr = err
		break
	}
	return nil, apperrors.Wrap(ErrCodeEmbeddingUnavailable, "embedding failed after retries and key rotation", lastErr)
}

func (c *Client) embedWithRetry(ctx context.Context, credential string, texts []string) ([][]float32, error) {
	var result [][]float32
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Second),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(4*time.Second),
	), 2) // 3 total attempts: initial + 2 retries

	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
		vecs, err := c.provider.Embed(callCtx, credential, texts)
		if err != nil {
			var provErr *ProviderError
			if asProviderError(err, &provErr) {
				if provErr.Kind == keypool.ErrorKindKeyLeaked {
					return backoff.Permanent(err)
				}
				return err // transient/rate_limit: retry
			}
			return err
		}
		result = vecs
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

var _ docqa.Embedder = (*Client)(nil)

func asProviderError(err error, target **ProviderError) bool {
	for err != nil {
		if pe, ok := err.(*ProviderError); ok {
			*target = pe
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
