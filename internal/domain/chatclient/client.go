// Package chatclient implements the outbound LLM collaborator's Key Pool
// integration, mirroring internal/domain/embedclient's lease/call/report
// shape: acquire a credential from the Key Pool, call the provider with it,
// classify the outcome, and always report back to the pool.
package chatclient

import (
	"context"
	"log/slog"
	"time"

	"github.com/docqa/engine/internal/domain/docqa"
	"github.com/docqa/engine/internal/domain/embedclient"
	"github.com/docqa/engine/internal/domain/keypool"
	apperrors "github.com/docqa/engine/pkg/errors"
)

const ErrCodeGenerationUnavailable = "GENERATION_UNAVAILABLE"

// Provider performs the raw outbound generation call using the given
// credential.
type Provider interface {
	Generate(ctx context.Context, credential string, req docqa.GenerateRequest) (string, error)
}

// Config bounds key leasing and call duration per spec §6: a short acquire
// timeout for interactive LLM calls, distinct from the embedding client's
// longer background acquire timeout.
type Config struct {
	AcquireTimeout time.Duration
	CallTimeout    time.Duration
}

// Client is the Key-Pool-aware docqa.ChatClient used by the query
// orchestrator (C8).
type Client struct {
	pool     *keypool.Pool
	provider Provider
	cfg      Config
	logger   *slog.Logger
}

// New constructs a chat client backed by the given Key Pool and provider.
func New(pool *keypool.Pool, provider Provider, cfg Config, logger *slog.Logger) *Client {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{pool: pool, provider: provider, cfg: cfg, logger: logger.With("component", "chatclient")}
}

// Generate implements docqa.ChatClient, leasing a credential from the Key
// Pool for the call and reporting the outcome back to it so unhealthy keys
// get cooled down and healthy ones stay eligible.
func (c *Client) Generate(ctx context.Context, req docqa.GenerateRequest) (string, error) {
	lease, err := c.pool.Acquire(ctx, c.cfg.AcquireTimeout)
	if err != nil {
		return "", apperrors.Wrap(ErrCodeGenerationUnavailable, "no credential available", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	text, err := c.provider.Generate(callCtx, lease.Credential, req)
	if err != nil {
		kind := keypool.ErrorKindTransient
		var provErr *embedclient.ProviderError
		if asProviderError(err, &provErr) {
			kind = provErr.Kind
		}
		c.pool.ReportFailure(lease, kind)
		c.logger.Warn("generation failed", "error", err, "key_id", lease.ID)
		return "", apperrors.Wrap(ErrCodeGenerationUnavailable, "generation failed", err)
	}

	c.pool.ReportSuccess(lease)
	return text, nil
}

var _ docqa.ChatClient = (*Client)(nil)

func asProviderError(err error, target **embedclient.ProviderError) bool {
	for err != nil {
		if pe, ok := err.(*embedclient.ProviderError); ok {
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
