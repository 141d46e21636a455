// Package openai adapts github.com/openai/openai-go/v2 to the embedding
// and chat client contracts (C1/C2 and the query orchestrator's outbound
// LLM collaborator), replacing the teacher's hand-rolled chatgpt.Client
// with the ecosystem SDK.
package openai

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/docqa/engine/internal/domain/chatclient"
	"github.com/docqa/engine/internal/domain/docqa"
	"github.com/docqa/engine/internal/domain/embedclient"
	"github.com/docqa/engine/internal/domain/keypool"
)

// Config carries the model names and base URL; per-call credentials come
// from the Key Pool lease, not from this config.
type Config struct {
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
}

// Client implements both embedclient.Provider and chatclient.Provider over a
// single OpenAI-compatible base client. The credential passed to each call
// overrides the client's API key via a per-request option, so one Client
// can serve every leased key in the pool without reconstruction.
type Client struct {
	base sdk.Client
	cfg  Config
}

// New constructs the provider. apiKey seeds the base client; it is
// overridden per call by the Key Pool's leased credential.
func New(apiKey string, cfg Config) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{base: sdk.NewClient(opts...), cfg: cfg}
}

// Embed implements embedclient.Provider.
func (c *Client) Embed(ctx context.Context, credential string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.base.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Model: c.cfg.EmbeddingModel,
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}, option.WithAPIKey(credential))
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: embed: expected %d vectors, got %d", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// Generate implements chatclient.Provider, overriding the base client's API
// key with the leased credential the same way Embed does. ExternalSearchEnabled
// requests the web_search_preview tool per spec §4.8 as an extra request
// field; if the provider rejects it, the call fails with that error and is
// not retried without the tool.
func (c *Client) Generate(ctx context.Context, credential string, req docqa.GenerateRequest) (string, error) {
	params := sdk.ChatCompletionNewParams{
		Model: c.cfg.ChatModel,
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(req.SystemInstruction),
			sdk.UserMessage(req.Prompt),
		},
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(req.MaxOutputTokens))
	}
	if req.ExternalSearchEnabled {
		params.SetExtraFields(map[string]any{
			"tools": []map[string]any{{"type": "web_search_preview"}},
		})
	}

	comp, err := c.base.Chat.Completions.New(ctx, params, option.WithAPIKey(credential))
	if err != nil {
		return "", classifyError(err)
	}
	if len(comp.Choices) == 0 {
		return "", fmt.Errorf("openai: generate: no choices returned")
	}
	return comp.Choices[0].Message.Content, nil
}

// classifyError maps the SDK's HTTP status onto a keypool.ErrorKind so the
// embedding client knows whether to retry, rotate keys, or trip the breaker.
func classifyError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return &embedclient.ProviderError{Kind: keypool.ErrorKindKeyLeaked, Err: err}
		case 429:
			return &embedclient.ProviderError{Kind: keypool.ErrorKindRateLimit, Err: err}
		case 500, 502, 503, 504:
			return &embedclient.ProviderError{Kind: keypool.ErrorKindTransient, Err: err}
		}
	}
	return fmt.Errorf("openai: %w", err)
}

var (
	_ chatclient.Provider  = (*Client)(nil)
	_ embedclient.Provider = (*Client)(nil)
)
