// Package queryengine implements the Query Orchestrator (C8): cache lookup,
// readiness gating, rule-based query analysis, hybrid retrieval, context
// assembly and single-call/map-reduce generation, grounded on the teacher's
// uploadask.Service.Ask pipeline shape (cache check, memory retrieval, LLM
// call, history append) generalized to documents instead of chat memories.
package queryengine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docqa/engine/internal/domain/docqa"
	"github.com/docqa/engine/internal/domain/querycache"
	"github.com/docqa/engine/internal/domain/retrieval"
	apperrors "github.com/docqa/engine/pkg/errors"
)

const (
	ErrCodeQueryRetrievalFailure  = "QUERY_RETRIEVAL_FAILURE"
	ErrCodeQueryGenerationFailure = "QUERY_GENERATION_FAILURE"
)

// Config mirrors spec §6's llm.* and retrieval.* configuration surface.
type Config struct {
	MaxChunks            int
	TargetChunks         int
	SingleCallTokenLimit int
	MapBatchTokenLimit   int
	MaxParallelMap       int
	MaxReduceIterations  int
	MaxOutputTokens      int
	LLMTimeout           time.Duration
	ReserveTokens        int
}

func (c *Config) setDefaults() {
	if c.MaxChunks <= 0 {
		c.MaxChunks = 100
	}
	if c.TargetChunks <= 0 {
		c.TargetChunks = 30
	}
	if c.SingleCallTokenLimit <= 0 {
		c.SingleCallTokenLimit = 100000
	}
	if c.MapBatchTokenLimit <= 0 {
		c.MapBatchTokenLimit = 25000
	}
	if c.MaxParallelMap <= 0 {
		c.MaxParallelMap = 5
	}
	if c.MaxReduceIterations <= 0 {
		c.MaxReduceIterations = 3
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 8192
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 60 * time.Second
	}
	if c.ReserveTokens <= 0 {
		c.ReserveTokens = 1000
	}
}

// Request is one inbound question per spec §6's "answer" ingress.
type Request struct {
	UserID      int64
	ChatID      uuid.UUID
	Question    string
	Documents   []uuid.UUID
	CrossChat   bool
	ChatHistory []docqa.QueryHistoryEntry
}

// Response is the answer pipeline's result.
type Response struct {
	Answer                string
	Sources               []docqa.SourceRef
	CacheHit              bool
	StillProcessing       bool
	ExternalSearchEnabled bool
	ChunksRetrieved       int
	LLMCallsUsed          int
	RetrievalMs           int64
	GenerationMs          int64
	TotalMs               int64
}

// Orchestrator is the Query Orchestrator (C8).
type Orchestrator struct {
	documents  docqa.DocumentRepository
	retriever  *retrieval.Retriever
	embedder   docqa.Embedder
	chat       docqa.ChatClient
	cache      *querycache.Cache
	history    docqa.HistoryRepository
	cfg        Config
	counter    *tokenCounter
	logger     *slog.Logger
}

// New constructs an Orchestrator wiring together every C8 collaborator.
func New(documents docqa.DocumentRepository, retriever *retrieval.Retriever, embedder docqa.Embedder, chat docqa.ChatClient, cache *querycache.Cache, history docqa.HistoryRepository, cfg Config, logger *slog.Logger) *Orchestrator {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		documents: documents, retriever: retriever, embedder: embedder, chat: chat,
		cache: cache, history: history, cfg: cfg, counter: newTokenCounter(),
		logger: logger.With("component", "queryengine"),
	}
}

// Answer runs the full pipeline: cache check, readiness gate, analysis,
// retrieval, context assembly and generation, then best-effort cache and
// history writes.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	queryVec, embedErr := o.embedder.EmbedOne(ctx, req.Question)
	if embedErr != nil {
		o.logger.Warn("question embedding failed, continuing keyword-only", "error", embedErr)
		queryVec = nil
	}

	// Cache lookup happens before the readiness gate: a semantic cache hit
	// may legitimately answer a question about documents still embedding.
	if cached, found, err := o.cache.Lookup(ctx, req.ChatID, req.Question, queryVec); err == nil && found {
		_ = o.cache.IncrementHit(ctx, cached.ID)
		return Response{
			Answer: cached.Response, Sources: cached.Sources, CacheHit: true,
			TotalMs: time.Since(start).Milliseconds(),
		}, nil
	}

	if unready, err := o.documents.AnyUnready(ctx, req.ChatID); err == nil && unready {
		return Response{
			Answer: "Your documents are still processing. Please try again shortly.",
			StillProcessing: true, TotalMs: time.Since(start).Milliseconds(),
		}, nil
	}

	analysis := Analyze(req.Question)

	filter := docqa.DocumentFilter{DocumentIDs: req.Documents, CrossChat: req.CrossChat}
	if analysis.Type == QueryFollowUp && len(req.ChatHistory) > 0 {
		if ids := followUpDocumentIDs(req.ChatHistory); len(ids) > 0 {
			filter.DocumentIDs = ids
			filter.CrossChat = false
		}
	}

	searchQuery := req.Question
	if len(analysis.Keywords) > 0 {
		searchQuery = req.Question + " " + strings.Join(analysis.Keywords, " ")
	}

	retrievalStart := time.Now()
	retrieved, err := o.retriever.Search(ctx, req.ChatID, filter, searchQuery, queryVec, o.cfg.MaxChunks)
	retrievalMs := time.Since(retrievalStart).Milliseconds()
	if err != nil {
		return Response{}, apperrors.Wrap(ErrCodeQueryRetrievalFailure, "retrieval failed", err)
	}

	docNames := o.documentNames(ctx, retrieved)
	budget := o.cfg.SingleCallTokenLimit - o.cfg.ReserveTokens
	assembled := assembleContext(retrieved, docNames, o.cfg.TargetChunks, budget, o.counter)

	externalSearch := len(retrieved) == 0 && len(req.ChatHistory) == 0

	genStart := time.Now()
	answer, llmCalls, err := o.generate(ctx, req, assembled, externalSearch)
	generationMs := time.Since(genStart).Milliseconds()
	if err != nil {
		return Response{}, apperrors.Wrap(ErrCodeQueryGenerationFailure, "generation failed", err)
	}

	resp := Response{
		Answer: answer, Sources: assembled.Sources, ChunksRetrieved: len(assembled.Used),
		LLMCallsUsed: llmCalls, ExternalSearchEnabled: externalSearch,
		RetrievalMs: retrievalMs, GenerationMs: generationMs, TotalMs: time.Since(start).Milliseconds(),
	}

	if err := o.cache.Store(ctx, docqa.CacheEntry{
		ID: uuid.New(), UserID: req.UserID, ChatID: req.ChatID, QueryText: req.Question,
		Embedding: queryVec, Response: answer, Sources: resp.Sources,
	}); err != nil {
		o.logger.Warn("cache store failed", "error", err)
	}

	if err := o.history.Append(ctx, docqa.QueryHistoryEntry{
		ID: uuid.New(), UserID: req.UserID, ChatID: req.ChatID, Question: req.Question,
		QuestionEmbedding: queryVec, Answer: answer, Sources: resp.Sources,
		RetrievalMs: retrievalMs, GenerationMs: generationMs, TotalMs: resp.TotalMs,
		ChunksRetrieved: resp.ChunksRetrieved, LLMCallsUsed: llmCalls, CreatedAt: time.Now().UTC(),
	}); err != nil {
		o.logger.Warn("history append failed", "error", err)
	}

	return resp, nil
}

func (o *Orchestrator) documentNames(ctx context.Context, chunks []docqa.ScoredChunk) map[string]string {
	names := map[string]string{}
	seen := map[string]bool{}
	for _, sc := range chunks {
		id := sc.Chunk.DocumentID.String()
		if seen[id] {
			continue
		}
		seen[id] = true
		if doc, found, err := o.documents.Get(ctx, sc.Chunk.DocumentID); err == nil && found {
			names[id] = doc.Name
		}
	}
	return names
}

// generate picks single-call or map-reduce generation based on the assembled
// context's token size relative to the single-call limit.
func (o *Orchestrator) generate(ctx context.Context, req Request, assembled assembledContext, externalSearch bool) (string, int, error) {
	if assembled.Tokens <= o.cfg.SingleCallTokenLimit-o.cfg.ReserveTokens {
		answer, err := o.callLLM(ctx, buildPrompt(req.Question, assembled.Text), externalSearch)
		if err != nil {
			return "", 0, err
		}
		return answer, 1, nil
	}
	return o.mapReduce(ctx, req, assembled, externalSearch)
}

func (o *Orchestrator) callLLM(ctx context.Context, prompt string, externalSearch bool) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.LLMTimeout)
	defer cancel()
	return o.chat.Generate(callCtx, docqa.GenerateRequest{
		Prompt:                prompt,
		SystemInstruction:     systemInstruction,
		ExternalSearchEnabled: externalSearch,
		MaxOutputTokens:       o.cfg.MaxOutputTokens,
	})
}

const systemInstruction = "Answer the question using only the provided sources. Cite sources by their bracketed index."

func buildPrompt(question, context string) string {
	return "Context:\n" + context + "\nQuestion: " + question
}

// mapReduce batches the assembled chunks by document under the map-batch
// token limit, maps each batch to a partial answer with bounded parallelism,
// then folds the partial answers down to one final answer over at most
// MaxReduceIterations rounds.
func (o *Orchestrator) mapReduce(ctx context.Context, req Request, assembled assembledContext, externalSearch bool) (string, int, error) {
	batches := batchByDocument(assembled.Used, o.cfg.MapBatchTokenLimit, o.counter)

	partials := make([]string, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxParallelMap)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			text := renderBatch(batch)
			answer, err := o.callLLM(gctx, buildPrompt(req.Question, text), false)
			if err != nil {
				return err
			}
			partials[i] = answer
			return nil
		})
	}
	calls := len(batches)
	if err := g.Wait(); err != nil {
		return "", calls, err
	}

	for round := 0; round < o.cfg.MaxReduceIterations && len(partials) > 1; round++ {
		condensed, condenseCalls, err := o.condense(ctx, req.Question, partials)
		if err != nil {
			return "", calls, err
		}
		partials = condensed
		calls += condenseCalls
	}

	joined := strings.Join(partials, "\n\n")
	if o.counter.count(joined) > o.cfg.SingleCallTokenLimit {
		return "", calls, apperrors.Wrap(ErrCodeQueryGenerationFailure,
			"map-reduce could not condense partial answers below the single-call token limit", nil)
	}

	final, err := o.callLLM(ctx, buildPrompt(req.Question, joined), externalSearch)
	if err != nil {
		return "", calls, err
	}
	return final, calls + 1, nil
}

func batchByDocument(chunks []docqa.ScoredChunk, tokenLimit int, counter *tokenCounter) [][]docqa.ScoredChunk {
	byDoc := map[string][]docqa.ScoredChunk{}
	var order []string
	for _, sc := range chunks {
		id := sc.Chunk.DocumentID.String()
		if _, ok := byDoc[id]; !ok {
			order = append(order, id)
		}
		byDoc[id] = append(byDoc[id], sc)
	}

	var batches [][]docqa.ScoredChunk
	var current []docqa.ScoredChunk
	currentTokens := 0
	for _, id := range order {
		for _, sc := range byDoc[id] {
			t := counter.count(sc.Chunk.Content)
			if currentTokens+t > tokenLimit && len(current) > 0 {
				batches = append(batches, current)
				current = nil
				currentTokens = 0
			}
			current = append(current, sc)
			currentTokens += t
		}
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func renderBatch(batch []docqa.ScoredChunk) string {
	var b strings.Builder
	for i, sc := range batch {
		b.WriteString(sourceMarker(i+1, "", sc.Chunk))
		b.WriteString("\n")
		b.WriteString(sc.Chunk.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

const condenseInstruction = "Combine these two partial answers into one coherent partial answer, preserving all source citations."

// condense folds adjacent partial answers pairwise, condensing each pair
// with its own LLM call in parallel (bounded by MaxParallelMap) and
// carrying an odd one out forward unchanged, halving the list size each
// round.
func (o *Orchestrator) condense(ctx context.Context, question string, partials []string) ([]string, int, error) {
	type pair struct {
		idx  int
		a, b string
	}
	var pairs []pair
	out := make([]string, (len(partials)+1)/2)
	for i, j := 0, 0; i < len(partials); i, j = i+2, j+1 {
		if i+1 < len(partials) {
			pairs = append(pairs, pair{idx: j, a: partials[i], b: partials[i+1]})
		} else {
			out[j] = partials[i]
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxParallelMap)
	for _, p := range pairs {
		p := p
		g.Go(func() error {
			prompt := buildPrompt(question, p.a+"\n\n"+p.b)
			callCtx, cancel := context.WithTimeout(gctx, o.cfg.LLMTimeout)
			defer cancel()
			answer, err := o.chat.Generate(callCtx, docqa.GenerateRequest{
				Prompt:            prompt,
				SystemInstruction: condenseInstruction,
				MaxOutputTokens:   o.cfg.MaxOutputTokens,
			})
			if err != nil {
				return err
			}
			out[p.idx] = answer
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, len(pairs), err
	}
	return out, len(pairs), nil
}
