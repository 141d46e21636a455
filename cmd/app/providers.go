package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/docqa/engine/internal/domain/chatclient"
	"github.com/docqa/engine/internal/domain/docqa"
	"github.com/docqa/engine/internal/domain/embedclient"
	"github.com/docqa/engine/internal/domain/ingestworker"
	"github.com/docqa/engine/internal/domain/keypool"
	"github.com/docqa/engine/internal/domain/querycache"
	"github.com/docqa/engine/internal/domain/queryengine"
	"github.com/docqa/engine/internal/domain/retrieval"
	"github.com/docqa/engine/internal/domain/sweeper"
	"github.com/docqa/engine/internal/infra/config"
	doccachevalkey "github.com/docqa/engine/internal/infra/doccache/valkey"
	"github.com/docqa/engine/internal/infra/docstore/blob"
	"github.com/docqa/engine/internal/infra/docstore/postgres"
	"github.com/docqa/engine/internal/infra/extract"
	"github.com/docqa/engine/internal/infra/migrate"
	"github.com/docqa/engine/internal/infra/provider/openai"
)

// providePostgresPool opens the primary pgxpool used by every docstore
// repository (C3/C4/C9 plus the document table). Migrations run against
// this same DSN, via their own dedicated database/sql connection, before
// the pool is handed to any repository.
func providePostgresPool(cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	runner, err := migrate.NewRunner(cfg.Postgres.DSN, migrate.Config{Timeout: time.Minute})
	if err != nil {
		return nil, err
	}
	defer runner.Close()
	if err := runner.Up(context.Background()); err != nil {
		return nil, err
	}
	version, dirty, err := runner.Version()
	if err != nil {
		return nil, err
	}
	logger.Info("schema migrations applied", "version", version, "dirty", dirty)

	return postgres.NewPool(context.Background(), cfg.Postgres.DSN, logger)
}

func provideDocumentRepository(pool *pgxpool.Pool) docqa.DocumentRepository {
	return postgres.NewDocumentRepository(pool)
}

func provideChunkStore(pool *pgxpool.Pool) docqa.ChunkStore {
	return postgres.NewChunkStore(pool)
}

func provideJobQueue(pool *pgxpool.Pool) docqa.JobQueue {
	return postgres.NewJobQueue(pool)
}

func provideHistoryRepository(pool *pgxpool.Pool) docqa.HistoryRepository {
	return postgres.NewHistoryRepository(pool)
}

func provideCacheRepository(pool *pgxpool.Pool, cfg *config.Config, logger *slog.Logger) docqa.CacheRepository {
	base := postgres.NewCacheRepository(pool)
	if !cfg.Cache.Redis.Enabled {
		return base
	}
	addr := strings.TrimSpace(cfg.Cache.Redis.Addr)
	if addr == "" {
		logger.Warn("cache.redis.enabled set but no address configured, skipping valkey front tier")
		return base
	}
	client, err := valkeygo.NewClient(valkeygo.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		logger.Error("failed to create valkey client, falling back to postgres-only cache", "error", err)
		return base
	}
	logger.Info("query cache valkey front tier enabled", "addr", addr)
	return doccachevalkey.New(base, client, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
}

func provideBlobStore(cfg *config.Config, logger *slog.Logger) (*blob.Store, error) {
	return blob.New(cfg.Blob.Endpoint, cfg.Blob.AccessKey, cfg.Blob.SecretKey, cfg.Blob.Bucket, cfg.Blob.Region, cfg.Blob.UseSSL, logger)
}

func provideFileStore(store *blob.Store) docqa.FileStore {
	return store
}

func provideExtractor() docqa.Extractor {
	return extract.NewDispatcher()
}

// provideKeyPool builds the Key Pool (C1) from the configured provider
// credentials, each with its own token bucket and circuit breaker.
func provideKeyPool(cfg *config.Config, logger *slog.Logger) *keypool.Pool {
	specs := make([]keypool.KeySpec, 0, len(cfg.KeyPool.Keys))
	for _, k := range cfg.KeyPool.Keys {
		specs = append(specs, keypool.KeySpec{ID: k.ID, Secret: k.APIKey, RPM: k.RPM})
	}
	return keypool.New(specs, keypool.Config{
		CooldownSeconds:             cfg.KeyPool.CooldownSeconds,
		ConsecutiveFailureThreshold: cfg.KeyPool.ConsecutiveFailureThreshold,
	}, logger)
}

// provideOpenAIClient builds one SDK-backed client shared by the embedding
// client (C2) and the query orchestrator's chat collaborator. The first
// configured key seeds the base client; every call overrides it with the
// Key Pool's leased credential.
func provideOpenAIClient(cfg *config.Config) *openai.Client {
	seed := ""
	if len(cfg.KeyPool.Keys) > 0 {
		seed = cfg.KeyPool.Keys[0].APIKey
	}
	return openai.New(seed, openai.Config{
		BaseURL:        cfg.Embedding.BaseURL,
		EmbeddingModel: cfg.Embedding.Model,
		ChatModel:      cfg.LLM.Model,
	})
}

// provideChatClient threads the Key Pool through every LLM call the same way
// provideEmbedClient does for embeddings, using the LLM's own (shorter)
// acquire timeout per spec §6.
func provideChatClient(pool *keypool.Pool, client *openai.Client, cfg *config.Config, logger *slog.Logger) docqa.ChatClient {
	return chatclient.New(pool, client, chatclient.Config{
		AcquireTimeout: time.Duration(cfg.KeyPool.AcquireTimeoutSeconds) * time.Second,
		CallTimeout:    time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	}, logger)
}

func provideEmbedClient(pool *keypool.Pool, client *openai.Client, cfg *config.Config, logger *slog.Logger) *embedclient.Client {
	return embedclient.New(pool, client, embedclient.Config{
		BatchSizeLimit: cfg.Embedding.BatchSize,
		AcquireTimeout: time.Duration(cfg.KeyPool.BackgroundAcquireTimeoutMin) * time.Minute,
		CallTimeout:    time.Duration(cfg.Embedding.CallTimeoutS) * time.Second,
	}, logger)
}

func provideEmbedder(client *embedclient.Client) docqa.Embedder {
	return client
}

func provideIngestPool(jobs docqa.JobQueue, documents docqa.DocumentRepository, chunks docqa.ChunkStore, files docqa.FileStore, extractor docqa.Extractor, cfg *config.Config, logger *slog.Logger) *ingestworker.Pool {
	return ingestworker.New(jobs, documents, chunks, files, extractor, ingestworker.Config{
		WorkerPoolSize: cfg.Ingestion.WorkerPoolSize,
		LeaseDuration:  time.Duration(cfg.Ingestion.LeaseSeconds) * time.Second,
		MaxAttempts:    cfg.Ingestion.MaxAttempts,
		PollInterval:   time.Duration(cfg.Ingestion.PollSeconds) * time.Second,
	}, logger)
}

func provideSweeper(chunks docqa.ChunkStore, documents docqa.DocumentRepository, embedder docqa.Embedder, cfg *config.Config, logger *slog.Logger) *sweeper.Sweeper {
	return sweeper.New(chunks, documents, embedder, sweeper.Config{
		Interval:   time.Duration(cfg.Sweeper.IntervalMS) * time.Millisecond,
		MaxPerRun:  cfg.Sweeper.MaxChunksPerRun,
		BatchSize:  cfg.Sweeper.BatchSize,
		BatchSleep: time.Duration(cfg.Sweeper.BatchSleepMS) * time.Millisecond,
	}, logger)
}

func provideRetriever(chunks docqa.ChunkStore, cfg *config.Config, logger *slog.Logger) *retrieval.Retriever {
	return retrieval.New(chunks, retrieval.Config{
		RRFK:                 cfg.Retrieval.RRFK,
		MaxChunksPerDocument: cfg.Retrieval.MaxChunksPerDocument,
		MaxChunksPerSection:  cfg.Retrieval.MaxChunksPerSection,
		MinScore:             cfg.Retrieval.MinScore,
	}, logger)
}

func provideQueryCache(repo docqa.CacheRepository, cfg *config.Config, logger *slog.Logger) *querycache.Cache {
	return querycache.New(repo, querycache.Config{
		TTL:               time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		SemanticThreshold: cfg.Cache.SemanticThreshold,
		LRUSize:           cfg.Cache.LRUSize,
	}, logger)
}

func provideOrchestrator(documents docqa.DocumentRepository, retriever *retrieval.Retriever, embedder docqa.Embedder, chat docqa.ChatClient, cache *querycache.Cache, history docqa.HistoryRepository, cfg *config.Config, logger *slog.Logger) *queryengine.Orchestrator {
	return queryengine.New(documents, retriever, embedder, chat, cache, history, queryengine.Config{
		MaxChunks:            cfg.Retrieval.MaxChunks,
		TargetChunks:         cfg.Retrieval.TargetChunks,
		SingleCallTokenLimit: cfg.LLM.SingleCallTokenLimit,
		MapBatchTokenLimit:   cfg.LLM.MapBatchTokenLimit,
		MaxParallelMap:       cfg.LLM.MaxParallelMap,
		MaxReduceIterations:  cfg.LLM.MaxReduceIterations,
		MaxOutputTokens:      cfg.LLM.MaxOutputTokens,
		LLMTimeout:           time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	}, logger)
}
