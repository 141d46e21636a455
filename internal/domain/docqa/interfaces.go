package docqa

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// DocumentFilter restricts a retrieval or listing operation to a subset of
// documents and/or tiers.
type DocumentFilter struct {
	DocumentIDs []uuid.UUID
	Tiers       []DocumentTier
	CrossChat   bool
}

// DocumentRepository persists document rows.
type DocumentRepository interface {
	Create(ctx context.Context, doc Document) error
	Get(ctx context.Context, id uuid.UUID) (Document, bool, error)
	ListByChat(ctx context.Context, chatID uuid.UUID) ([]Document, error)
	AdvanceTier(ctx context.Context, id uuid.UUID, tier DocumentTier, errMsg *string) error
	SetChunkCounts(ctx context.Context, id uuid.UUID, totalChunks, chunksEmbedded int) error
	MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error
	AnyUnready(ctx context.Context, chatID uuid.UUID) (bool, error)
	DeleteByChat(ctx context.Context, chatID uuid.UUID) error
}

// ChunkStore is the Chunk Store (C3): persistent storage for chunks with
// vector and full-text search.
type ChunkStore interface {
	InsertBatch(ctx context.Context, chunks []Chunk) error
	UpdateEmbedding(ctx context.Context, chunkID uuid.UUID, vec []float32) error
	FindPendingEmbeddings(ctx context.Context, limit int) ([]Chunk, error)
	CountPendingEmbeddings(ctx context.Context, documentID uuid.UUID) (int, error)
	KeywordSearch(ctx context.Context, chatID uuid.UUID, filter DocumentFilter, query string, limit int) ([]ScoredChunk, error)
	VectorSearch(ctx context.Context, chatID uuid.UUID, filter DocumentFilter, vec []float32, limit int) ([]ScoredChunk, error)
	DeleteByDocument(ctx context.Context, documentID uuid.UUID) error
	DeleteByChat(ctx context.Context, chatID uuid.UUID) error
}

// JobQueue is the Job Queue (C4): durable FIFO-with-priority queue with
// lease-based locking.
type JobQueue interface {
	Enqueue(ctx context.Context, documentID uuid.UUID, priority int) (uuid.UUID, error)
	LeaseNext(ctx context.Context, workerID string, leaseDuration time.Duration, batch int) ([]ProcessingJob, error)
	RenewLease(ctx context.Context, jobID uuid.UUID, workerID string, duration time.Duration) error
	Complete(ctx context.Context, jobID uuid.UUID) error
	Fail(ctx context.Context, jobID uuid.UUID, errMsg string) error
	ReleaseStale(ctx context.Context) (int, error)
}

// HistoryRepository persists query history entries (append-only).
type HistoryRepository interface {
	Append(ctx context.Context, entry QueryHistoryEntry) error
	RecentAnswers(ctx context.Context, chatID uuid.UUID, limit int) ([]QueryHistoryEntry, error)
}

// CacheRepository is the Query Cache's (C9) persistence layer.
type CacheRepository interface {
	LookupExact(ctx context.Context, chatID uuid.UUID, hash string) (CacheEntry, bool, error)
	LookupSemantic(ctx context.Context, chatID uuid.UUID, vec []float32, threshold float64) (CacheEntry, bool, error)
	Upsert(ctx context.Context, entry CacheEntry) error
	IncrementHit(ctx context.Context, id uuid.UUID) error
	EvictExpired(ctx context.Context) (int, error)
}

// FileStore is the outbound file store collaborator (§6): the core only
// reads file bytes; writes happen in the upload layer, out of scope here.
type FileStore interface {
	Get(ctx context.Context, documentID uuid.UUID) (io.ReadCloser, error)
}

// Embedder is the Embedding Client (C2) contract.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatClient is the outbound LLM provider contract (§6).
type ChatClient interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// GenerateRequest carries the parameters of one LLM generation call.
type GenerateRequest struct {
	Prompt               string
	SystemInstruction    string
	ExternalSearchEnabled bool
	MaxOutputTokens      int
}

// ExtractedUnit is one page/slide worth of extracted text.
type ExtractedUnit struct {
	PageNumber   *int
	SlideNumber  *int
	SectionTitle *string
	Text         string
}

// Extractor turns raw file bytes into an ordered sequence of extracted units.
type Extractor interface {
	Extract(ctx context.Context, fileType string, r io.Reader) ([]ExtractedUnit, error)
	Supports(fileType string) bool
}
