// Package docqa holds the core entities and collaborator interfaces of the
// document question-answering engine: documents, chunks, processing jobs,
// query history, cache entries and per-key usage records.
package docqa

import (
	"time"

	"github.com/google/uuid"
)

// DocumentTier tracks a document's progress through the ingestion pipeline.
type DocumentTier string

const (
	TierPending    DocumentTier = "pending"
	TierExtracting DocumentTier = "extracting"
	TierChunked    DocumentTier = "chunked"
	TierEmbedding  DocumentTier = "embedding"
	TierCompleted  DocumentTier = "completed"
	TierFailed     DocumentTier = "failed"
)

// Document is a logical upload owned by a chat.
type Document struct {
	ID                   uuid.UUID    `json:"id"`
	UserID               int64        `json:"userId"`
	ChatID                uuid.UUID    `json:"chatId"`
	Name                 string       `json:"name"`
	SizeBytes            int64        `json:"sizeBytes"`
	FileType             string       `json:"fileType"`
	Tier                 DocumentTier `json:"tier"`
	TotalChunks          int          `json:"totalChunks"`
	ChunksEmbedded       int          `json:"chunksEmbedded"`
	ErrorMessage         *string      `json:"errorMessage,omitempty"`
	CreatedAt            time.Time    `json:"createdAt"`
	ProcessingCompletedAt *time.Time  `json:"processingCompletedAt,omitempty"`
}

// Ready reports whether the document is done ingesting (embedded or
// permanently failed) — i.e. it is not still mid-pipeline.
func (d Document) Ready() bool {
	return d.Tier == TierCompleted || d.Tier == TierFailed
}

// Chunk is one unit of retrievable text belonging to a document.
type Chunk struct {
	ID           uuid.UUID `json:"id"`
	DocumentID   uuid.UUID `json:"documentId"`
	UserID       int64     `json:"userId"`
	ChatID       uuid.UUID `json:"chatId"`
	ChunkIndex   int       `json:"chunkIndex"`
	Content      string    `json:"content"`
	ContentHash  string    `json:"contentHash"`
	PageNumber   *int      `json:"pageNumber,omitempty"`
	SlideNumber  *int      `json:"slideNumber,omitempty"`
	SectionTitle *string   `json:"sectionTitle,omitempty"`
	TokenCount   int       `json:"tokenCount"`
	Embedding    []float32 `json:"embedding,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SectionKey groups a chunk for diversity-filter purposes.
func (c Chunk) SectionKey() string {
	if c.SectionTitle == nil {
		return c.DocumentID.String() + "|"
	}
	return c.DocumentID.String() + "|" + *c.SectionTitle
}

// JobStatus tracks a processing job's lifecycle.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ProcessingJob is a durable ingestion task record with lease-based locking.
type ProcessingJob struct {
	ID           uuid.UUID  `json:"id"`
	DocumentID   uuid.UUID  `json:"documentId"`
	Status       JobStatus  `json:"status"`
	Priority     int        `json:"priority"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"maxAttempts"`
	LastError    *string    `json:"lastError,omitempty"`
	LockedBy     *string    `json:"lockedBy,omitempty"`
	LockedUntil  *time.Time `json:"lockedUntil,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// SourceRef is a (document, locator) pair surfaced to the caller as provenance.
type SourceRef struct {
	DocumentID uuid.UUID `json:"documentId"`
	FileName   string    `json:"fileName"`
	Page       *int      `json:"page,omitempty"`
	Slide      *int      `json:"slide,omitempty"`
}

// QueryHistoryEntry is an append-only record of one answered query.
type QueryHistoryEntry struct {
	ID               uuid.UUID   `json:"id"`
	UserID           int64       `json:"userId"`
	ChatID           uuid.UUID   `json:"chatId"`
	Question         string      `json:"question"`
	QuestionEmbedding []float32  `json:"-"`
	Answer           string      `json:"answer"`
	Sources          []SourceRef `json:"sources"`
	RetrievalMs      int64       `json:"retrievalMs"`
	GenerationMs     int64       `json:"generationMs"`
	TotalMs          int64       `json:"totalMs"`
	ChunksRetrieved  int         `json:"chunksRetrieved"`
	LLMCallsUsed     int         `json:"llmCallsUsed"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// CacheEntry is a cached answer for a (chat, query) pair.
type CacheEntry struct {
	ID          uuid.UUID `json:"id"`
	UserID      int64     `json:"userId"`
	ChatID      uuid.UUID `json:"chatId"`
	QueryText   string    `json:"queryText"`
	QueryHash   string    `json:"queryHash"`
	Embedding   []float32 `json:"-"`
	Response    string    `json:"response"`
	Sources     []SourceRef `json:"sources"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	HitCount    int       `json:"hitCount"`
}

// KeyUsageRecord is an observability-only per-key, per-minute-bucket snapshot.
// It is not authoritative across process restarts; live rate-limiting state
// lives in the in-process Key Pool (see internal/domain/keypool).
type KeyUsageRecord struct {
	KeyID             string    `json:"keyId"`
	BucketMinute      time.Time `json:"bucketMinute"`
	RequestCount      int       `json:"requestCount"`
	TokenCount        int       `json:"tokenCount"`
	DailyRequestCount int       `json:"dailyRequestCount"`
	LastSuccess       *time.Time `json:"lastSuccess,omitempty"`
	LastFailure       *time.Time `json:"lastFailure,omitempty"`
	ConsecutiveFails  int        `json:"consecutiveFails"`
}

// ScoredChunk bundles a chunk with a ranking score from a sub-search or fusion step.
type ScoredChunk struct {
	Chunk    Chunk
	Document Document
	Score    float64
}
