// Package sweeper implements the Embedding Backfill Sweeper (C6): a single
// periodic process that finds chunks awaiting embeddings, fills them in
// batches via the Key Pool and Embedding Client, and advances documents to
// COMPLETED once every chunk is embedded. Grounded on the teacher's
// background-worker tick loop in internal/bootstrap (periodic goroutine with
// a done channel) generalized to a re-entrancy-guarded sweep.
package sweeper

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/docqa/engine/internal/domain/docqa"
)

// Config mirrors spec §6's sweeper.* configuration surface.
type Config struct {
	Interval      time.Duration
	MaxPerRun     int
	BatchSize     int
	BatchSleep    time.Duration
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.MaxPerRun <= 0 {
		c.MaxPerRun = 500
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchSleep <= 0 {
		c.BatchSleep = time.Second
	}
}

// Sweeper is the Embedding Backfill Sweeper (C6). Exactly one instance
// should run per deployment; ticks that arrive while a previous tick is
// still running are skipped rather than queued.
type Sweeper struct {
	chunks    docqa.ChunkStore
	documents docqa.DocumentRepository
	embedder  docqa.Embedder
	cfg       Config
	logger    *slog.Logger
	running   atomic.Bool
}

// New constructs a Sweeper.
func New(chunks docqa.ChunkStore, documents docqa.DocumentRepository, embedder docqa.Embedder, cfg Config, logger *slog.Logger) *Sweeper {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{chunks: chunks, documents: documents, embedder: embedder, cfg: cfg, logger: logger.With("component", "sweeper")}
}

// Run ticks every Interval until ctx is cancelled, skipping overlapping
// ticks so only one sweep is ever in flight.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.running.CompareAndSwap(false, true) {
				s.logger.Debug("sweep already in progress, skipping tick")
				continue
			}
			func() {
				defer s.running.Store(false)
				if err := s.Tick(ctx); err != nil {
					s.logger.Error("sweep tick failed", "error", err)
				}
			}()
		}
	}
}

// Tick runs one sweep: find pending-embedding chunks up to MaxPerRun, embed
// them in batches of BatchSize, and recompute each affected document's
// progress. Overwriting an existing embedding on retry is safe and
// idempotent.
func (s *Sweeper) Tick(ctx context.Context) error {
	pending, err := s.chunks.FindPendingEmbeddings(ctx, s.cfg.MaxPerRun)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	affectedDocs := map[uuid.UUID]bool{}
	for start := 0; start < len(pending); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		if err := s.embedBatch(ctx, batch); err != nil {
			s.logger.Error("batch embedding failed, will retry next tick", "error", err, "batch_size", len(batch))
			continue
		}
		for _, c := range batch {
			affectedDocs[c.DocumentID] = true
		}
		if end < len(pending) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.BatchSleep):
			}
		}
	}

	for docID := range affectedDocs {
		if err := s.recomputeProgress(ctx, docID); err != nil {
			s.logger.Error("failed to recompute document progress", "document_id", docID, "error", err)
		}
	}
	return nil
}

func (s *Sweeper) embedBatch(ctx context.Context, chunks []docqa.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	for i, c := range chunks {
		if err := s.chunks.UpdateEmbedding(ctx, c.ID, vecs[i]); err != nil {
			return err
		}
	}
	return nil
}

// recomputeProgress derives chunks_embedded from the remaining pending count
// for the document and advances its tier to COMPLETED once none remain.
func (s *Sweeper) recomputeProgress(ctx context.Context, documentID uuid.UUID) error {
	doc, found, err := s.documents.Get(ctx, documentID)
	if err != nil || !found {
		return err
	}
	pendingCount, err := s.chunks.CountPendingEmbeddings(ctx, documentID)
	if err != nil {
		return err
	}
	embedded := doc.TotalChunks - pendingCount
	if embedded < 0 {
		embedded = 0
	}
	if err := s.documents.SetChunkCounts(ctx, documentID, doc.TotalChunks, embedded); err != nil {
		return err
	}
	if pendingCount == 0 && doc.TotalChunks > 0 {
		return s.documents.MarkCompleted(ctx, documentID, time.Now().UTC())
	}
	return s.documents.AdvanceTier(ctx, documentID, docqa.TierEmbedding, nil)
}
