// Package ingestworker implements the Ingestion Worker Pool (C5): a bounded
// pool of goroutines leasing jobs off the Job Queue, extracting and chunking
// documents, grounded on the teacher's worker-pool shape in
// internal/infra/uploadask/queue (lease/claim loop) generalized to the
// extract-then-chunk pipeline this domain needs.
package ingestworker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/docqa/engine/internal/domain/docqa"
	apperrors "github.com/docqa/engine/pkg/errors"
)

const ErrCodeFileNotFound = "INGEST_FILE_NOT_FOUND"

// Config controls pool sizing and leasing, mirroring spec §6's ingestion.*
// configuration surface.
type Config struct {
	WorkerPoolSize int
	LeaseDuration  time.Duration
	MaxAttempts    int
	PollInterval   time.Duration
	BatchSize      int
}

func (c *Config) setDefaults() {
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = 10
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
}

// Pool is the Ingestion Worker Pool (C5).
type Pool struct {
	jobs      docqa.JobQueue
	documents docqa.DocumentRepository
	chunks    docqa.ChunkStore
	files     docqa.FileStore
	extractor docqa.Extractor
	cfg       Config
	workerID  string
	logger    *slog.Logger
}

// New constructs an ingestion worker pool.
func New(jobs docqa.JobQueue, documents docqa.DocumentRepository, chunks docqa.ChunkStore, files docqa.FileStore, extractor docqa.Extractor, cfg Config, logger *slog.Logger) *Pool {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		jobs: jobs, documents: documents, chunks: chunks, files: files, extractor: extractor,
		cfg: cfg, workerID: "ingest-" + uuid.NewString(), logger: logger.With("component", "ingestworker"),
	}
}

// Run starts the scheduler loop: every PollInterval it leases up to
// BatchSize jobs and fans them out to a bounded set of goroutines, until ctx
// is cancelled.
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	sem := make(chan struct{}, p.cfg.WorkerPoolSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, err := p.jobs.LeaseNext(ctx, p.workerID, p.cfg.LeaseDuration, p.cfg.BatchSize)
			if err != nil {
				p.logger.Error("lease_next failed", "error", err)
				continue
			}
			for _, job := range jobs {
				job := job
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
				go func() {
					defer func() { <-sem }()
					p.processJob(ctx, job)
				}()
			}
		}
	}
}

// RunLeaseReclaimer periodically reverts jobs whose lease expired without a
// Complete/Fail call — a worker that crashed or was killed mid-job — back to
// QUEUED so another worker picks them up, per spec §4.4's crash-recovery
// requirement of sweeping at least every half lease duration.
func (p *Pool) RunLeaseReclaimer(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = p.cfg.LeaseDuration / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.jobs.ReleaseStale(ctx)
			if err != nil {
				p.logger.Error("release_stale failed", "error", err)
				continue
			}
			if n > 0 {
				p.logger.Warn("reclaimed stale job leases", "count", n)
			}
		}
	}
}

// processJob runs the extract-chunk-persist pipeline for one job. Any
// failure is recorded against the job in an isolated call, separate from
// whatever partial pipeline work happened, so a panic or error mid-pipeline
// never leaves the job stuck in PROCESSING past its lease.
func (p *Pool) processJob(ctx context.Context, job docqa.ProcessingJob) {
	defer func() {
		if r := recover(); r != nil {
			p.failJob(ctx, job, fmt.Sprintf("panic: %v", r), job.Attempts >= job.MaxAttempts)
		}
	}()

	if err := p.runPipeline(ctx, job); err != nil {
		if isDeterministic(err) {
			p.failJob(ctx, job, err.Error(), true)
			return
		}
		finalAttempt := job.Attempts >= job.MaxAttempts
		if finalAttempt {
			p.logger.Error("ingestion pipeline failed, retries exhausted", "job_id", job.ID, "error", err)
		} else {
			p.logger.Warn("ingestion pipeline failed, will retry", "job_id", job.ID, "error", err)
		}
		p.failJob(ctx, job, err.Error(), finalAttempt)
		return
	}

	if err := p.jobs.Complete(ctx, job.ID); err != nil {
		p.logger.Error("failed to mark job complete", "job_id", job.ID, "error", err)
	}
}

// failJob records the failure against the job row and, when the failure is
// permanent — a deterministic error, or the retry budget is exhausted — also
// advances the document to FAILED so AnyUnready stops blocking queries on it
// forever. A retryable failure leaves the document's tier alone since the
// job may still succeed on its next attempt.
func (p *Pool) failJob(ctx context.Context, job docqa.ProcessingJob, reason string, terminal bool) {
	if err := p.jobs.Fail(ctx, job.ID, reason); err != nil {
		p.logger.Error("failed to record job failure", "job_id", job.ID, "error", err)
	}
	if !terminal {
		return
	}
	if err := p.documents.AdvanceTier(ctx, job.DocumentID, docqa.TierFailed, &reason); err != nil {
		p.logger.Error("failed to mark document failed", "document_id", job.DocumentID, "error", err)
	}
}

type deterministicError struct{ err error }

func (e deterministicError) Error() string { return e.err.Error() }
func (e deterministicError) Unwrap() error { return e.err }

func isDeterministic(err error) bool {
	_, ok := err.(deterministicError)
	return ok
}

// runPipeline loads file bytes, extracts page/slide units, chunks them and
// persists the result, advancing the document's tier.
func (p *Pool) runPipeline(ctx context.Context, job docqa.ProcessingJob) error {
	doc, found, err := p.documents.Get(ctx, job.DocumentID)
	if err != nil {
		return err
	}
	if !found {
		return deterministicError{apperrors.Wrap(ErrCodeFileNotFound, "document not found", nil)}
	}

	if err := p.documents.AdvanceTier(ctx, doc.ID, docqa.TierExtracting, nil); err != nil {
		return err
	}

	raw, err := p.loadFileWithRetry(ctx, doc.ID)
	if err != nil {
		return deterministicError{apperrors.Wrap(ErrCodeFileNotFound, "file unavailable after retries", err)}
	}
	defer raw.Close()

	units, err := p.extractor.Extract(ctx, doc.FileType, raw)
	if err != nil {
		return deterministicError{err}
	}

	chunks := chunkUnits(doc, units)
	if len(chunks) > 0 {
		if err := p.chunks.InsertBatch(ctx, chunks); err != nil {
			return err
		}
	}

	if err := p.documents.SetChunkCounts(ctx, doc.ID, len(chunks), 0); err != nil {
		return err
	}

	if len(chunks) == 0 {
		return p.documents.MarkCompleted(ctx, doc.ID, time.Now().UTC())
	}
	return p.documents.AdvanceTier(ctx, doc.ID, docqa.TierChunked, nil)
}

// loadFileWithRetry tries the file-store read up to 5 times, waiting 1s, 2s,
// 3s and 4s between attempts (linear backoff), before giving up.
func (p *Pool) loadFileWithRetry(ctx context.Context, documentID uuid.UUID) (io.ReadCloser, error) {
	var reader io.ReadCloser
	op := func() error {
		r, err := p.files.Get(ctx, documentID)
		if err != nil {
			return err
		}
		reader = r
		return nil
	}
	boff := backoff.WithMaxRetries(&linearBackoff{base: time.Second}, 4)
	if err := backoff.Retry(op, backoff.WithContext(boff, ctx)); err != nil {
		return nil, err
	}
	return reader, nil
}

// linearBackoff produces 1s, 2s, 3s, 4s, 5s... intervals, matching the
// file-load retry schedule of spec §4.5.
type linearBackoff struct {
	base  time.Duration
	tries int
}

func (l *linearBackoff) NextBackOff() time.Duration {
	l.tries++
	return l.base * time.Duration(l.tries)
}

func (l *linearBackoff) Reset() { l.tries = 0 }

// chunkUnits turns extracted units into persistable chunks, one chunk per
// unit (page or slide), stripping control characters and computing the
// content hash and approximate token count.
func chunkUnits(doc docqa.Document, units []docqa.ExtractedUnit) []docqa.Chunk {
	out := make([]docqa.Chunk, 0, len(units))
	now := time.Now().UTC()
	for i, u := range units {
		content := sanitize(u.Text)
		if content == "" {
			continue
		}
		sum := sha256.Sum256([]byte(content))
		out = append(out, docqa.Chunk{
			ID:           uuid.New(),
			DocumentID:   doc.ID,
			UserID:       doc.UserID,
			ChatID:       doc.ChatID,
			ChunkIndex:   i,
			Content:      content,
			ContentHash:  hex.EncodeToString(sum[:]),
			PageNumber:   u.PageNumber,
			SlideNumber:  u.SlideNumber,
			SectionTitle: u.SectionTitle,
			TokenCount:   (len(content) + 3) / 4,
			CreatedAt:    now,
		})
	}
	return out
}

// sanitize strips control characters and normalizes whitespace.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
