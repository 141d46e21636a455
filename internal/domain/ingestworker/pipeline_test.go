package ingestworker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/docqa/engine/internal/domain/docqa"
)

type fakeDocs struct {
	docs map[uuid.UUID]docqa.Document
}

func (f *fakeDocs) Create(context.Context, docqa.Document) error { return nil }
func (f *fakeDocs) Get(_ context.Context, id uuid.UUID) (docqa.Document, bool, error) {
	d, ok := f.docs[id]
	return d, ok, nil
}
func (f *fakeDocs) ListByChat(context.Context, uuid.UUID) ([]docqa.Document, error) { return nil, nil }
func (f *fakeDocs) AdvanceTier(_ context.Context, id uuid.UUID, tier docqa.DocumentTier, _ *string) error {
	d := f.docs[id]
	d.Tier = tier
	f.docs[id] = d
	return nil
}
func (f *fakeDocs) SetChunkCounts(_ context.Context, id uuid.UUID, total, embedded int) error {
	d := f.docs[id]
	d.TotalChunks = total
	d.ChunksEmbedded = embedded
	f.docs[id] = d
	return nil
}
func (f *fakeDocs) MarkCompleted(_ context.Context, id uuid.UUID, at time.Time) error {
	d := f.docs[id]
	d.Tier = docqa.TierCompleted
	d.ProcessingCompletedAt = &at
	f.docs[id] = d
	return nil
}
func (f *fakeDocs) AnyUnready(context.Context, uuid.UUID) (bool, error) { return false, nil }
func (f *fakeDocs) DeleteByChat(context.Context, uuid.UUID) error       { return nil }

type fakeChunks struct {
	inserted []docqa.Chunk
}

func (f *fakeChunks) InsertBatch(_ context.Context, chunks []docqa.Chunk) error {
	f.inserted = append(f.inserted, chunks...)
	return nil
}
func (f *fakeChunks) UpdateEmbedding(context.Context, uuid.UUID, []float32) error { return nil }
func (f *fakeChunks) FindPendingEmbeddings(context.Context, int) ([]docqa.Chunk, error) {
	return nil, nil
}
func (f *fakeChunks) CountPendingEmbeddings(context.Context, uuid.UUID) (int, error) { return 0, nil }
func (f *fakeChunks) KeywordSearch(context.Context, uuid.UUID, docqa.DocumentFilter, string, int) ([]docqa.ScoredChunk, error) {
	return nil, nil
}
func (f *fakeChunks) VectorSearch(context.Context, uuid.UUID, docqa.DocumentFilter, []float32, int) ([]docqa.ScoredChunk, error) {
	return nil, nil
}
func (f *fakeChunks) DeleteByDocument(context.Context, uuid.UUID) error { return nil }
func (f *fakeChunks) DeleteByChat(context.Context, uuid.UUID) error     { return nil }

type fakeFiles struct {
	data []byte
}

func (f *fakeFiles) Get(context.Context, uuid.UUID) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

type fakeExtractor struct {
	units []docqa.ExtractedUnit
	err   error
}

func (f *fakeExtractor) Extract(context.Context, string, io.Reader) ([]docqa.ExtractedUnit, error) {
	return f.units, f.err
}
func (f *fakeExtractor) Supports(string) bool { return true }

type fakeJobs struct {
	completed []uuid.UUID
	failed    []string
}

func (f *fakeJobs) Enqueue(context.Context, uuid.UUID, int) (uuid.UUID, error) { return uuid.New(), nil }
func (f *fakeJobs) LeaseNext(context.Context, string, time.Duration, int) ([]docqa.ProcessingJob, error) {
	return nil, nil
}
func (f *fakeJobs) RenewLease(context.Context, uuid.UUID, string, time.Duration) error { return nil }
func (f *fakeJobs) Complete(_ context.Context, jobID uuid.UUID) error {
	f.completed = append(f.completed, jobID)
	return nil
}
func (f *fakeJobs) Fail(_ context.Context, _ uuid.UUID, reason string) error {
	f.failed = append(f.failed, reason)
	return nil
}
func (f *fakeJobs) ReleaseStale(context.Context) (int, error) { return 0, nil }

func TestRunPipelinePersistsOneChunkPerUnit(t *testing.T) {
	docID := uuid.New()
	page1, page2 := 1, 2
	docs := &fakeDocs{docs: map[uuid.UUID]docqa.Document{docID: {ID: docID, FileType: "pdf"}}}
	chunks := &fakeChunks{}
	extractor := &fakeExtractor{units: []docqa.ExtractedUnit{
		{PageNumber: &page1, Text: "first page"},
		{PageNumber: &page2, Text: "second page"},
	}}
	pool := New(&fakeJobs{}, docs, chunks, &fakeFiles{data: []byte("irrelevant")}, extractor, Config{}, nil)

	job := docqa.ProcessingJob{ID: uuid.New(), DocumentID: docID}
	require.NoError(t, pool.runPipeline(context.Background(), job))

	require.Len(t, chunks.inserted, 2)
	require.Equal(t, docqa.TierChunked, docs.docs[docID].Tier)
	require.Equal(t, 2, docs.docs[docID].TotalChunks)
}

func TestRunPipelineCompletesEmptyDocumentImmediately(t *testing.T) {
	docID := uuid.New()
	docs := &fakeDocs{docs: map[uuid.UUID]docqa.Document{docID: {ID: docID, FileType: "pdf"}}}
	chunks := &fakeChunks{}
	extractor := &fakeExtractor{units: nil}
	pool := New(&fakeJobs{}, docs, chunks, &fakeFiles{}, extractor, Config{}, nil)

	job := docqa.ProcessingJob{ID: uuid.New(), DocumentID: docID}
	require.NoError(t, pool.runPipeline(context.Background(), job))

	require.Empty(t, chunks.inserted)
	require.Equal(t, docqa.TierCompleted, docs.docs[docID].Tier)
	require.Equal(t, 0, docs.docs[docID].TotalChunks)
}

func TestProcessJobFailsOnMissingDocument(t *testing.T) {
	jobs := &fakeJobs{}
	docs := &fakeDocs{docs: map[uuid.UUID]docqa.Document{}}
	pool := New(jobs, docs, &fakeChunks{}, &fakeFiles{}, &fakeExtractor{}, Config{}, nil)

	docID := uuid.New()
	pool.processJob(context.Background(), docqa.ProcessingJob{ID: uuid.New(), DocumentID: docID})
	require.Len(t, jobs.failed, 1)
	require.Empty(t, jobs.completed)
}

func TestProcessJobDeterministicErrorAdvancesDocumentToFailed(t *testing.T) {
	jobs := &fakeJobs{}
	docID := uuid.New()
	docs := &fakeDocs{docs: map[uuid.UUID]docqa.Document{docID: {ID: docID, FileType: "pdf"}}}
	extractor := &fakeExtractor{err: errors.New("corrupt document")}
	pool := New(jobs, docs, &fakeChunks{}, &fakeFiles{data: []byte("x")}, extractor, Config{}, nil)

	// Attempts well below MaxAttempts: a deterministic error must still fail
	// the document on the first try rather than waiting for retries to run out.
	job := docqa.ProcessingJob{ID: uuid.New(), DocumentID: docID, Attempts: 1, MaxAttempts: 3}
	pool.processJob(context.Background(), job)

	require.Len(t, jobs.failed, 1)
	require.Equal(t, docqa.TierFailed, docs.docs[docID].Tier)
}

type flakyChunks struct {
	fakeChunks
	err error
}

func (f *flakyChunks) InsertBatch(context.Context, []docqa.Chunk) error { return f.err }

func TestProcessJobRetryableFailureLeavesDocumentTierAlone(t *testing.T) {
	jobs := &fakeJobs{}
	docID := uuid.New()
	docs := &fakeDocs{docs: map[uuid.UUID]docqa.Document{docID: {ID: docID, FileType: "pdf", Tier: docqa.TierExtracting}}}
	page1 := 1
	extractor := &fakeExtractor{units: []docqa.ExtractedUnit{{PageNumber: &page1, Text: "first page"}}}
	chunks := &flakyChunks{err: context.DeadlineExceeded}
	pool := New(jobs, docs, chunks, &fakeFiles{data: []byte("x")}, extractor, Config{}, nil)

	job := docqa.ProcessingJob{ID: uuid.New(), DocumentID: docID, Attempts: 1, MaxAttempts: 3}
	pool.processJob(context.Background(), job)

	require.Len(t, jobs.failed, 1)
	require.Equal(t, docqa.TierExtracting, docs.docs[docID].Tier)
}
