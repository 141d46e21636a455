package http

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/engine/internal/domain/docqa"
	"github.com/docqa/engine/internal/infra/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDocumentRepository struct {
	docs map[uuid.UUID]docqa.Document
}

func newFakeDocumentRepository() *fakeDocumentRepository {
	return &fakeDocumentRepository{docs: make(map[uuid.UUID]docqa.Document)}
}

func (f *fakeDocumentRepository) Create(ctx context.Context, doc docqa.Document) error {
	f.docs[doc.ID] = doc
	return nil
}
func (f *fakeDocumentRepository) Get(ctx context.Context, id uuid.UUID) (docqa.Document, bool, error) {
	doc, ok := f.docs[id]
	return doc, ok, nil
}
func (f *fakeDocumentRepository) ListByChat(ctx context.Context, chatID uuid.UUID) ([]docqa.Document, error) {
	return nil, nil
}
func (f *fakeDocumentRepository) AdvanceTier(ctx context.Context, id uuid.UUID, tier docqa.DocumentTier, errMsg *string) error {
	return nil
}
func (f *fakeDocumentRepository) SetChunkCounts(ctx context.Context, id uuid.UUID, totalChunks, chunksEmbedded int) error {
	return nil
}
func (f *fakeDocumentRepository) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	return nil
}
func (f *fakeDocumentRepository) AnyUnready(ctx context.Context, chatID uuid.UUID) (bool, error) {
	return false, nil
}
func (f *fakeDocumentRepository) DeleteByChat(ctx context.Context, chatID uuid.UUID) error {
	return nil
}

type fakeJobQueue struct{}

func (fakeJobQueue) Enqueue(ctx context.Context, documentID uuid.UUID, priority int) (uuid.UUID, error) {
	return uuid.New(), nil
}
func (fakeJobQueue) LeaseNext(ctx context.Context, workerID string, leaseDuration time.Duration, batch int) ([]docqa.ProcessingJob, error) {
	return nil, nil
}
func (fakeJobQueue) RenewLease(ctx context.Context, jobID uuid.UUID, workerID string, duration time.Duration) error {
	return nil
}
func (fakeJobQueue) Complete(ctx context.Context, jobID uuid.UUID) error           { return nil }
func (fakeJobQueue) Fail(ctx context.Context, jobID uuid.UUID, errMsg string) error { return nil }
func (fakeJobQueue) ReleaseStale(ctx context.Context) (int, error)                 { return 0, nil }

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{
			Address:      ":0",
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
	}
}

func newTestHandler(documents docqa.DocumentRepository, jobs docqa.JobQueue) *Handler {
	return &Handler{
		documents: documents,
		jobs:      jobs,
		logger:    testLogger(),
	}
}

func TestRouter_GetDocumentNotFound(t *testing.T) {
	handler := newTestHandler(newFakeDocumentRepository(), fakeJobQueue{})
	server := NewRouter(testConfig(), handler)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+uuid.New().String(), nil)
	server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_GetDocumentInvalidID(t *testing.T) {
	handler := newTestHandler(newFakeDocumentRepository(), fakeJobQueue{})
	server := NewRouter(testConfig(), handler)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/not-a-uuid", nil)
	server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_GetDocumentFound(t *testing.T) {
	repo := newFakeDocumentRepository()
	doc := docqa.Document{ID: uuid.New(), Name: "report.pdf", Tier: docqa.TierReady}
	require.NoError(t, repo.Create(context.Background(), doc))

	handler := newTestHandler(repo, fakeJobQueue{})
	server := NewRouter(testConfig(), handler)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+doc.ID.String(), nil)
	server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_EnqueueDocumentNotFound(t *testing.T) {
	handler := newTestHandler(newFakeDocumentRepository(), fakeJobQueue{})
	server := NewRouter(testConfig(), handler)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+uuid.New().String()+"/enqueue", bytes.NewBufferString(`{"priority":1}`))
	req.Header.Set("Content-Type", "application/json")
	server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_EnqueueDocumentSuccess(t *testing.T) {
	repo := newFakeDocumentRepository()
	doc := docqa.Document{ID: uuid.New(), Tier: docqa.TierPending}
	require.NoError(t, repo.Create(context.Background(), doc))

	handler := newTestHandler(repo, fakeJobQueue{})
	server := NewRouter(testConfig(), handler)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+doc.ID.String()+"/enqueue", bytes.NewBufferString(`{"priority":5}`))
	req.Header.Set("Content-Type", "application/json")
	server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRouter_QueryInvalidJSON(t *testing.T) {
	handler := newTestHandler(newFakeDocumentRepository(), fakeJobQueue{})
	server := NewRouter(testConfig(), handler)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewBufferString(`not json`))
	req.Header.Set("Content-Type", "application/json")
	server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_QueryInvalidChatID(t *testing.T) {
	handler := newTestHandler(newFakeDocumentRepository(), fakeJobQueue{})
	server := NewRouter(testConfig(), handler)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewBufferString(`{"chatId":"not-a-uuid","question":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	handler := newTestHandler(newFakeDocumentRepository(), fakeJobQueue{})
	server := NewRouter(testConfig(), handler)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/query", nil)
	req.Header.Set("Origin", "https://example.com")
	server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_UnknownRoute(t *testing.T) {
	handler := newTestHandler(newFakeDocumentRepository(), fakeJobQueue{})
	server := NewRouter(testConfig(), handler)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/does-not-exist", nil)
	server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIPRateLimiterBasic(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 1}
	limiter := newIPRateLimiter(cfg)

	assert.True(t, limiter.allow("1.2.3.4"))
	assert.False(t, limiter.allow("1.2.3.4"))
}
