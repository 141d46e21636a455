package http

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/docqa/engine/internal/domain/docqa"
	"github.com/docqa/engine/internal/domain/queryengine"
	"github.com/docqa/engine/internal/infra/docstore/blob"
	apperrors "github.com/docqa/engine/pkg/errors"
)

// Handler wires the HTTP transport to the two inbound operations this
// ingress exercises: enqueueing a document for ingestion and answering a
// question. Authentication/session routing is out of scope here, so the
// caller supplies userId/chatId directly in the request body.
type Handler struct {
	documents    docqa.DocumentRepository
	jobs         docqa.JobQueue
	files        *blob.Store
	orchestrator *queryengine.Orchestrator
	logger       *slog.Logger
}

// NewHandler constructs the root HTTP handler.
func NewHandler(documents docqa.DocumentRepository, jobs docqa.JobQueue, files *blob.Store, orchestrator *queryengine.Orchestrator, logger *slog.Logger) *Handler {
	return &Handler{
		documents:    documents,
		jobs:         jobs,
		files:        files,
		orchestrator: orchestrator,
		logger:       logger.With("component", "http.handler"),
	}
}

// UploadDocument is the upload convenience endpoint: it makes a document's
// bytes durable and creates its row, then calls through to enqueue_document
// (spec §6) so the ingestion worker pool picks it up.
func (h *Handler) UploadDocument(c *gin.Context) {
	userID, chatID, ok := h.identity(c)
	if !ok {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "file is required", err))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "failed to read upload", err))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "upload_failed", "failed to read file", err))
		return
	}

	doc := docqa.Document{
		ID:        uuid.New(),
		UserID:    userID,
		ChatID:    chatID,
		Name:      fileHeader.Filename,
		SizeBytes: int64(len(data)),
		FileType:  fileHeader.Header.Get("Content-Type"),
		Tier:      docqa.TierPending,
		CreatedAt: time.Now(),
	}
	if err := h.documents.Create(c.Request.Context(), doc); err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "upload_failed", errMessage(err), err))
		return
	}
	if err := h.files.Put(c.Request.Context(), doc.ID, data, doc.FileType); err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "upload_failed", errMessage(err), err))
		return
	}

	priority := 0
	if raw := c.PostForm("priority"); raw != "" {
		if parsed, err := parseInt(raw); err == nil {
			priority = parsed
		}
	}
	jobID, err := h.jobs.Enqueue(c.Request.Context(), doc.ID, priority)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "enqueue_failed", errMessage(err), err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"documentId": doc.ID, "jobId": jobID})
}

type enqueuePayload struct {
	Priority int `json:"priority"`
}

// EnqueueDocument implements spec §6's enqueue_document(document_id, priority).
func (h *Handler) EnqueueDocument(c *gin.Context) {
	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid document id", err))
		return
	}
	var req enqueuePayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
			return
		}
	}
	if _, found, err := h.documents.Get(c.Request.Context(), documentID); err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "fetch_failed", errMessage(err), err))
		return
	} else if !found {
		abortWithError(c, NewHTTPError(http.StatusNotFound, "not_found", "document not found", nil))
		return
	}
	jobID, err := h.jobs.Enqueue(c.Request.Context(), documentID, req.Priority)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "enqueue_failed", errMessage(err), err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
}

// GetDocument returns a document's ingestion status.
func (h *Handler) GetDocument(c *gin.Context) {
	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid document id", err))
		return
	}
	doc, found, err := h.documents.Get(c.Request.Context(), documentID)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "fetch_failed", errMessage(err), err))
		return
	}
	if !found {
		abortWithError(c, NewHTTPError(http.StatusNotFound, "not_found", "document not found", nil))
		return
	}
	c.JSON(http.StatusOK, doc)
}

type historyTurn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type answerPayload struct {
	UserID      int64         `json:"userId"`
	ChatID      string        `json:"chatId"`
	Question    string        `json:"question"`
	DocumentIDs []string      `json:"documentIds"`
	CrossChat   bool          `json:"crossChat"`
	ChatHistory []historyTurn `json:"chatHistory"`
}

// Answer implements spec §6's answer(user, chat, question, documents?,
// cross_chat?, chat_history?) inbound operation.
func (h *Handler) Answer(c *gin.Context) {
	var req answerPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	chatID, err := uuid.Parse(req.ChatID)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid chatId", err))
		return
	}
	docIDs := make([]uuid.UUID, 0, len(req.DocumentIDs))
	for _, raw := range req.DocumentIDs {
		if raw == "" {
			continue
		}
		parsed, err := uuid.Parse(raw)
		if err != nil {
			abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid documentIds entry", err))
			return
		}
		docIDs = append(docIDs, parsed)
	}
	history := make([]docqa.QueryHistoryEntry, 0, len(req.ChatHistory))
	for _, turn := range req.ChatHistory {
		history = append(history, docqa.QueryHistoryEntry{
			ChatID:   chatID,
			Question: turn.Question,
			Answer:   turn.Answer,
		})
	}

	resp, err := h.orchestrator.Answer(c.Request.Context(), queryengine.Request{
		UserID:      req.UserID,
		ChatID:      chatID,
		Question:    req.Question,
		Documents:   docIDs,
		CrossChat:   req.CrossChat,
		ChatHistory: history,
	})
	if err != nil {
		status := http.StatusInternalServerError
		code := "query_failed"
		switch {
		case apperrors.IsCode(err, queryengine.ErrCodeQueryRetrievalFailure):
			status = http.StatusBadGateway
			code = queryengine.ErrCodeQueryRetrievalFailure
		case apperrors.IsCode(err, queryengine.ErrCodeQueryGenerationFailure):
			status = http.StatusBadGateway
			code = queryengine.ErrCodeQueryGenerationFailure
		}
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) identity(c *gin.Context) (int64, uuid.UUID, bool) {
	userID, err := parseInt64(c.PostForm("userId"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid userId", err))
		return 0, uuid.UUID{}, false
	}
	chatID, err := uuid.Parse(c.PostForm("chatId"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid chatId", err))
		return 0, uuid.UUID{}, false
	}
	return userID, chatID, true
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func parseInt(raw string) (int, error) {
	return strconv.Atoi(raw)
}

func parseInt64(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
