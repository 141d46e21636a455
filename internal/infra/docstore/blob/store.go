// Package blob implements the ingestion pipeline's file store (C5's
// outbound collaborator) over an S3/R2-compatible object store, adapted
// from the teacher's R2 upload storage adapter.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/docqa/engine/internal/domain/docqa"
)

// Store implements docqa.FileStore's Get, plus a Put used by the minimal
// upload ingress to make document bytes durable before a job is enqueued.
type Store struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// New constructs the blob file store.
func New(endpoint, accessKey, secretKey, bucket, region string, useSSL bool, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(sanitizeEndpoint(endpoint), &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       useSSL,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init blob client: %w", err)
	}
	return &Store{client: client, bucket: bucket, logger: logger.With("component", "docstore.blob")}, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err == nil && exists {
		return nil
	}
	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
		return err
	}
	return nil
}

func objectKey(documentID uuid.UUID) string {
	return "documents/" + documentID.String()
}

// Put uploads the document's raw bytes, making them durable before the
// ingestion job is enqueued.
func (s *Store) Put(ctx context.Context, documentID uuid.UUID, data []byte, mimeType string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(documentID), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:      mimeType,
		DisableMultipart: len(data) < 5*1024*1024,
	})
	return err
}

// Get fetches a document's raw bytes for extraction.
func (s *Store) Get(ctx context.Context, documentID uuid.UUID) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(documentID), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	if _, statErr := obj.Stat(); statErr != nil {
		return nil, statErr
	}
	return obj, nil
}

var _ docqa.FileStore = (*Store)(nil)

func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	if idx := strings.Index(raw, "/"); idx >= 0 {
		raw = raw[:idx]
	}
	return raw
}
