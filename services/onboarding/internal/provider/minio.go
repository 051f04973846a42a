package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

type objectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// MinioDocumentStore writes each document to <bucket>/<uploadID>/<field><ext>.
type MinioDocumentStore struct {
	client objectClient
	bucket string
	logger *slog.Logger
}

func NewMinioDocumentStore(ctx context.Context, cfg MinioConfig, logger *slog.Logger) (*MinioDocumentStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("document bucket created", "bucket", cfg.Bucket)
	}

	return &MinioDocumentStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (s *MinioDocumentStore) StoreBundle(ctx context.Context, uploadID string, docs []Document) error {
	stored := make([]string, 0, len(docs))
	for _, doc := range docs {
		key := ObjectKey(uploadID, doc)
		if err := s.put(ctx, key, doc); err != nil {
			s.rollback(stored)
			return fmt.Errorf("store %s: %w", doc.Field, err)
		}
		stored = append(stored, key)
	}
	return nil
}

func (s *MinioDocumentStore) put(ctx context.Context, key string, doc Document) error {
	if doc.Open == nil {
		return errors.New("document has no content")
	}
	r, err := doc.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	_, err = s.client.PutObject(ctx, s.bucket, key, r, doc.Size, minio.PutObjectOptions{
		ContentType:  doc.ContentType,
		UserMetadata: map[string]string{"original-name": doc.Name},
	})
	return err
}

// rollback runs on a fresh context; the request context may already be
// cancelled when a put fails.
func (s *MinioDocumentStore) rollback(keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			s.logger.Error("document rollback failed", "bucket", s.bucket, "key", key, "error", err)
		}
	}
}

func ObjectKey(uploadID string, doc Document) string {
	return path.Join(uploadID, doc.Field+strings.ToLower(path.Ext(doc.Name)))
}
