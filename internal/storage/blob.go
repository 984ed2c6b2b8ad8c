package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// BlobConfig holds the blob-store collaborator's settings.
type BlobConfig struct {
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	// Endpoint overrides the default AWS endpoint, e.g. for MinIO in tests.
	Endpoint string
}

// BlobStore uploads named byte streams to an S3-compatible bucket under the
// uploads/ prefix and constructs retrieval URLs for them. Downloads are a
// URL-construction operation only; no existence check is made.
type BlobStore struct {
	client *minio.Client
	bucket string
	region string
	logger *logrus.Logger
}

func NewBlobStore(cfg BlobConfig, logger *logrus.Logger) (*BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob store bucket name is not configured")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: true,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob store client: %w", err)
	}

	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		logger: logger,
	}, nil
}

// Upload stores the stream as uploads/{filename} and returns its retrieval
// URL. Size may be -1 when unknown; the client then streams in parts.
func (s *BlobStore) Upload(ctx context.Context, filename string, r io.Reader, size int64) (string, error) {
	objectName := "uploads/" + filename
	_, err := s.client.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", objectName, err)
	}

	url := s.ObjectURL(filename)
	s.logger.WithFields(logrus.Fields{
		"object": objectName,
		"url":    url,
	}).Info("Uploaded file to blob store")
	return url, nil
}

// ObjectURL constructs the public retrieval URL for an uploaded file.
func (s *BlobStore) ObjectURL(filename string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/uploads/%s", s.bucket, s.region, filename)
}
