package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds the object store connection settings.
type S3Config struct {
	Endpoint  string
	AccessKey string
	Secret    string
	Bucket    string
	PublicURL string
	UseSSL    bool
}

// S3Store implements ObjectStore against any S3-compatible endpoint.
type S3Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewS3Store creates an object store client. The bucket must already exist;
// provisioning is an operator concern.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if strings.HasPrefix(endpoint, "https://") {
		endpoint = strings.TrimPrefix(endpoint, "https://")
		useSSL = true
	} else if strings.HasPrefix(endpoint, "http://") {
		endpoint = strings.TrimPrefix(endpoint, "http://")
		useSSL = false
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.Secret, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	return &S3Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

// Put uploads an object and returns its public URL.
func (s *S3Store) Put(ctx context.Context, filename, contentType string, body io.Reader, size int64) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, filename, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", filename, err)
	}
	return s.PublicURL(filename), nil
}

// PublicURL builds the public read URL from the configured template.
func (s *S3Store) PublicURL(filename string) string {
	return s.publicURL + "/" + filename
}

// Ping verifies the bucket is reachable.
func (s *S3Store) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("object store unreachable: %w", err)
	}
	if !exists {
		return fmt.Errorf("object store bucket %q does not exist", s.bucket)
	}
	return nil
}
