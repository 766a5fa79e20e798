// Package media stores featured images and returns opaque references to them.
package media

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/TobiSchelling/contentforge/internal/config"
)

// Store persists an object and returns the reference saved on the article.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// New picks S3 storage when an endpoint and bucket are configured and the
// local directory otherwise.
func New(cfg config.Media, localDir string) (Store, error) {
	if cfg.S3.Enabled() {
		return NewS3Store(cfg.S3)
	}
	return NewLocalStore(localDir, cfg.PublicURL)
}

// S3Store writes objects to an S3-compatible bucket.
type S3Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewS3Store creates the minio client for the configured endpoint.
func NewS3Store(cfg config.S3) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(os.Getenv(cfg.AccessKeyEnv), os.Getenv(cfg.SecretKeyEnv), ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return &S3Store{client: client, bucket: cfg.Bucket, publicURL: strings.TrimRight(cfg.PublicURL, "/")}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}
	if s.publicURL != "" {
		return s.publicURL + "/" + key, nil
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// LocalStore writes objects under a directory served at publicURL.
type LocalStore struct {
	dir       string
	publicURL string
}

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir, publicURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media directory: %w", err)
	}
	return &LocalStore{dir: dir, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

func (l *LocalStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	clean := filepath.Clean("/" + key)[1:]
	if clean == "" {
		return "", fmt.Errorf("empty media key")
	}
	path := filepath.Join(l.dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating media directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing media file: %w", err)
	}
	return l.publicURL + "/" + filepath.ToSlash(clean), nil
}

// Extension returns a file extension for a content type, defaulting to .bin.
func Extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
