// Package blob stores raw transcript artifacts in object storage so the
// durable rows stay lean. Artifact storage is supplementary: callers degrade
// gracefully when it is not configured.
package blob

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Store struct {
	client *minio.Client
	bucket string
}

// New connects to MinIO and ensures the bucket exists.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to minio: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Store{client: client, bucket: bucket}, nil
}

// Put stores one artifact under objectKey, replacing any previous version.
func (s *Store) Put(ctx context.Context, objectKey, text string) error {
	reader := strings.NewReader(text)
	_, err := s.client.PutObject(ctx, s.bucket, objectKey, reader, int64(len(text)), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return fmt.Errorf("put artifact %s: %w", objectKey, err)
	}
	return nil
}

// Get reads one artifact back.
func (s *Store) Get(ctx context.Context, objectKey string) (string, error) {
	object, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("get artifact %s: %w", objectKey, err)
	}
	defer object.Close()

	contents, err := io.ReadAll(object)
	if err != nil {
		return "", fmt.Errorf("read artifact %s: %w", objectKey, err)
	}
	return string(contents), nil
}

// Delete removes one artifact.
func (s *Store) Delete(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete artifact %s: %w", objectKey, err)
	}
	return nil
}
