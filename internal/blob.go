package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BlobStore pushes completed byte sequences to blob storage and removes them
// again during cleanup. Delete failures are best-effort at every call site.
type BlobStore interface {
	Upload(ctx context.Context, data []byte, ownerID, category, filename string) (string, error)
	Delete(ctx context.Context, location string) error
}

// S3BlobStore stores blobs in a single public bucket. Keys are
// owner/category/name plus a uuid suffix so repeated filenames from the same
// owner never collide.
type S3BlobStore struct {
	client     *s3.Client
	bucket     string
	publicBase string
	log        *zap.Logger
}

func NewS3BlobStore(client *s3.Client, bucket, publicBase string, log *zap.Logger) *S3BlobStore {
	return &S3BlobStore{
		client:     client,
		bucket:     bucket,
		publicBase: strings.TrimSuffix(publicBase, "/"),
		log:        log,
	}
}

func (s *S3BlobStore) Upload(ctx context.Context, data []byte, ownerID, category, filename string) (string, error) {
	key := fmt.Sprintf("%s/%s/%s%s", ownerID, category, filename, uuid.NewString())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", storageError("put", key, err)
	}
	s.log.Info("uploaded blob", zap.String("key", key), zap.Int("size", len(data)))
	return s.publicBase + "/" + key, nil
}

func (s *S3BlobStore) Delete(ctx context.Context, location string) error {
	key := strings.TrimPrefix(location, s.publicBase+"/")
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return storageError("delete", key, err)
	}
	s.log.Info("deleted blob", zap.String("key", key))
	return nil
}

// storageError distinguishes a rejected request (the store answered and said
// no) from an unreachable store.
func storageError(op, key string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s %s: %s: %w", op, key, apiErr.ErrorCode(), ErrStorageRejected)
	}
	return fmt.Errorf("%s %s: %v: %w", op, key, err, ErrStorageUnavailable)
}
