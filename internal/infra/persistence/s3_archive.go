package persistence

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	app_errors "github.com/spounge-ai/auditchain/internal/errors"
)

// S3API is the slice of the S3 client the archive uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Archive writes ledger snapshots to a bucket under a fixed prefix.
type S3Archive struct {
	client     S3API
	bucketName string
	prefix     string
	logger     *slog.Logger
}

// NewS3Archive builds the archive from an AWS config. A non-empty endpoint
// switches to path-style addressing for S3-compatible stores.
func NewS3Archive(cfg aws.Config, bucketName, prefix, endpoint string, logger *slog.Logger) *S3Archive {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3ArchiveWithClient(client, bucketName, prefix, logger)
}

func NewS3ArchiveWithClient(client S3API, bucketName, prefix string, logger *slog.Logger) *S3Archive {
	return &S3Archive{client: client, bucketName: bucketName, prefix: prefix, logger: logger}
}

// ObjectKey is the bucket key for name: name joined under the prefix.
func (s *S3Archive) ObjectKey(name string) string {
	return path.Join(s.prefix, name)
}

// Put stores body at ObjectKey(name). Objects are written with server-side encryption.
func (s *S3Archive) Put(ctx context.Context, name string, body []byte, contentType string) error {
	objectKey := s.ObjectKey(name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               &s.bucketName,
		Key:                  &objectKey,
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String(contentType),
		ContentLength:        aws.Int64(int64(len(body))),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to put archive object %s: %w", app_errors.ErrExternal, objectKey, err)
	}
	s.logger.DebugContext(ctx, "archive object written", "bucket", s.bucketName, "key", objectKey, "bytes", len(body))
	return nil
}

func (s *S3Archive) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &s.bucketName,
	})
	if err != nil {
		s.logger.Error("S3 health check failed", "error", err)
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}
