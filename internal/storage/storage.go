// Package storage puts generated report documents in S3-compatible object
// storage and fetches them back for email attachment. It works against AWS
// S3 proper or any compatible endpoint (MinIO, R2) via a custom endpoint
// with path-style addressing.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"reportflow/internal/types"
)

// ObjectStorage is the narrow interface the workers need: put a rendered
// document, get it back for attachment.
type ObjectStorage interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ObjectKey builds the storage key for a report generated at the given
// instant: reports/{reportID}/{unixMillis}.pdf. Millisecond timestamps keep
// successive generations of one report distinct.
func ObjectKey(reportID string, at time.Time) string {
	return "reports/" + reportID + "/" + strconv.FormatInt(at.UnixMilli(), 10) + ".pdf"
}

// Config holds the connection settings for the object store.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      types.SecretString
	ForcePathStyle bool
}

// S3Storage implements ObjectStorage on top of the AWS SDK.
type S3Storage struct {
	uploader *s3manager.Uploader
	client   *s3.S3
	bucket   string
}

var _ ObjectStorage = (*S3Storage)(nil)

// NewS3Storage creates an S3-backed store. An empty Endpoint targets AWS S3
// proper; a non-empty one targets a compatible service.
func NewS3Storage(cfg Config) (*S3Storage, error) {
	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey.Unmask(), "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("NewS3Storage: create session: %w", err)
	}

	return &S3Storage{
		uploader: s3manager.NewUploader(sess),
		client:   s3.New(sess),
		bucket:   cfg.Bucket,
	}, nil
}

// Put uploads a document under the given key.
func (s *S3Storage) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStorage,
			fmt.Sprintf("failed to upload object %s", key), err)
	}
	return nil
}

// Get downloads a document by key.
func (s *S3Storage) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStorage,
			fmt.Sprintf("failed to fetch object %s", key), err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStorage,
			fmt.Sprintf("failed to read object %s", key), err)
	}
	return body, nil
}
