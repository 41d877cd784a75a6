package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PutObjectAPI is the subset of the S3 client the uploader needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader writes artifacts to an S3 bucket.
type S3Uploader struct {
	client     PutObjectAPI
	bucket     string
	region     string
	publicBase string
	logger     *slog.Logger
}

// NewS3Uploader wraps an existing client. When publicBase is empty, URLs use
// the bucket's virtual-hosted endpoint.
func NewS3Uploader(client PutObjectAPI, bucket, region, publicBase string, logger *slog.Logger) *S3Uploader {
	return &S3Uploader{
		client:     client,
		bucket:     bucket,
		region:     region,
		publicBase: publicBase,
		logger:     logger,
	}
}

// NewS3UploaderFromEnv builds the client from the default AWS credential chain.
func NewS3UploaderFromEnv(ctx context.Context, bucket, region, publicBase string, logger *slog.Logger) (*S3Uploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 uploader: bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3Uploader(s3.NewFromConfig(cfg), bucket, region, publicBase, logger), nil
}

// Upload puts body at key. Failures are returned as-is; there is no retry.
func (u *S3Uploader) Upload(ctx context.Context, key, contentType string, body []byte) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", uploadError(key, err)
	}
	u.logger.Debug("artifact uploaded", "bucket", u.bucket, "key", key, "bytes", len(body))
	return u.URL(key), nil
}

// URL returns the public URL for key.
func (u *S3Uploader) URL(key string) string {
	if u.publicBase != "" {
		return joinURL(u.publicBase, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, key)
}
