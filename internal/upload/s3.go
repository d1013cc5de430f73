package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/starford/ansuz/internal/vault"
)

const defaultS3Timeout = 20 * time.Second

// PutObjectAPI is the part of *s3.Client the uploader calls.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures the S3 uploader. Empty credentials fall back to the
// default AWS chain (environment, shared config, instance role).
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	Timeout         time.Duration
}

// S3 uploads assets to an S3 compatible bucket.
type S3 struct {
	client  PutObjectAPI
	bucket  string
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewS3 builds an S3 uploader from cfg using the AWS SDK default config
// loader. A custom endpoint switches the client to path-style addressing.
func NewS3(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("upload: s3: bucket is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("upload: s3: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3WithClient(client, cfg, logger), nil
}

// NewS3WithClient builds an S3 uploader around an existing client.
func NewS3WithClient(client PutObjectAPI, cfg S3Config, logger *slog.Logger) *S3 {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultS3Timeout
	}
	return &S3{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		timeout: timeout,
		logger:  logger,
	}
}

// Upload implements Uploader. The object key is the configured prefix
// joined with key; the content type is derived from the key's extension.
func (u *S3) Upload(ctx context.Context, key string, data []byte) error {
	objectKey := key
	if u.prefix != "" {
		objectKey = path.Join(u.prefix, key)
	}

	uploadCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	_, err := u.client.PutObject(uploadCtx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(vault.ContentType(key)),
	})
	if err != nil {
		// Cancellation of the run is not an upload failure.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Key: objectKey, Err: err}
	}
	u.logger.Debug("upload: put object",
		slog.String("bucket", u.bucket),
		slog.String("key", objectKey),
		slog.Int("bytes", len(data)))
	return nil
}
