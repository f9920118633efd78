package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// StorageType defines the flavour of S3-compatible storage.
type StorageType string

const (
	StorageTypeR2           StorageType = "r2"
	StorageTypeS3           StorageType = "s3"
	StorageTypeS3Compatible StorageType = "s3compatible"
)

// S3Config holds configuration for S3-compatible storage.
type S3Config struct {
	Type      StorageType
	Endpoint  string // empty means AWS S3 itself
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
}

// S3Storage implements ObjectStorage for S3-compatible services.
type S3Storage struct {
	client    *s3.Client
	bucket    string
	storeType StorageType
}

// NewS3Storage creates a new S3-compatible storage client.
func NewS3Storage(cfg *S3Config) (*S3Storage, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
		if cfg.Type == StorageTypeR2 {
			region = "auto"
		}
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := normalizeEndpoint(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint == "" {
			return
		}
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		o.BaseEndpoint = aws.String(scheme + "://" + endpoint)
		o.UsePathStyle = true
	})

	return &S3Storage{client: client, bucket: cfg.Bucket, storeType: cfg.Type}, nil
}

// normalizeEndpoint strips the scheme and any path from endpoint.
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	if idx := strings.Index(endpoint, "/"); idx != -1 {
		endpoint = endpoint[:idx]
	}
	return endpoint
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}
	// R2 buckets can only be created from the dashboard.
	if s.storeType == StorageTypeR2 {
		return fmt.Errorf("bucket %s does not exist, please create it in R2 dashboard", s.bucket)
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func (s *S3Storage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          reader,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

func (s *S3Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to download object: %w", err)
	}
	return out.Body, nil
}
