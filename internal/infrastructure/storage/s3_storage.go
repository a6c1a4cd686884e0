// Package storage archives period-close reports in S3 compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	infraconfig "github.com/freight/recognition/internal/infrastructure/config"
	"go.uber.org/zap"
)

// DefaultPresignExpiration is the lifetime of a report download URL
const DefaultPresignExpiration = 15 * time.Minute

// ObjectStore is the subset of object storage the archiver writes to
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Location(key string) string
}

// S3ReportStore stores report objects in one bucket.
// It works with AWS S3 and S3 compatible stores such as MinIO.
type S3ReportStore struct {
	client            *s3.Client
	presignClient     *s3.PresignClient
	bucket            string
	presignExpiration time.Duration
	logger            *zap.Logger
}

// S3ReportStoreOption is a functional option for S3ReportStore
type S3ReportStoreOption func(*S3ReportStore)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) S3ReportStoreOption {
	return func(s *S3ReportStore) {
		s.logger = logger
	}
}

// WithPresignExpiration sets the download URL lifetime
func WithPresignExpiration(d time.Duration) S3ReportStoreOption {
	return func(s *S3ReportStore) {
		s.presignExpiration = d
	}
}

// NewS3ReportStore creates a store from configuration. Without static keys the
// default AWS credential chain is used.
func NewS3ReportStore(ctx context.Context, cfg *infraconfig.StorageConfig, opts ...S3ReportStoreOption) (*S3ReportStore, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
		return nil, errors.New("storage access key id and secret access key must be set together")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	var endpoint string
	if cfg.Endpoint != "" {
		endpoint = cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid storage endpoint: %w", err)
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	store := &S3ReportStore{
		client:            client,
		presignClient:     s3.NewPresignClient(client),
		bucket:            cfg.Bucket,
		presignExpiration: DefaultPresignExpiration,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(store)
	}
	if store.presignExpiration <= 0 {
		store.presignExpiration = DefaultPresignExpiration
	}
	return store, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *S3ReportStore) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	s.logger.Info("creating report bucket", zap.String("bucket", s.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Put uploads an object
func (s *S3ReportStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return errors.New("storage key is required")
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	s.logger.Debug("object uploaded", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

// Exists checks whether an object exists
func (s *S3ReportStore) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("storage key is required")
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

// DownloadURL returns a presigned GET URL for the object at key or location
func (s *S3ReportStore) DownloadURL(ctx context.Context, keyOrLocation string) (string, time.Time, error) {
	key := s.KeyOf(keyOrLocation)
	if key == "" {
		return "", time.Time{}, errors.New("storage key is required")
	}

	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignExpiration))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate download URL: %w", err)
	}
	return req.URL, time.Now().Add(s.presignExpiration), nil
}

// Location returns the s3:// URI of a key
func (s *S3ReportStore) Location(key string) string {
	return "s3://" + s.bucket + "/" + key
}

// KeyOf strips this bucket's s3:// prefix from a location
func (s *S3ReportStore) KeyOf(location string) string {
	return strings.TrimPrefix(location, "s3://"+s.bucket+"/")
}

// Bucket returns the bucket name
func (s *S3ReportStore) Bucket() string {
	return s.bucket
}

var _ ObjectStore = (*S3ReportStore)(nil)
