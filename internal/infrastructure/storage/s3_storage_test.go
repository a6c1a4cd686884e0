package storage

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/freight/recognition/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func minioConfig() *config.StorageConfig {
	return &config.StorageConfig{
		Bucket:          "reports",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		UsePathStyle:    true,
	}
}

func TestNewS3ReportStore_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("nil config returns error", func(t *testing.T) {
		_, err := NewS3ReportStore(ctx, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration is required")
	})

	t.Run("missing bucket returns error", func(t *testing.T) {
		cfg := minioConfig()
		cfg.Bucket = ""
		_, err := NewS3ReportStore(ctx, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket is required")
	})

	t.Run("half a key pair returns error", func(t *testing.T) {
		cfg := minioConfig()
		cfg.SecretAccessKey = ""
		_, err := NewS3ReportStore(ctx, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be set together")
	})

	t.Run("valid config creates store", func(t *testing.T) {
		store, err := NewS3ReportStore(ctx, minioConfig())
		require.NoError(t, err)
		assert.Equal(t, "reports", store.Bucket())
		assert.Equal(t, DefaultPresignExpiration, store.presignExpiration)
	})

	t.Run("default credential chain without keys", func(t *testing.T) {
		cfg := minioConfig()
		cfg.AccessKeyID, cfg.SecretAccessKey, cfg.Region = "", "", ""
		store, err := NewS3ReportStore(ctx, cfg)
		require.NoError(t, err)
		assert.NotNil(t, store)
	})
}

func TestS3ReportStoreOptions(t *testing.T) {
	ctx := context.Background()

	t.Run("WithLogger sets custom logger", func(t *testing.T) {
		logger := zaptest.NewLogger(t)
		store, err := NewS3ReportStore(ctx, minioConfig(), WithLogger(logger))
		require.NoError(t, err)
		assert.Same(t, logger, store.logger)
	})

	t.Run("WithPresignExpiration sets custom duration", func(t *testing.T) {
		store, err := NewS3ReportStore(ctx, minioConfig(), WithPresignExpiration(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, time.Hour, store.presignExpiration)
	})
}

func TestS3ReportStore_DownloadURL(t *testing.T) {
	store, err := NewS3ReportStore(context.Background(), minioConfig())
	require.NoError(t, err)

	t.Run("empty key returns error", func(t *testing.T) {
		_, _, err := store.DownloadURL(context.Background(), "")
		require.Error(t, err)
	})

	t.Run("presigns a location", func(t *testing.T) {
		url, expiresAt, err := store.DownloadURL(context.Background(), "s3://reports/period-close/ACME/2024-03-31/run.json")
		require.NoError(t, err)
		assert.True(t, strings.Contains(url, "localhost:9000"))
		assert.True(t, strings.Contains(url, "/reports/period-close/ACME/2024-03-31/run.json"))
		assert.True(t, expiresAt.After(time.Now()))
		assert.True(t, expiresAt.Before(time.Now().Add(DefaultPresignExpiration+time.Minute)))
	})
}

func TestS3ReportStore_LocationRoundTrip(t *testing.T) {
	store, err := NewS3ReportStore(context.Background(), minioConfig())
	require.NoError(t, err)

	loc := store.Location("period-close/ACME/run.json")
	assert.Equal(t, "s3://reports/period-close/ACME/run.json", loc)
	assert.Equal(t, "period-close/ACME/run.json", store.KeyOf(loc))
	assert.Equal(t, "plain/key.json", store.KeyOf("plain/key.json"))
}

func TestS3ReportStore_ValidationOnly(t *testing.T) {
	store, err := NewS3ReportStore(context.Background(), minioConfig())
	require.NoError(t, err)

	assert.Error(t, store.Put(context.Background(), "", []byte("x"), "text/plain"))
	_, err = store.Exists(context.Background(), "")
	assert.Error(t, err)
}

// REC_TEST_S3_ENDPOINT points at a MinIO started with the default
// minioadmin credentials, e.g. docker run -p 9000:9000 minio/minio server /data
func newIntegrationStore(t *testing.T) *S3ReportStore {
	t.Helper()
	endpoint := os.Getenv("REC_TEST_S3_ENDPOINT")
	if endpoint == "" || testing.Short() {
		t.Skip("set REC_TEST_S3_ENDPOINT to run object storage integration tests")
	}

	cfg := &config.StorageConfig{
		Bucket:          "recognition-it",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		Endpoint:        endpoint,
		Region:          "us-east-1",
		UsePathStyle:    true,
	}
	store, err := NewS3ReportStore(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(context.Background()))
	require.NoError(t, store.EnsureBucket(context.Background()), "idempotent")
	return store
}

func TestIntegration_PutAndPresign(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()
	key := "integration/" + time.Now().Format("20060102150405") + ".json"

	require.NoError(t, store.Put(ctx, key, []byte(`{"ok":true}`), "application/json"))

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	missing, err := store.Exists(ctx, key+".missing")
	require.NoError(t, err)
	assert.False(t, missing)

	url, _, err := store.DownloadURL(ctx, store.Location(key))
	require.NoError(t, err)
	assert.NotEmpty(t, url)
}
