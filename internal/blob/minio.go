package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	BasePath        string
	Retry           RetryConfig
}

type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// MinIO stores blobs as objects of one bucket.
type MinIO struct {
	client   *minio.Client
	bucket   string
	basePath string
}

var _ Store = (*MinIO)(nil)

// NewMinIO connects to the bucket, creating it when missing. Startup is retried
// with exponential backoff so the object store may come up after the service.
func NewMinIO(ctx context.Context, cfg MinIOConfig) (*MinIO, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("empty MinIO endpoint")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("empty MinIO bucket")
	}

	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry.MaxRetries = 5
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = time.Second
	}
	if cfg.Retry.MaxInterval <= 0 {
		cfg.Retry.MaxInterval = 30 * time.Second
	}

	var lastErr error
	interval := cfg.Retry.InitialInterval

	for attempt := range cfg.Retry.MaxRetries {
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			lastErr = fmt.Errorf("create MinIO client: %w", err)
		} else if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
			lastErr = err
		} else {
			return newMinIO(client, cfg.Bucket, cfg.BasePath), nil
		}

		if attempt == cfg.Retry.MaxRetries-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled while waiting to retry MinIO: %w", ctx.Err())
		case <-time.After(interval):
			interval = min(interval*2, cfg.Retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("init MinIO failed after %d attempts: %w", cfg.Retry.MaxRetries, lastErr)
}

func newMinIO(client *minio.Client, bucket, basePath string) *MinIO {
	basePath = strings.Trim(basePath, "/")
	if basePath != "" {
		basePath += "/"
	}
	return &MinIO{client: client, bucket: bucket, basePath: basePath}
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if exists {
		return nil
	}

	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (m *MinIO) objectName(key string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return m.basePath + clean, nil
}

func (m *MinIO) Save(ctx context.Context, key string, r io.Reader, size int64) (int64, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}

	name, err := m.objectName(key)
	if err != nil {
		return 0, err
	}

	if size <= 0 {
		size = -1
	}

	info, err := m.client.PutObject(ctx, m.bucket, name, r, size, minio.PutObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("put object %s: %w", name, err)
	}

	return info.Size, nil
}

func (m *MinIO) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if err := checkContext(ctx); err != nil {
		return nil, 0, err
	}

	name, err := m.objectName(key)
	if err != nil {
		return nil, 0, err
	}

	obj, err := m.client.GetObject(ctx, m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get object %s: %w", name, err)
	}

	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == minio.NoSuchKey {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, 0, fmt.Errorf("stat object %s: %w", name, err)
	}

	return obj, st.Size, nil
}

func (m *MinIO) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	name, err := m.objectName(key)
	if err != nil {
		return err
	}

	err = m.client.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{})
	if err != nil {
		var merr minio.ErrorResponse
		if errors.As(err, &merr) && merr.Code == minio.NoSuchKey {
			return nil
		}
		return fmt.Errorf("remove object %s: %w", name, err)
	}

	return nil
}
