package clients

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
	Prefix          string
	URLTTL          time.Duration
}

// S3Client stores QR images and discrepancy reports in object storage.
// It satisfies the same Save/GetURL surface as the local client so main
// can pick the backend from config.
type S3Client struct {
	raw    *minio.Client
	bucket string
	prefix string
	urlTTL time.Duration
}

func NewS3Client(ctx context.Context, cfg S3Config) (*S3Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	urlTTL := cfg.URLTTL
	if urlTTL <= 0 {
		urlTTL = time.Hour
	}

	return &S3Client{
		raw:    client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		urlTTL: urlTTL,
	}, nil
}

func (c *S3Client) Save(ctx context.Context, fileName string, data []byte) (string, error) {
	if c.raw == nil {
		return "", fmt.Errorf("s3 client is nil")
	}

	key := c.prefix + fileName

	_, err := c.raw.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: http.DetectContentType(data),
	})
	if err != nil {
		return "", fmt.Errorf("put object %q failed: %w", key, err)
	}

	return key, nil
}

// GetURL returns a presigned link; presigning failures degrade to the
// bare object path so callers always get something loggable.
func (c *S3Client) GetURL(key string) string {
	if c.raw == nil {
		return key
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u, err := c.raw.PresignedGetObject(ctx, c.bucket, key, c.urlTTL, nil)
	if err != nil {
		return fmt.Sprintf("/%s/%s", c.bucket, key)
	}
	return u.String()
}
