package minio

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
}

func (c MinIOConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("MinIO endpoint is required")
	}
	if c.BucketName == "" {
		return fmt.Errorf("MinIO bucket name is required")
	}
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return fmt.Errorf("MinIO credentials are required")
	}
	return nil
}

type HealthStatus struct {
	Connected    bool          `json:"connected"`
	Endpoint     string        `json:"endpoint"`
	BucketExists bool          `json:"bucket_exists"`
	BucketName   string        `json:"bucket_name"`
	Latency      time.Duration `json:"latency"`
	Error        string        `json:"error,omitempty"`
}

type StoredObject struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	ETag   string `json:"etag"`
}

type MinIOService interface {
	HealthCheck(ctx context.Context) HealthStatus
	PutObject(ctx context.Context, objectName string, reader io.Reader, objectSize int64, contentType string) (*StoredObject, error)
	PresignedGetURL(ctx context.Context, objectName string, expires time.Duration) (*url.URL, error)
	Close() error
}

type MinIOClient struct {
	client     *minio.Client
	config     MinIOConfig
	mu         sync.RWMutex
	bucketName string
}

// NewMinIOService connects and creates the bucket when it does not exist yet.
func NewMinIOService(config MinIOConfig) (*MinIOClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, config.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, config.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", config.BucketName, err)
		}
	}

	return &MinIOClient{
		client:     client,
		config:     config,
		bucketName: config.BucketName,
	}, nil
}

func (m *MinIOClient) HealthCheck(ctx context.Context) HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := time.Now()
	status := HealthStatus{
		Endpoint:   m.config.Endpoint,
		BucketName: m.bucketName,
	}

	exists, err := m.client.BucketExists(ctx, m.bucketName)
	status.Latency = time.Since(start)
	if err != nil {
		status.Error = fmt.Sprintf("failed to check bucket existence: %v", err)
		return status
	}

	status.Connected = true
	status.BucketExists = exists
	if !exists {
		status.Error = fmt.Sprintf("bucket %s does not exist", m.bucketName)
	}

	return status
}

func (m *MinIOClient) Close() error {
	return nil
}

func (m *MinIOClient) PutObject(ctx context.Context, objectName string, reader io.Reader, objectSize int64, contentType string) (*StoredObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, err := m.client.PutObject(ctx, m.bucketName, objectName, reader, objectSize, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put object %s: %w", objectName, err)
	}

	return &StoredObject{
		Bucket: info.Bucket,
		Key:    info.Key,
		Size:   info.Size,
		ETag:   info.ETag,
	}, nil
}

func (m *MinIOClient) PresignedGetURL(ctx context.Context, objectName string, expires time.Duration) (*url.URL, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	presigned, err := m.client.PresignedGetObject(ctx, m.bucketName, objectName, expires, make(url.Values))
	if err != nil {
		return nil, fmt.Errorf("failed to generate presigned URL for %s: %w", objectName, err)
	}

	return presigned, nil
}
