package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MarcoPoloResearchLab/achievements-bot/internal/stickers"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const (
	DefaultBucket  = "stickers"
	pngContentType = "image/png"
)

// MinioConfig describes the S3 compatible endpoint holding sticker files.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool
	Prefix    string
	Logger    *zap.Logger
}

// MinioStore stores sticker files in an S3 compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// NewMinioStore connects to the endpoint and creates the bucket when it is missing.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("blob: endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = DefaultBucket
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Secure {
		logger.Warn("blob storage is not using TLS", zap.String("endpoint", cfg.Endpoint))
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: create client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("blob: check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("blob: create bucket %s: %w", bucket, err)
		}
		logger.Info("blob bucket created", zap.String("bucket", bucket))
	}

	return &MinioStore{
		client: client,
		bucket: bucket,
		prefix: normalizePrefix(cfg.Prefix),
		logger: logger,
	}, nil
}

// Save stores data under a fresh random path.
func (s *MinioStore) Save(ctx context.Context, data []byte) (stickers.Image, error) {
	return s.SaveAt(ctx, newObjectPath(s.prefix), data)
}

// SaveAt stores data under path, overwriting any existing object.
func (s *MinioStore) SaveAt(ctx context.Context, path string, data []byte) (stickers.Image, error) {
	if len(data) == 0 {
		return stickers.Image{}, ErrEmptyObject
	}
	if err := validatePath(path); err != nil {
		return stickers.Image{}, err
	}
	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: pngContentType,
	})
	if err != nil {
		return stickers.Image{}, fmt.Errorf("blob: put %s: %w", path, err)
	}
	return stickers.Image{Path: path, Data: data}, nil
}

// Load reads the object stored under path.
func (s *MinioStore) Load(ctx context.Context, path string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translateError(path, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, s.translateError(path, err)
	}
	return data, nil
}

// DeleteMany removes every listed object. Missing objects are not an error.
func (s *MinioStore) DeleteMany(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	objects := make(chan minio.ObjectInfo, len(paths))
	for _, path := range paths {
		objects <- minio.ObjectInfo{Key: path}
	}
	close(objects)

	var failures []error
	for removeErr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if minio.ToErrorResponse(removeErr.Err).Code == "NoSuchKey" {
			continue
		}
		s.logger.Warn("blob delete failed", zap.String("path", removeErr.ObjectName), zap.Error(removeErr.Err))
		failures = append(failures, fmt.Errorf("blob: delete %s: %w", removeErr.ObjectName, removeErr.Err))
	}
	return errors.Join(failures...)
}

func (s *MinioStore) translateError(path string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return fmt.Errorf("blob: get %s: %w", path, err)
}
