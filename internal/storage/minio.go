package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is what the pipeline stages need from object storage.
type ObjectStore interface {
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, objectName string) ([]byte, error)
	FGet(ctx context.Context, objectName, filePath string) error
	Remove(ctx context.Context, objectName string) error
}

type Storage struct {
	client *minio.Client
	bucket string
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewStorage(ctx context.Context, config *Config) (*Storage, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	s := &Storage{
		client: client,
		bucket: config.Bucket,
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, err
	}

	if !exists {
		err = client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{})
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Storage) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectName, err)
	}
	return nil
}

func (s *Storage) Get(ctx context.Context, objectName string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapNotFound(objectName, err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, obj); err != nil {
		return nil, wrapNotFound(objectName, err)
	}
	return buf.Bytes(), nil
}

func (s *Storage) FGet(ctx context.Context, objectName, filePath string) error {
	if err := s.client.FGetObject(ctx, s.bucket, objectName, filePath, minio.GetObjectOptions{}); err != nil {
		return wrapNotFound(objectName, err)
	}
	return nil
}

func (s *Storage) Remove(ctx context.Context, objectName string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove %s: %w", objectName, err)
	}
	return nil
}

func (s *Storage) GetUploadUrl(ctx context.Context, objectName string, duration time.Duration) (string, error) {
	presignedUrl, err := s.client.PresignedPutObject(
		ctx,
		s.bucket,
		objectName,
		duration,
	)
	if err != nil {
		return "", err
	}

	return presignedUrl.String(), nil
}

func wrapNotFound(objectName string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%s: %w", objectName, ErrObjectNotFound)
	}
	return fmt.Errorf("failed to read %s: %w", objectName, err)
}

// SourcePrefix is the key prefix of every PDF uploaded by userID.
func SourcePrefix(userID string) string {
	return "uploads/" + userID + "/"
}

// SourceObjectName is where an uploaded PDF lives.
func SourceObjectName(userID, filename string) string {
	return SourcePrefix(userID) + path.Base(filename)
}

// PageObjectName is where the decomposer stores the image for one page.
func PageObjectName(jobID string, page int, ext string) string {
	return fmt.Sprintf("pages/%s/page-%d%s", jobID, page, ext)
}
