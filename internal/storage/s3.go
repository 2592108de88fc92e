package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	perrors "github.com/polyroute/polyroute/internal/errors"
)

// S3Storage keeps snapshot archives in an S3 bucket, optionally below a key
// prefix so several deployments can share one bucket.
type S3Storage struct {
	client *s3.Client
	bucket string
	prefix string
	cfg    S3Config
}

// S3Config holds configuration for S3 storage.
type S3Config struct {
	// Region is the AWS region for the S3 bucket.
	Region string
	// Endpoint is an optional custom endpoint for S3-compatible stores.
	Endpoint string
	// UsePathStyle enables path-style addressing.
	UsePathStyle bool
	// Prefix is prepended to every object path.
	Prefix string
	// MaxRetries bounds the retries of a failed request.
	MaxRetries int
	// RetryBackoff is the delay before the first retry. It doubles per attempt.
	RetryBackoff time.Duration
}

// DefaultS3Config returns the default S3 configuration.
func DefaultS3Config() S3Config {
	return S3Config{
		Region:       "us-east-1",
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// NewS3Storage creates a storage backed by an S3 bucket using the default
// AWS credential chain.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	if bucket == "" {
		return nil, perrors.NewValidationError(perrors.CodeInvalidArgument, "s3 bucket must not be empty")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StorageWithClient(client, bucket, cfg), nil
}

// NewS3StorageWithClient creates a storage on a pre-configured client.
func NewS3StorageWithClient(client *s3.Client, bucket string, cfg S3Config) *S3Storage {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultS3Config().RetryBackoff
	}
	return &S3Storage{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		cfg:    cfg,
	}
}

func (s *S3Storage) key(objectPath string) string {
	if s.prefix == "" {
		return objectPath
	}
	return path.Join(s.prefix, objectPath)
}

// Upload stores a local archive under objectPath.
func (s *S3Storage) Upload(ctx context.Context, localPath, objectPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return uploadError(objectPath, err)
	}
	defer file.Close()

	err = s.retry(ctx, func() error {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(objectPath)),
			Body:   file,
		})
		return err
	})
	if err != nil {
		return uploadError(objectPath, err)
	}
	return nil
}

// Download copies objectPath into a local file.
func (s *S3Storage) Download(ctx context.Context, objectPath, localPath string) error {
	var body io.ReadCloser
	err := s.retry(ctx, func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(objectPath)),
		})
		if isMissing(err) {
			return notFound(objectPath)
		}
		if err != nil {
			return err
		}
		body = out.Body
		return nil
	})
	if errors.Is(err, ErrObjectNotFound) {
		return err
	}
	if err != nil {
		return downloadError(objectPath, err)
	}
	defer body.Close()

	file, err := os.Create(localPath)
	if err != nil {
		return downloadError(objectPath, err)
	}
	if _, err := io.Copy(file, body); err != nil {
		file.Close()
		return downloadError(objectPath, err)
	}
	if err := file.Close(); err != nil {
		return downloadError(objectPath, err)
	}
	return nil
}

// Delete removes an object. S3 treats deleting a missing key as success.
func (s *S3Storage) Delete(ctx context.Context, objectPath string) error {
	err := s.retry(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(objectPath)),
		})
		return err
	})
	if err != nil {
		return perrors.NewStorageError(perrors.CodeUnexpected, "delete "+objectPath, err)
	}
	return nil
}

// Exists reports whether objectPath is stored.
func (s *S3Storage) Exists(ctx context.Context, objectPath string) (bool, error) {
	var exists bool
	err := s.retry(ctx, func() error {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(objectPath)),
		})
		switch {
		case err == nil:
			exists = true
		case isMissing(err):
			exists = false
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return false, perrors.NewStorageError(perrors.CodeUnexpected, "stat "+objectPath, err)
	}
	return exists, nil
}

// ListObjects returns the object paths under prefix, relative to the
// storage's key prefix and sorted.
func (s *S3Storage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var objects []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, perrors.NewStorageError(perrors.CodeUnexpected, "list "+prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.prefix != "" {
				key = strings.TrimPrefix(key, s.prefix+"/")
			}
			objects = append(objects, key)
		}
	}
	sort.Strings(objects)
	return objects, nil
}

// isMissing matches the typed S3 errors and bare 404 responses, which
// HEAD requests produce without an error body.
func isMissing(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

// retry runs op until it succeeds, reports a missing object, or the retry
// budget is spent. The delay doubles after every failed attempt.
func (s *S3Storage) retry(ctx context.Context, op func() error) error {
	delay := s.cfg.RetryBackoff
	var err error
	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = op()
		if err == nil || errors.Is(err, ErrObjectNotFound) || attempt >= s.cfg.MaxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}
