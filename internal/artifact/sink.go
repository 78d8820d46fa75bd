package artifact

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Sink persists rendered artifacts and returns the reference stored in chunk metadata.
type Sink interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// DirSink writes artifacts under a local directory. Existing files are overwritten.
type DirSink struct {
	Root string
}

func (s DirSink) Put(_ context.Context, key string, data []byte) (string, error) {
	dest := filepath.Join(s.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return dest, nil
}

// S3Config selects the bucket artifacts are uploaded to.
type S3Config struct {
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// S3Sink uploads artifacts to S3 and references them by object URL.
type S3Sink struct {
	uploader *manager.Uploader
	region   string
	bucket   string
	prefix   string
}

func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 sink: region not set")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 sink: bucket not set")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &S3Sink{
		uploader: manager.NewUploader(s3.NewFromConfig(awsCfg)),
		region:   cfg.Region,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
	}, nil
}

func (s *S3Sink) Put(ctx context.Context, key string, data []byte) (string, error) {
	key = path.Join(s.prefix, key)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload %s: %w", key, err)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key), nil
}
