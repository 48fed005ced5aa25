package backup

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Config struct {
	Bucket string
	Region string
	Prefix string
	// Endpoint targets an S3-compatible store instead of AWS.
	Endpoint string
	Timeout  time.Duration
	Retries  int
}

// S3Uploader copies finished archives to a bucket. SDK retries are off;
// attempts and backoff are handled here so shutdown can interrupt them.
type S3Uploader struct {
	cfg    S3Config
	client *s3.Client
}

func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Uploader{cfg: cfg, client: client}, nil
}

func (u *S3Uploader) Key(name string) string {
	return path.Join(u.cfg.Prefix, name)
}

func (u *S3Uploader) Upload(ctx context.Context, name string, f io.ReadSeeker, size int64) error {
	key := u.Key(name)
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= u.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if lastErr = u.put(ctx, key, f, size); lastErr == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}
	return fmt.Errorf("upload s3://%s/%s: %w", u.cfg.Bucket, key, lastErr)
}

func (u *S3Uploader) put(ctx context.Context, key string, body io.Reader, size int64) error {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/gzip"),
	})
	return err
}
