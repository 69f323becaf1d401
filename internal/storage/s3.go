// Package storage uploads event imagery to an S3-compatible blob store
// (MinIO locally) and hands back public references.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"gatewatch/internal/config"
)

// BlobStore persists a blob under an object name and returns its public URL.
type BlobStore interface {
	Upload(ctx context.Context, objectName, contentType string, body []byte) (string, error)
}

type S3Store struct {
	cfg    config.StorageConfig
	client *s3.Client
	log    zerolog.Logger
}

// NewS3Store builds the S3 client. MinIO needs path-style addressing and a
// fixed endpoint; SDK retries are disabled so the app-level retry policy is
// the only one in play.
func NewS3Store(ctx context.Context, cfg config.StorageConfig, log zerolog.Logger) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		endpoint = scheme + "://" + endpoint
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
		o.UsePathStyle = true
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &S3Store{cfg: cfg, client: client, log: log}, nil
}

// Upload puts the blob with app-level retry and capped exponential backoff.
func (s *S3Store) Upload(ctx context.Context, objectName, contentType string, body []byte) (string, error) {
	retries := s.cfg.Retries
	if retries < 1 {
		retries = 1
	}
	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var lastErr error
	backoff := 200 * time.Millisecond
	for attempt := 1; attempt <= retries; attempt++ {
		putCtx, cancel := context.WithTimeout(ctx, timeout)
		_, err := s.client.PutObject(putCtx, &s3.PutObjectInput{
			Bucket:        aws.String(s.cfg.Bucket),
			Key:           aws.String(objectName),
			Body:          bytes.NewReader(body),
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(int64(len(body))),
		})
		cancel()
		if err == nil {
			return s.PublicURL(objectName), nil
		}
		lastErr = err
		s.log.Warn().Err(err).Str("object", objectName).Int("attempt", attempt).Msg("blob upload failed")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}
	return "", fmt.Errorf("upload %s: %w", objectName, lastErr)
}

// PublicURL builds the externally reachable reference for an object.
func (s *S3Store) PublicURL(objectName string) string {
	base := s.cfg.PublicBaseURL
	if base == "" {
		scheme := "http"
		if s.cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, s.cfg.Endpoint, s.cfg.Bucket)
	}
	return strings.TrimRight(base, "/") + "/" + objectName
}
