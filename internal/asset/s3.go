package asset

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3API is the subset of *s3.Client used by S3Fetcher.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher downloads s3://bucket/key locators, used when results are
// mirrored into our own bucket instead of the provider's CDN.
type S3Fetcher struct {
	client   S3API
	maxBytes int64
}

// Compile-time interface check.
var _ Fetcher = (*S3Fetcher)(nil)

// NewS3Fetcher creates an S3Fetcher with the given body size cap.
func NewS3Fetcher(client S3API, maxBytes int64) *S3Fetcher {
	return &S3Fetcher{client: client, maxBytes: maxBytes}
}

// parseS3Locator splits s3://bucket/key into its parts.
func parseS3Locator(locator string) (bucket, key string, err error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", "", err
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if u.Scheme != "s3" || bucket == "" || key == "" {
		return "", "", fmt.Errorf("expected s3://<bucket>/<key>, got %q", locator)
	}
	return bucket, key, nil
}

func (f *S3Fetcher) Fetch(ctx context.Context, locator string) (*Encoded, error) {
	bucket, key, err := parseS3Locator(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Downloading asset from S3")
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: S3 GetObject: %v", ErrFetch, err)
	}
	defer out.Body.Close()

	body, err := readCapped(out.Body, f.maxBytes)
	if err != nil {
		return nil, err
	}
	return encode(body, aws.ToString(out.ContentType))
}
