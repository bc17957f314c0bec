package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures the optional S3 sink.
type S3Options struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region"`
	// Endpoint overrides the service endpoint for S3-compatible stores and
	// switches to path-style addressing.
	Endpoint string `mapstructure:"endpoint"`
}

// objectPutter is the subset of *s3.Client used by S3.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads each backup as a JSON object keyed by contest and run.
type S3 struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3 builds an S3 sink from the default AWS credential chain.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("archive: loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			endpoint := opts.Endpoint
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		}
	})
	return &S3{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

// Key returns the object key of b.
func (s *S3) Key(b Backup) string {
	return path.Join(s.prefix, b.ContestSlug, b.RunID+".json")
}

// Store implements Sink.
func (s *S3) Store(ctx context.Context, b Backup) error {
	body, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encoding backup %s: %w", b.RunID, err)
	}
	key := s.Key(b)
	contentType := "application/json"
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("archive: uploading s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
