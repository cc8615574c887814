// Package aws is a content store backed by Amazon S3 (or an S3-compatible
// endpoint). Sites are regions, libraries are buckets, and upload sessions are
// multipart uploads.
package aws

import (
	"context"
	"fmt"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	config "github.com/aws/aws-sdk-go-v2/config"
	credentials "github.com/aws/aws-sdk-go-v2/credentials"
	s3 "github.com/aws/aws-sdk-go-v2/service/s3"
	otelaws "go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type opt struct {
	region    string
	endpoint  string
	accessKey string
	secretKey string
}

// Opt configures the S3 client.
type Opt func(*opt) error

// Store is an S3 content store.
type Store struct {
	client *s3.Client
	region string
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New loads the default AWS configuration, applies opts and returns a store.
func New(ctx context.Context, opts ...Opt) (*Store, error) {
	var o opt
	for _, fn := range opts {
		if err := fn(&o); err != nil {
			return nil, err
		}
	}

	var loadOpts []func(*config.LoadOptions) error
	if o.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.region))
	}
	if o.accessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.accessKey, o.secretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	client := s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.endpoint != "" {
			so.BaseEndpoint = aws.String(o.endpoint)
			so.UsePathStyle = true
		}
	})
	return NewStore(client, cfg.Region), nil
}

// NewStore wraps an existing S3 client.
func NewStore(client *s3.Client, region string) *Store {
	return &Store{client: client, region: region}
}

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithRegion sets the AWS region.
func WithRegion(region string) Opt {
	return func(o *opt) error {
		o.region = region
		return nil
	}
}

// WithEndpoint points the client at an S3-compatible endpoint using
// path-style addressing.
func WithEndpoint(endpoint string) Opt {
	return func(o *opt) error {
		o.endpoint = endpoint
		return nil
	}
}

// WithStaticCredentials uses a fixed access key pair instead of the default
// credential chain.
func WithStaticCredentials(accessKey, secretKey string) Opt {
	return func(o *opt) error {
		if accessKey == "" || secretKey == "" {
			return fmt.Errorf("static credentials need both an access key and a secret key")
		}
		o.accessKey, o.secretKey = accessKey, secretKey
		return nil
	}
}
