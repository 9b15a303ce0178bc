package resolver

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Getter is the part of the S3 client the resolver uses.
type S3Getter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config describes an S3-compatible endpoint.
type S3Config struct {
	// Endpoint such as "http://127.0.0.1:9000"; empty uses AWS.
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3Client builds a client with static credentials.
func NewS3Client(cfg S3Config) *s3.Client {
	return s3.NewFromConfig(aws.Config{Region: cfg.Region}, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.AccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		}
	})
}

// S3 resolves s3://bucket/key references.
type S3 struct {
	client S3Getter
}

// NewS3 returns a resolver reading objects through client.
func NewS3(client S3Getter) *S3 {
	return &S3{client: client}
}

// Resolve implements Resolver.
func (r *S3) Resolve(ctx context.Context, href, base string) (io.ReadCloser, string, error) {
	abs, err := Absolute(href, base)
	if err != nil {
		return nil, "", err
	}
	bucket, key, err := ParseS3URI(abs)
	if err != nil {
		return nil, "", err
	}
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("get %s: %w", abs, err)
	}
	return out.Body, abs, nil
}

// ParseS3URI splits s3://bucket/key into its bucket and key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse %q: %w", uri, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 URI: %q", uri)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3 URI %q needs a bucket and a key", uri)
	}
	return u.Host, key, nil
}
