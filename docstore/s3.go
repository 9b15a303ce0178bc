package docstore

import (
	"bytes"
	"context"
	"io"
	"io/fs"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jacoelho/xproc/internal/contenttype"
	"github.com/jacoelho/xproc/resolver"
)

// S3Putter is the part of the S3 client the store uses.
type S3Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads documents to s3://bucket/key URIs.
type S3 struct {
	client S3Putter
}

// NewS3 returns a store uploading through client.
func NewS3(client S3Putter) *S3 {
	return &S3{client: client}
}

// Create implements Store. The object is uploaded when the writer closes.
func (s *S3) Create(ctx context.Context, uri string) (io.WriteCloser, error) {
	bucket, key, err := resolver.ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	return &s3Object{ctx: ctx, client: s.client, bucket: bucket, key: key}, nil
}

type s3Object struct {
	ctx    context.Context
	client S3Putter
	bucket string
	key    string
	buf    bytes.Buffer
	closed bool
}

func (o *s3Object) Write(p []byte) (int, error) {
	if o.closed {
		return 0, fs.ErrClosed
	}
	return o.buf.Write(p)
}

func (o *s3Object) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	body := o.buf.Bytes()
	_, err := o.client.PutObject(o.ctx, &s3.PutObjectInput{
		Bucket:        aws.String(o.bucket),
		Key:           aws.String(o.key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contenttype.FromBytes(body, o.key)),
	})
	return err
}
