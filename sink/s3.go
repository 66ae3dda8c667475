package sink

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/matgreaves/intercept/server"
)

// S3Options configures an S3 uploader. Endpoint selects an S3-compatible
// service and switches to path-style addressing.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3 uploads exported files to a bucket.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ server.Uploader = (*S3)(nil)

// NewS3 creates an uploader. Static credentials are used when an access
// key is given; otherwise requests are sent unsigned.
func NewS3(opts S3Options) *S3 {
	o := s3.Options{
		Region:                     opts.Region,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
	}
	if opts.Endpoint != "" {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true
	}
	if opts.AccessKeyID != "" {
		o.Credentials = credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")
	} else {
		o.Credentials = aws.AnonymousCredentials{}
	}
	return &S3{
		client: s3.New(o),
		bucket: opts.Bucket,
		prefix: opts.Prefix,
	}
}

// Upload implements server.Uploader.
func (u *S3) Upload(ctx context.Context, name string, body []byte) error {
	key := path.Join(u.prefix, name)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}
	return nil
}
