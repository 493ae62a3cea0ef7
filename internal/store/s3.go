package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3Backend keeps records as objects under Prefix/namespace/name.
type S3Backend struct {
	Client s3iface.S3API
	Bucket string
	Prefix string
}

var _ Backend = (*S3Backend)(nil)

// OpenS3 creates a backend using the default AWS credential chain.
func OpenS3(region, bucket, prefix string) (*S3Backend, error) {
	cfg := aws.NewConfig()
	if region != "" {
		cfg = cfg.WithRegion(region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}
	return &S3Backend{Client: s3.New(sess), Bucket: bucket, Prefix: prefix}, nil
}

func (b *S3Backend) key(namespace, name string) string {
	return path.Join(b.Prefix, namespace, name)
}

func (b *S3Backend) Read(ctx context.Context, namespace, name string) ([]byte, error) {
	key := b.key(namespace, name)
	rsp, err := b.Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: &b.Bucket,
		Key:    &key,
	})
	if err != nil {
		if err, ok := err.(awserr.Error); ok && err.Code() == s3.ErrCodeNoSuchKey {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf(
			"getting object from bucket `%s` at key `%s`: %w",
			b.Bucket,
			key,
			err,
		)
	}
	defer rsp.Body.Close()
	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object `%s`: %w", key, err)
	}
	return data, nil
}

func (b *S3Backend) Write(ctx context.Context, namespace, name string, data []byte) error {
	key := b.key(namespace, name)
	if _, err := b.Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      &b.Bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf(
			"putting object in bucket `%s` at key `%s`: %w",
			b.Bucket,
			key,
			err,
		)
	}
	return nil
}

// Delete removes the object. S3 treats deleting a missing key as success.
func (b *S3Backend) Delete(ctx context.Context, namespace, name string) error {
	key := b.key(namespace, name)
	if _, err := b.Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: &b.Bucket,
		Key:    &key,
	}); err != nil {
		return fmt.Errorf("deleting object `%s`: %w", key, err)
	}
	return nil
}
