package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Mirror keeps a copy of every artifact in an S3-compatible bucket.
type S3Mirror struct {
	client *s3.Client
	bucket string
	prefix string
	log    zerolog.Logger
}

// NewS3Mirror creates a mirror writing under prefix/artifacts/ in bucket.
func NewS3Mirror(client *s3.Client, bucket, prefix string, log zerolog.Logger) *S3Mirror {
	return &S3Mirror{
		client: client,
		bucket: bucket,
		prefix: prefix,
		log:    log.With().Str("component", "s3-mirror").Logger(),
	}
}

// HeadBucket checks that the bucket exists and credentials are valid.
func (m *S3Mirror) HeadBucket(ctx context.Context) error {
	_, err := m.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &m.bucket,
	})
	return err
}

func (m *S3Mirror) Save(ctx context.Context, key string, data []byte, contentType string) error {
	objKey := m.objectKey(key)
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &m.bucket,
		Key:         &objKey,
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return err
	}
	m.log.Debug().Str("key", objKey).Int("bytes", len(data)).Msg("artifact mirrored")
	return nil
}

func (m *S3Mirror) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	objKey := m.objectKey(key)
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &m.bucket,
		Key:    &objKey,
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (m *S3Mirror) Exists(ctx context.Context, key string) bool {
	objKey := m.objectKey(key)
	_, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &m.bucket,
		Key:    &objKey,
	})
	return err == nil
}

func (m *S3Mirror) objectKey(key string) string {
	if m.prefix != "" {
		return m.prefix + "/artifacts/" + key
	}
	return "artifacts/" + key
}
