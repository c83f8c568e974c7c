// Package awsclient builds the AWS SDK clients shared by the artifact mirror,
// the health checks and the transcription service adapter.
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/snarg/caption-engine/internal/config"
)

// Load resolves an aws.Config. Static keys are used when both are set;
// otherwise the SDK's default credential chain applies.
func Load(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("aws config: %w", err)
	}
	return awsCfg, nil
}

// NewS3 creates an S3 client. A custom endpoint switches to path-style
// addressing for S3-compatible stores.
func NewS3(awsCfg aws.Config, endpoint string) *s3.Client {
	var s3Opts []func(*s3.Options)
	if endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...)
}

// NewTranscribe creates an AWS Transcribe client.
func NewTranscribe(awsCfg aws.Config, endpoint string) *transcribe.Client {
	var tOpts []func(*transcribe.Options)
	if endpoint != "" {
		tOpts = append(tOpts, func(o *transcribe.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return transcribe.NewFromConfig(awsCfg, tOpts...)
}

// HeadBucket checks that a bucket exists and the credentials can reach it.
func HeadBucket(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	return err
}
