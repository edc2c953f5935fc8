package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type S3Options struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

type s3Gateway struct {
	client *s3.Client
	bucket string
}

// NewS3Gateway builds a Gateway on an S3 bucket. Static credentials are used
// when both keys are set, otherwise the default AWS credential chain applies.
// Endpoint and UsePathStyle allow S3-compatible servers such as MinIO.
func NewS3Gateway(ctx context.Context, opts S3Options) (Gateway, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return NewS3GatewayFromClient(client, opts.Bucket), nil
}

func NewS3GatewayFromClient(client *s3.Client, bucket string) Gateway {
	return &s3Gateway{
		client: client,
		bucket: bucket,
	}
}

func (g *s3Gateway) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(g.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("%w: put %s: %w", ErrWrite, key, err)
	}
	return key, nil
}

func (g *s3Gateway) Delete(ctx context.Context, key string) error {
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: delete %s: %w", ErrDelete, key, err)
	}
	return nil
}

// isNotFound reports whether err means the object is already gone. AWS answers
// deletes of missing keys with 204, but S3-compatible servers may not.
func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
