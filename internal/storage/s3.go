package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"finalcut/internal/config"
)

const defaultPresign = time.Hour

// S3 stores objects in an S3-compatible bucket.
type S3 struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	publicURL string
	expiry    time.Duration
}

// NewS3 builds a client from static credentials. A custom endpoint switches
// to path-style addressing for R2 and MinIO.
func NewS3(ctx context.Context, cfg config.Storage) (*S3, error) {
	if cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("s3 storage configuration incomplete")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := cfg.Endpoint
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	expiry := time.Duration(cfg.PresignMinutes) * time.Minute
	if expiry <= 0 {
		expiry = defaultPresign
	}
	return &S3{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		publicURL: cfg.PublicURL,
		expiry:    expiry,
	}, nil
}

// Backend implements Store.
func (c *S3) Backend() string { return config.StorageS3 }

// Put uploads body. size may be -1 when unknown.
func (c *S3) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (Object, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return Object{}, err
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(cleaned),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := c.client.PutObject(ctx, input); err != nil {
		return Object{}, fmt.Errorf("put s3://%s/%s: %w", c.bucket, cleaned, err)
	}
	obj := Object{Key: cleaned, Size: size}
	if c.publicURL != "" {
		obj.URL = c.publicURL + "/" + cleaned
	}
	return obj, nil
}

// Delete removes the object.
func (c *S3) Delete(ctx context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	_, err = c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(cleaned),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", c.bucket, cleaned, err)
	}
	return nil
}

// URL returns the public URL when configured, otherwise a presigned GET.
func (c *S3) URL(ctx context.Context, key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if c.publicURL != "" {
		return c.publicURL + "/" + cleaned, nil
	}
	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(cleaned),
	}, s3.WithPresignExpires(c.expiry))
	if err != nil {
		return "", fmt.Errorf("presign s3://%s/%s: %w", c.bucket, cleaned, err)
	}
	return req.URL, nil
}
