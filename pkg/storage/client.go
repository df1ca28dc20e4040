// Package storage provides an S3 blob origin for module URLs of the form
// s3://bucket/key, for deployments that publish releases straight to a
// bucket instead of an HTTP origin.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/zipline/zipline-go/pkg/errors"
)

// Client provides S3 storage operations
type Client struct {
	s3Client *s3.Client
}

// NewClient creates a new S3 client for anonymous access
func NewClient(ctx context.Context, region string) (*Client, error) {
	slog.Info("s3_client_init", "region", region)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	slog.Info("s3_client_created", "region", region)
	return &Client{s3Client: s3.NewFromConfig(cfg)}, nil
}

// Download fetches an s3://bucket/key URL and returns its bytes.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	bucket, key, err := splitURL(rawURL)
	if err != nil {
		return nil, err
	}
	slog.Info("s3_download_start", "bucket", bucket, "key", key)

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "bucket", bucket, "key", key, "error", err)
		return nil, errors.Wrapf(err, "failed to get s3://%s/%s", bucket, key)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		slog.Error("s3_download_failed", "bucket", bucket, "key", key, "error", err)
		return nil, errors.Wrapf(err, "failed to read s3://%s/%s", bucket, key)
	}

	slog.Info("s3_download_complete", "bucket", bucket, "key", key, "size", len(data))
	return data, nil
}

// Exists checks if an object exists in S3
func (c *Client) Exists(ctx context.Context, rawURL string) (bool, error) {
	bucket, key, err := splitURL(rawURL)
	if err != nil {
		return false, err
	}

	_, err = c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") {
			slog.Info("s3_object_not_found", "bucket", bucket, "key", key)
			return false, nil
		}
		slog.Error("s3_head_object_failed", "bucket", bucket, "key", key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}
	return true, nil
}

// splitURL breaks s3://bucket/key into its parts.
func splitURL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", errors.Wrapf(err, "invalid s3 url %s", rawURL)
	}
	if u.Scheme != "s3" || u.Host == "" || len(u.Path) < 2 {
		return "", "", fmt.Errorf("invalid s3 url %s: want s3://bucket/key", rawURL)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}
