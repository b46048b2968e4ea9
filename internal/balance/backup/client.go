// Package backup implements the cold-backup side of component H's
// persistence story (SPEC_FULL §2 and §8.4): periodic gzip archives of the
// warm-restart sqlite store, shipped to an S3-compatible bucket. Grounded on
// internal/reliability/r2_backup_service.go's staging/archive/upload shape,
// generalized from a Cloudflare-R2-specific client to the plain
// aws-sdk-go-v2 S3 client/uploader the rest of the ecosystem reaches for.
package backup

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Object describes one archive stored in the bucket.
type Object struct {
	Key  string
	Size int64
}

// Client is a thin S3-compatible bucket client, narrowed to what the backup
// service needs (upload, list-by-prefix, delete).
type Client struct {
	s3       *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewClient builds a Client against an S3-compatible endpoint (Cloudflare R2,
// MinIO, or AWS S3 itself). accessKey/secretKey/endpoint/region are supplied
// by the deployment's configuration layer, never hard-coded.
func NewClient(ctx context.Context, endpoint, region, accessKey, secretKey, bucket string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config for backup client: %w", err)
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	return &Client{
		s3:       s3Client,
		uploader: manager.NewUploader(s3Client),
		bucket:   bucket,
	}, nil
}

// Upload streams body (sized size) to the bucket under key.
func (c *Client) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("upload %s to bucket %s: %w", key, c.bucket, err)
	}
	return nil
}

// List returns every object whose key starts with prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects with prefix %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			o := Object{}
			if obj.Key != nil {
				o.Key = *obj.Key
			}
			if obj.Size != nil {
				o.Size = *obj.Size
			}
			out = append(out, o)
		}
	}
	return out, nil
}

// Delete removes a single object by key.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s from bucket %s: %w", key, c.bucket, err)
	}
	return nil
}
