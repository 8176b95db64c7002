package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Client is a thin wrapper around the AWS SDK v2 S3 client scoped to the
// read-only listing calls discovery needs. It never mutates the remote store.
type Client struct {
	api *s3.Client
}

// Options carry per-connector credentials and scope. Endpoint is optional and
// used for S3-compatible stores (MinIO, SeaweedFS) where path-style addressing
// is forced.
type Options struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
}

// Object is one listed remote object.
type Object struct {
	Key          string
	SizeBytes    int64
	LastModified time.Time
}

// NewClient builds a listing client from static credentials.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.AccessKeyID == "" || opts.SecretAccessKey == "" {
		return nil, errors.New("access key id and secret access key are required")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	)
	if err != nil {
		return nil, err
	}

	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			endpoint := opts.Endpoint
			if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
				endpoint = fmt.Sprintf("https://%s", endpoint)
			}
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{api: api}, nil
}

// ListBuckets returns the names of all buckets visible to the credentials.
func (c *Client) ListBuckets(ctx context.Context) ([]string, error) {
	if c == nil {
		return nil, errors.New("nil client")
	}

	resp, err := c.api.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(resp.Buckets))
	for _, b := range resp.Buckets {
		if b.Name != nil {
			names = append(names, *b.Name)
		}
	}
	return names, nil
}

// ListObjects enumerates every object in the bucket using ListObjectsV2
// pagination.
func (c *Client) ListObjects(ctx context.Context, bucket string) ([]Object, error) {
	if c == nil {
		return nil, errors.New("nil client")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}

	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			item := Object{Key: *obj.Key}
			if obj.Size != nil {
				item.SizeBytes = *obj.Size
			}
			if obj.LastModified != nil {
				item.LastModified = *obj.LastModified
			}
			objects = append(objects, item)
		}
	}
	return objects, nil
}
