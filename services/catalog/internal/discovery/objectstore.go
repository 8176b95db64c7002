package discovery

import (
	"context"
	"fmt"
	"log"
	"time"

	gos3 "catalogd/pkg/s3"
	"catalogd/services/catalog/internal/model"
)

const objectStoreSource = "Amazon S3"

// objectStore is the slice of the S3 listing client the adapter needs; tests
// substitute a fake.
type objectStore interface {
	ListBuckets(ctx context.Context) ([]string, error)
	ListObjects(ctx context.Context, bucket string) ([]gos3.Object, error)
}

// ObjectStoreAdapter discovers S3-compatible object stores.
type ObjectStoreAdapter struct {
	logger *log.Logger
	open   func(ctx context.Context, conn model.Connector) (objectStore, error)
}

// NewObjectStoreAdapter builds the adapter backed by the AWS SDK client.
func NewObjectStoreAdapter(logger *log.Logger) *ObjectStoreAdapter {
	if logger == nil {
		logger = log.Default()
	}
	return &ObjectStoreAdapter{
		logger: logger,
		open: func(ctx context.Context, conn model.Connector) (objectStore, error) {
			return gos3.NewClient(ctx, gos3.Options{
				AccessKeyID:     conn.ConfigString("access_key_id", "accessKeyId"),
				SecretAccessKey: conn.ConfigString("secret_access_key", "secretAccessKey"),
				Region:          conn.ConfigString("region"),
				Endpoint:        conn.ConfigString("endpoint"),
			})
		},
	}
}

// Discover lists every object in the connector's bucket scope, or in all
// visible buckets when no scope is configured. A bucket that fails to
// enumerate is logged and skipped; the pass keeps going.
func (a *ObjectStoreAdapter) Discover(ctx context.Context, conn model.Connector) (*Result, error) {
	accessKey := conn.ConfigString("access_key_id", "accessKeyId")
	secretKey := conn.ConfigString("secret_access_key", "secretAccessKey")
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("%w: connector %s has no access key pair", ErrConfiguration, conn.ID)
	}

	client, err := a.open(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	var buckets []string
	if scoped := conn.ConfigString("bucket", "bucket_name", "bucketName"); scoped != "" {
		buckets = []string{scoped}
	} else {
		buckets, err = client.ListBuckets(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list buckets: %v", ErrRemoteUnavailable, err)
		}
	}

	result := &Result{}
	for _, bucket := range buckets {
		objects, err := client.ListObjects(ctx, bucket)
		if err != nil {
			a.logger.Printf("WARN connector %s: skipping bucket %s: %v", conn.ID, bucket, err)
			result.skip(bucket, err)
			continue
		}

		descriptors := make([]model.AssetDescriptor, 0, len(objects))
		for _, obj := range objects {
			descriptors = append(descriptors, objectDescriptor(bucket, obj))
		}
		result.add(bucket, descriptors...)
	}

	return result, nil
}

func objectDescriptor(bucket string, obj gos3.Object) model.AssetDescriptor {
	modified := obj.LastModified
	if modified.IsZero() {
		modified = time.Now().UTC()
	}
	return model.AssetDescriptor{
		ID:           fmt.Sprintf("s3://%s/%s", bucket, obj.Key),
		Name:         model.BaseName(obj.Key),
		Type:         model.Classify(obj.Key),
		Catalog:      bucket,
		Schema:       model.SchemaOf(obj.Key),
		SizeBytes:    obj.SizeBytes,
		LastModified: modified,
		Source:       objectStoreSource,
	}
}
