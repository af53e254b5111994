package vault

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"cmslake/internal/lake"
)

// S3Vault talks to the bucket directly with static credentials. Uploads go
// through the multipart-aware manager.Uploader.
type S3Vault struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

func NewS3Vault(client *s3.Client, bucket string) (*S3Vault, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 vault requires a client")
	}
	if bucket == "" {
		return nil, fmt.Errorf("s3 vault requires a bucket")
	}
	return &S3Vault{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
	}, nil
}

func (v *S3Vault) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(v.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	out, err := v.uploader.Upload(ctx, in)
	if err != nil {
		return "", fmt.Errorf("uploading s3://%s/%s: %w", v.bucket, key, err)
	}
	return out.Location, nil
}

func (v *S3Vault) Get(ctx context.Context, key string, w io.Writer) error {
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return &lake.NotFoundError{Kind: "object", ID: key}
		}
		return fmt.Errorf("downloading s3://%s/%s: %w", v.bucket, key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading s3://%s/%s: %w", v.bucket, key, err)
	}
	return nil
}

func (v *S3Vault) Exists(ctx context.Context, key string) bool {
	_, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	return err == nil
}

// ValidateSetup checks that the bucket exists and the credentials reach it.
func (v *S3Vault) ValidateSetup(ctx context.Context) error {
	if _, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(v.bucket)}); err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

var _ lake.Vault = (*S3Vault)(nil)
