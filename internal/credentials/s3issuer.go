package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultURLTTL is the lifetime of URLs presigned locally.
const DefaultURLTTL = 15 * time.Minute

// S3Issuer presigns URLs locally with bucket credentials, for deployments
// without a signing service.
type S3Issuer struct {
	presigner *s3.PresignClient
	bucket    string
	ttl       time.Duration
}

var _ Issuer = (*S3Issuer)(nil)

func NewS3Issuer(client *s3.Client, bucket string, ttl time.Duration) *S3Issuer {
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return &S3Issuer{presigner: s3.NewPresignClient(client), bucket: bucket, ttl: ttl}
}

func (i *S3Issuer) RequiresSession() bool { return false }

func (i *S3Issuer) Presign(ctx context.Context, _ string, req PresignRequest) (*PresignResponse, error) {
	var (
		signed *v4.PresignedHTTPRequest
		err    error
	)
	expires := s3.WithPresignExpires(i.ttl)
	switch req.Operation {
	case OpGet:
		signed, err = i.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(i.bucket),
			Key:    aws.String(req.Path),
		}, expires)
	case OpPut:
		in := &s3.PutObjectInput{Bucket: aws.String(i.bucket), Key: aws.String(req.Path)}
		if req.ContentType != "" {
			in.ContentType = aws.String(req.ContentType)
		}
		signed, err = i.presigner.PresignPutObject(ctx, in, expires)
	case OpDelete:
		signed, err = i.presigner.PresignDeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(i.bucket),
			Key:    aws.String(req.Path),
		}, expires)
	default:
		return nil, fmt.Errorf("presigning %s: unsupported operation %q", req.Path, req.Operation)
	}
	if err != nil {
		return nil, fmt.Errorf("presigning %s %s: %w", req.Operation, req.Path, err)
	}
	return &PresignResponse{
		URL:       signed.URL,
		ExpiresIn: int64(i.ttl / time.Second),
		Path:      req.Path,
		Operation: req.Operation,
	}, nil
}

func (i *S3Issuer) PresignBatch(ctx context.Context, token string, req BatchRequest) (*BatchResponse, error) {
	out := &BatchResponse{URLs: make(map[string]string, len(req.Paths)), ExpiresIn: int64(i.ttl / time.Second)}
	for _, p := range req.Paths {
		resp, err := i.Presign(ctx, token, PresignRequest{Provider: req.Provider, Operation: req.Operation, Path: p})
		if err != nil {
			return nil, err
		}
		out.URLs[p] = resp.URL
	}
	return out, nil
}
