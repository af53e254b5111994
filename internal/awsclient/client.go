// Package awsclient builds S3 clients from repository settings.
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"cmslake/internal/config"
)

// New returns an S3 client for the repository. Static keys from the
// credentials config take precedence over the default credential chain; a
// custom endpoint switches to path-style addressing.
func New(ctx context.Context, repo config.RepositoryConfig, creds config.CredentialsConfig) (*s3.Client, error) {
	region := repo.Region
	if region == "" {
		region = "us-east-1"
		if repo.StorageProvider == config.ProviderR2 {
			region = "auto"
		}
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if creds.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if repo.Endpoint != "" {
			o.BaseEndpoint = aws.String(repo.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
