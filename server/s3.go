package server

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// StorageAPI is the slice of the S3 API the backend drives. R2 and other
// S3-compatible stores satisfy it through the same SDK client.
type StorageAPI interface {
	CreateMultipartUpload(
		ctx context.Context,
		params *s3.CreateMultipartUploadInput,
		optFns ...func(*s3.Options),
	) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(
		ctx context.Context,
		params *s3.CompleteMultipartUploadInput,
		optFns ...func(*s3.Options),
	) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(
		ctx context.Context,
		params *s3.AbortMultipartUploadInput,
		optFns ...func(*s3.Options),
	) (*s3.AbortMultipartUploadOutput, error)
}

// PresignAPI mints the single-use part destination URLs handed to clients.
type PresignAPI interface {
	PresignUploadPart(
		ctx context.Context,
		params *s3.UploadPartInput,
		optFns ...func(*s3.PresignOptions),
	) (*v4.PresignedHTTPRequest, error)
}

// StorageConfig selects the bucket and endpoint the backend finalizes into.
type StorageConfig struct {
	Region string

	// Endpoint overrides the SDK's default endpoint (R2, MinIO, LocalStack)
	Endpoint string

	// UsePathStyle is required for most S3-compatible services
	UsePathStyle bool
}

// NewStorage builds the real S3 client and its presigner from the default
// credential chain.
func NewStorage(ctx context.Context, cfg StorageConfig) (StorageAPI, PresignAPI, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return client, s3.NewPresignClient(client), nil
}
