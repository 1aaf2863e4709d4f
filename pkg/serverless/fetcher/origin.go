package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/fisirc/nur-worker/pkg/serverless"
)

// Origin is the S3-backed object-store tier: the source of truth for
// function artifacts when neither the L1 nor the L2 cache holds a fresh
// copy. Keys are "builds/<uuid>.wasm.zst", holding Zstd-compressed raw
// WebAssembly bytes.
type Origin struct {
	client *s3.Client
	bucket string
	logger *zap.Logger
}

// NewOrigin builds an Origin client for the given region/bucket, using
// static credentials the same way the worker's original Rust env.rs
// required S3_ACCESS_KEY_ID/S3_SECRET_ACCESS_KEY to be set.
func NewOrigin(ctx context.Context, bucket, region, accessKeyID, secretAccessKey string, logger *zap.Logger) (*Origin, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return &Origin{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		logger: logger,
	}, nil
}

// Fetch downloads and decompresses the artifact for id, returning raw
// (not precompiled) WebAssembly bytes.
func (o *Origin) Fetch(ctx context.Context, id serverless.FunctionID) ([]byte, error) {
	key := fmt.Sprintf("builds/%s.wasm.zst", id.String())

	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", serverless.ErrDownloadFailed, err)
	}
	defer out.Body.Close()

	compressed, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %v", serverless.ErrDownloadFailed, err)
	}

	decoder, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", serverless.ErrDecompressionFailed, err)
	}
	defer decoder.Close()

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", serverless.ErrDecompressionFailed, err)
	}

	if o.logger != nil {
		o.logger.Debug("fetched artifact from origin",
			zap.String("function_id", id.String()),
			zap.Int("compressed_bytes", len(compressed)),
			zap.Int("raw_bytes", len(raw)),
		)
	}

	return raw, nil
}
