package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"kvstore.dev/kvstore/internal/apperr"
)

// S3Backend is the intentionally shallow S3 variant: whole-object
// Put/Get only, no chunk-level dedup, range reads delegated to S3's
// native Range header. Grounded on storage/s3_interface.go's S3Client
// abstraction, narrowed to the handful of calls this backend needs.
type S3Backend struct {
	client *s3.Client
	bucket string
}

// NewS3Backend builds an S3Backend against the given S3 bucket/region. The
// tenant/kvstore-bucket namespace is expressed as a key prefix; the
// underlying S3 bucket is a single shared bucket per deployment.
func NewS3Backend(ctx context.Context, s3Bucket, region string) (*S3Backend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Backend{client: s3.NewFromConfig(cfg), bucket: s3Bucket}, nil
}

func objectPath(tenant, bucket, key string) string {
	if tenant == "" {
		return fmt.Sprintf("%s/%s", bucket, key)
	}
	return fmt.Sprintf("%s/%s/%s", tenant, bucket, key)
}

func (s *S3Backend) Put(ctx context.Context, tenantID, bucket, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectPath(tenantID, bucket, key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return apperr.Fatal("s3 put object", err)
	}
	return nil
}

func (s *S3Backend) Get(ctx context.Context, tenantID, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectPath(tenantID, bucket, key)),
	})
	if err != nil {
		return nil, apperr.NotFound(fmt.Sprintf("object %q not found", key))
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperr.Fatal("s3 read object body", err)
	}
	return data, nil
}

func (s *S3Backend) GetRange(ctx context.Context, tenantID, bucket, key string, offset, length int64) ([]byte, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-", offset)
	if length >= 0 {
		rangeHeader = fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectPath(tenantID, bucket, key)),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return nil, apperr.New(apperr.KindUnsatisfiable, fmt.Sprintf("range not satisfiable: %v", err))
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperr.Fatal("s3 read object body", err)
	}
	return data, nil
}

func (s *S3Backend) Delete(ctx context.Context, tenantID, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectPath(tenantID, bucket, key)),
	})
	if err != nil {
		return apperr.Fatal("s3 delete object", err)
	}
	return nil
}
