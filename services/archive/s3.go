package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"go.uber.org/zap"
)

// S3Archive stores failed batch payloads in an S3 compatible bucket
type S3Archive struct {
	s3Client *s3.S3
	bucket   string
	log      *zap.Logger
}

// S3Config holds configuration for the archive bucket
type S3Config struct {
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	// Endpoint is optional; set it for non-AWS providers such as Spaces or MinIO
	Endpoint string
	// PathStyle addresses the bucket in the path instead of the host name
	PathStyle bool
	Logger    *zap.Logger
}

// NewS3Archive creates a new archive client
func NewS3Archive(config S3Config) (*S3Archive, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	awsConfig := &aws.Config{
		Region:           aws.String(config.Region),
		S3ForcePathStyle: aws.Bool(config.PathStyle),
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive session: %w", err)
	}

	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &S3Archive{
		s3Client: s3.New(sess),
		bucket:   config.Bucket,
		log:      log,
	}, nil
}

// Archive uploads body as a private JSON object under key
func (a *S3Archive) Archive(ctx context.Context, key string, body []byte) error {
	_, err := a.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", key, err)
	}

	a.log.Info("failed batch archived", zap.String("bucket", a.bucket), zap.String("key", key), zap.Int("bytes", len(body)))
	return nil
}

// Fetch downloads an archived payload, used to replay a failed batch
func (a *S3Archive) Fetch(ctx context.Context, key string) ([]byte, error) {
	result, err := a.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	defer result.Body.Close()

	return io.ReadAll(result.Body)
}

// List returns archived keys under prefix
func (a *S3Archive) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := a.s3Client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list archive: %w", err)
	}
	return keys, nil
}
