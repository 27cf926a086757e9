package origin

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"lessonvault/internal/config"
	"lessonvault/internal/license"
	"lessonvault/internal/model"
)

// S3Origin keeps assets in an S3 bucket and hands out presigned GET URLs, so
// clients download straight from the bucket.
type S3Origin struct {
	client   *s3.Client
	presign  *s3.PresignClient
	uploader *manager.Uploader
	bucket   string
	prefix   string
	clock    license.Clock
}

// NewS3Origin loads AWS configuration the usual way (environment, shared
// config, instance role). LICENSED_S3_ACCESS_KEY_ID and
// LICENSED_S3_SECRET_ACCESS_KEY, when set, take precedence; this is mostly
// useful for S3-compatible stores given by s3_endpoint.
func NewS3Origin(ctx context.Context, cfg config.OriginConfig, clock license.Clock) (*S3Origin, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 origin requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if id := os.Getenv("LICENSED_S3_ACCESS_KEY_ID"); id != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, os.Getenv("LICENSED_S3_SECRET_ACCESS_KEY"), ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3OriginFromClient(client, cfg.S3Bucket, cfg.S3Prefix, clock), nil
}

// NewS3OriginFromClient wraps an existing S3 client.
func NewS3OriginFromClient(client *s3.Client, bucket, prefix string, clock license.Clock) *S3Origin {
	return &S3Origin{
		client:   client,
		presign:  s3.NewPresignClient(client),
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
		clock:    clock,
	}
}

// IssueURL presigns a GET for the content's object.
func (o *S3Origin) IssueURL(ctx context.Context, content *model.Content, ttl time.Duration) (string, time.Time, error) {
	if err := validKey(content.ObjectKey); err != nil {
		return "", time.Time{}, err
	}
	now := o.clock.Now()
	req, err := o.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.objectKey(content.ObjectKey)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presigning %s: %w", content.ObjectKey, err)
	}
	return req.URL, now.Add(ttl), nil
}

// Put uploads an asset, using multipart upload for large bodies.
func (o *S3Origin) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := validKey(key); err != nil {
		return err
	}
	_, err := o.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.objectKey(key)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

// ValidateSetup checks that the bucket exists and is reachable.
func (o *S3Origin) ValidateSetup(ctx context.Context) error {
	if _, err := o.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(o.bucket)}); err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", o.bucket, err)
	}
	return nil
}

func (o *S3Origin) objectKey(key string) string {
	if o.prefix == "" {
		return key
	}
	return path.Join(o.prefix, key)
}

var _ Origin = (*S3Origin)(nil)
