package artifact

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"reelsmith/internal/config"
)

const videoContentType = "video/mp4"

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Mirror copies finished videos into an S3-compatible bucket.
type S3Mirror struct {
	client        putObjectAPI
	bucket        string
	prefix        string
	publicBaseURL string
}

// NewS3Mirror returns nil when no bucket is configured.
func NewS3Mirror(ctx context.Context, cfg config.MirrorConfig) (*S3Mirror, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &S3Mirror{
		client:        client,
		bucket:        cfg.Bucket,
		prefix:        strings.Trim(cfg.Prefix, "/"),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

func newS3Client(ctx context.Context, cfg config.MirrorConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// Put streams the file at localPath to <prefix>/<key> and returns its URL.
func (m *S3Mirror) Put(ctx context.Context, key, localPath string) (string, error) {
	body, err := os.Open(localPath) //nolint:gosec // path comes from a job workspace
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = body.Close() }()
	info, err := body.Stat()
	if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}

	objectKey := m.objectKey(key)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(objectKey),
		Body:          body,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(videoContentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	log.Debug().Str("bucket", m.bucket).Str("key", objectKey).Msg("artifact mirrored")
	return m.objectURL(objectKey), nil
}

func (m *S3Mirror) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if m.prefix == "" {
		return key
	}
	return path.Join(m.prefix, key)
}

func (m *S3Mirror) objectURL(objectKey string) string {
	if m.publicBaseURL != "" {
		return m.publicBaseURL + "/" + objectKey
	}
	return fmt.Sprintf("s3://%s/%s", m.bucket, objectKey)
}
