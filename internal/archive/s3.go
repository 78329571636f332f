package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// minioRegion is used when no region is configured; MinIO ignores it but
// the SDK signer requires one.
const minioRegion = "us-east-1"

// S3Backend keeps execution archives in an S3 or MinIO bucket.
type S3Backend struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	prefix    string
}

// NewS3Backend connects to the bucket named in cfg. Static credentials are
// used when both keys are set; otherwise the default AWS chain applies.
func NewS3Backend(cfg *Config) (*S3Backend, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = minioRegion
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if url := endpointURL(cfg.Endpoint, cfg.UseSSL); url != "" {
			o.BaseEndpoint = aws.String(url)
			o.UsePathStyle = true
		}
	})
	return &S3Backend{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		prefix:    cfg.PathPrefix,
	}, nil
}

// endpointURL turns a MinIO host:port into a base URL. Empty means AWS.
func endpointURL(endpoint string, useSSL bool) string {
	switch {
	case endpoint == "":
		return ""
	case useSSL:
		return "https://" + endpoint
	default:
		return "http://" + endpoint
	}
}

// objectKey keeps a trailing slash so list prefixes stay directory-scoped.
func (b *S3Backend) objectKey(p string) string {
	if b.prefix == "" {
		return p
	}
	return strings.TrimSuffix(b.prefix, "/") + "/" + p
}

func (b *S3Backend) objectURI(key string) string {
	return "s3://" + b.bucket + "/" + key
}

// Put uploads an archive document. Documents are small JSON records, so
// the body is buffered to compute its checksum and length up front.
func (b *S3Backend) Put(ctx context.Context, p string, data io.Reader, contentType string) (*ObjectRef, error) {
	body, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("read archive body: %w", err)
	}
	sum := sha256.Sum256(body)
	key := b.objectKey(p)

	if _, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	}); err != nil {
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}

	return &ObjectRef{
		URI:         b.objectURI(key),
		ContentType: contentType,
		Size:        int64(len(body)),
		Checksum:    hex.EncodeToString(sum[:]),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Get opens an archive document. A missing key maps to ErrNotFound.
func (b *S3Backend) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(p)),
	})
	var noKey *s3types.NoSuchKey
	switch {
	case errors.As(err, &noKey):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	case err != nil:
		return nil, fmt.Errorf("download %s: %w", p, err)
	}
	return out.Body, nil
}

// List walks every page under prefix.
func (b *S3Backend) List(ctx context.Context, prefix string) ([]*ObjectRef, error) {
	pages := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.objectKey(prefix)),
	})

	refs := []*ObjectRef{}
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			refs = append(refs, &ObjectRef{
				URI:       b.objectURI(aws.ToString(obj.Key)),
				Size:      aws.ToInt64(obj.Size),
				CreatedAt: aws.ToTime(obj.LastModified),
			})
		}
	}
	return refs, nil
}

// PresignGet returns a time-limited download URL for an archive document.
func (b *S3Backend) PresignGet(ctx context.Context, p string, expiry time.Duration) (string, error) {
	req, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(p)),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", p, err)
	}
	return req.URL, nil
}
