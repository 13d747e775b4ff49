package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/config"
)

// S3Store is an S3 (or S3-compatible) bucket.
type S3Store struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

var _ Store = (*S3Store)(nil)

// NewS3Store builds the client from the default AWS chain, optionally
// overridden by explicit credentials and a custom endpoint.
func NewS3Store(ctx context.Context, conf config.Config) (*S3Store, error) {
	if conf.S3Bucket == "" {
		return nil, errors.New("S3_BUCKET is not set")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if conf.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(conf.S3Region))
	}
	if conf.S3AccessKeyID != "" && conf.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conf.S3AccessKeyID, conf.S3SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if conf.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(conf.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	slog.Info("using s3 object store", "bucket", conf.S3Bucket, "region", cfg.Region, "endpoint", conf.S3Endpoint)
	return &S3Store{
		client:  client,
		bucket:  conf.S3Bucket,
		baseURL: publicBaseURL(conf, cfg.Region),
	}, nil
}

func publicBaseURL(conf config.Config, region string) string {
	switch {
	case conf.S3PublicBaseURL != "":
		return strings.TrimRight(conf.S3PublicBaseURL, "/")
	case conf.S3Endpoint != "":
		return strings.TrimRight(conf.S3Endpoint, "/") + "/" + conf.S3Bucket
	case region != "":
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", conf.S3Bucket, region)
	default:
		return fmt.Sprintf("https://%s.s3.amazonaws.com", conf.S3Bucket)
	}
}

func (s *S3Store) URL(key string) string {
	return joinURL(s.baseURL, key)
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Object, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}
	if opts.Size > 0 {
		in.ContentLength = aws.Int64(opts.Size)
	}
	if opts.Public {
		in.ACL = types.ObjectCannedACLPublicRead
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return Object{}, fmt.Errorf("put %s: %w", key, err)
	}
	return Object{Key: key, URL: s.URL(key)}, nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return resp.Body, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			out = append(out, Object{Key: key, URL: s.URL(key), Size: aws.ToInt64(o.Size)})
		}
	}
	return out, nil
}

// Open returns the S3 store when a bucket is configured, otherwise an
// in-memory store serving URLs under the public base URL.
func Open(ctx context.Context, conf config.Config) (Store, error) {
	if conf.ObjectStoreConfigured() {
		s, err := NewS3Store(ctx, conf)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	slog.Warn("S3_BUCKET not set, using in-memory object store")
	return NewMemoryStore(strings.TrimRight(conf.PublicBaseURL, "/") + "/objects"), nil
}
