package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

type S3Config struct {
	Region      string
	Profile     string
	Endpoint    string
	AccessKey   string
	SecretKey   string
	PartSize    int64
	Concurrency int
}

type S3Client struct {
	client   *s3.Client
	uploader *manager.Uploader
}

// LoadAWSConfig resolves the shared AWS configuration used by the S3 backend
// and the Secrets Manager resolver.
func LoadAWSConfig(ctx context.Context, region, profile, accessKey, secretKey string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRetryMode("adaptive"),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("error loading AWS config: %v", err)
	}
	return cfg, nil
}

func NewS3Client(ctx context.Context, cfg S3Config) (*S3Client, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg.Region, cfg.Profile, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize > 0 {
			u.PartSize = cfg.PartSize
		}
		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
	})
	log.Debug().Str("op", "storage/s3").Msgf("S3 client ready (region %s)", awsCfg.Region)
	return &S3Client{client: client, uploader: uploader}, nil
}

func (c *S3Client) Bucket(name string) Bucket {
	return &s3Bucket{c: c, name: name}
}

func (c *S3Client) Close() error {
	return nil
}

type s3Bucket struct {
	c    *S3Client
	name string
}

func (b *s3Bucket) Name() string {
	return b.name
}

// NewWriter streams into a multipart upload. The uploader holds at most
// PartSize*Concurrency bytes regardless of the object size.
func (b *s3Bucket) NewWriter(ctx context.Context, path string, opts WriterOptions) (ObjectWriter, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(path),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}
	return newPipeWriter(path, func(r io.Reader) error {
		input.Body = r
		_, err := b.c.uploader.Upload(ctx, input)
		return err
	}), nil
}

func (b *s3Bucket) NewReader(ctx context.Context, path string) (io.ReadCloser, error) {
	result, err := b.c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(path),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrObjectNotExist, b.name, path)
		}
		return nil, fmt.Errorf("error getting object: %v", err)
	}
	return result.Body, nil
}

func (b *s3Bucket) Stat(ctx context.Context, path string) (*ObjectAttrs, error) {
	headObj, err := b.c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(path),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrObjectNotExist, b.name, path)
		}
		return nil, fmt.Errorf("error accessing S3 object: %v", err)
	}
	return &ObjectAttrs{
		Bucket:      b.name,
		Path:        path,
		ContentType: aws.ToString(headObj.ContentType),
		Size:        aws.ToInt64(headObj.ContentLength),
		Updated:     aws.ToTime(headObj.LastModified),
		Metadata:    headObj.Metadata,
	}, nil
}

var _ Client = (*S3Client)(nil)
