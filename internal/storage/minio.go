package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	PartSize  uint64
}

type MinioClient struct {
	client   *minio.Client
	partSize uint64
}

func NewMinioClient(cfg MinioConfig) (*MinioClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint must be provided")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating minio client: %v", err)
	}
	log.Debug().Str("op", "storage/minio").Msgf("minio client ready for %s", cfg.Endpoint)
	return &MinioClient{client: client, partSize: cfg.PartSize}, nil
}

func (c *MinioClient) Bucket(name string) Bucket {
	return &minioBucket{c: c, name: name}
}

func (c *MinioClient) Close() error {
	return nil
}

type minioBucket struct {
	c    *MinioClient
	name string
}

func (b *minioBucket) Name() string {
	return b.name
}

// NewWriter uploads with an unknown size, which minio turns into a multipart
// upload buffered one part at a time.
func (b *minioBucket) NewWriter(ctx context.Context, path string, opts WriterOptions) (ObjectWriter, error) {
	putOpts := minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
		PartSize:     b.c.partSize,
	}
	return newPipeWriter(path, func(r io.Reader) error {
		_, err := b.c.client.PutObject(ctx, b.name, path, r, -1, putOpts)
		return err
	}), nil
}

func (b *minioBucket) NewReader(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := b.c.client.GetObject(ctx, b.name, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, b.mapError(path, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, b.mapError(path, err)
	}
	return obj, nil
}

func (b *minioBucket) Stat(ctx context.Context, path string) (*ObjectAttrs, error) {
	info, err := b.c.client.StatObject(ctx, b.name, path, minio.StatObjectOptions{})
	if err != nil {
		return nil, b.mapError(path, err)
	}
	return &ObjectAttrs{
		Bucket:      b.name,
		Path:        path,
		ContentType: info.ContentType,
		Size:        info.Size,
		Updated:     info.LastModified,
		Metadata:    info.UserMetadata,
	}, nil
}

func (b *minioBucket) mapError(path string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s/%s", ErrObjectNotExist, b.name, path)
	}
	return fmt.Errorf("minio request for %s/%s failed: %w", b.name, path, err)
}

var _ Client = (*MinioClient)(nil)
