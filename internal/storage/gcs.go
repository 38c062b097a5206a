package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

type GCSConfig struct {
	CredentialsFile string
	ChunkSize       int
}

type GCSClient struct {
	client    *gcs.Client
	chunkSize int
}

func NewGCSClient(ctx context.Context, cfg GCSConfig) (*GCSClient, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("error reading credentials file: %v", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, gcs.ScopeReadWrite)
		if err != nil {
			return nil, fmt.Errorf("error parsing credentials: %v", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating GCS client: %v", err)
	}
	log.Debug().Str("op", "storage/gcs").Msg("GCS client ready")
	return &GCSClient{client: client, chunkSize: cfg.ChunkSize}, nil
}

func (c *GCSClient) Bucket(name string) Bucket {
	return &gcsBucket{c: c, bucket: c.client.Bucket(name), name: name}
}

func (c *GCSClient) Close() error {
	return c.client.Close()
}

type gcsBucket struct {
	c      *GCSClient
	bucket *gcs.BucketHandle
	name   string
}

func (b *gcsBucket) Name() string {
	return b.name
}

func (b *gcsBucket) NewWriter(ctx context.Context, path string, opts WriterOptions) (ObjectWriter, error) {
	wctx, cancel := context.WithCancel(ctx)
	w := b.bucket.Object(path).NewWriter(wctx)
	w.ContentType = opts.ContentType
	w.Metadata = opts.Metadata
	if b.c.chunkSize > 0 {
		w.ChunkSize = b.c.chunkSize
	}
	return &gcsWriter{w: w, cancel: cancel, path: path}, nil
}

func (b *gcsBucket) NewReader(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := b.bucket.Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotExist, b.name, path)
		}
		return nil, fmt.Errorf("error opening object: %v", err)
	}
	return r, nil
}

func (b *gcsBucket) Stat(ctx context.Context, path string) (*ObjectAttrs, error) {
	attrs, err := b.bucket.Object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotExist, b.name, path)
		}
		return nil, fmt.Errorf("error reading object attributes: %v", err)
	}
	return &ObjectAttrs{
		Bucket:      b.name,
		Path:        path,
		ContentType: attrs.ContentType,
		Size:        attrs.Size,
		Updated:     attrs.Updated,
		Metadata:    attrs.Metadata,
	}, nil
}

// gcsWriter commits on Close. Cancelling the writer context before Close is
// the only way to discard an upload in progress.
type gcsWriter struct {
	w      *gcs.Writer
	cancel context.CancelFunc
	path   string
}

func (w *gcsWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if err != nil {
		return n, fmt.Errorf("error writing %s: %w", w.path, err)
	}
	return n, nil
}

func (w *gcsWriter) Close() error {
	defer w.cancel()
	if err := w.w.Close(); err != nil {
		return fmt.Errorf("error committing %s: %w", w.path, err)
	}
	return nil
}

func (w *gcsWriter) Abort(cause error) error {
	w.cancel()
	w.w.Close()
	return nil
}

var _ Client = (*GCSClient)(nil)
