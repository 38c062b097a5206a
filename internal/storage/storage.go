// Package storage is the object storage sink and source used by the transfer
// pipeline. Writers stream: bytes are pushed to the backend as they are
// written, and an object only becomes visible once its writer is closed.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrObjectNotExist = errors.New("storage: object does not exist")

// ObjectAttrs is the metadata a backend reports for a stored object.
type ObjectAttrs struct {
	Bucket      string
	Path        string
	ContentType string
	Size        int64
	Updated     time.Time
	Metadata    map[string]string
}

type WriterOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectWriter is a write handle on a single object. Write blocks while the
// backend is not ready for more bytes. Close commits the object; Abort
// releases the handle and guarantees the object is not created.
type ObjectWriter interface {
	io.Writer
	Close() error
	Abort(cause error) error
}

type Bucket interface {
	Name() string
	NewWriter(ctx context.Context, path string, opts WriterOptions) (ObjectWriter, error)
	NewReader(ctx context.Context, path string) (io.ReadCloser, error)
	Stat(ctx context.Context, path string) (*ObjectAttrs, error)
}

// Client is a process-wide handle on a storage service. It holds no
// per-invocation state and is safe to share.
type Client interface {
	Bucket(name string) Bucket
	Close() error
}
