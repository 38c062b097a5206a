package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	partialDir = ".stager-partial"
	metaDir    = ".stager-meta"
)

// FSClient stores objects as files on an afero filesystem, one directory per
// bucket. Writes go to a partial file that is renamed into place on Close.
// Content type and metadata live in a sidecar tree next to the buckets.
type FSClient struct {
	fs afero.Fs
}

func NewFSClient(fs afero.Fs) *FSClient {
	return &FSClient{fs: fs}
}

// NewLocalClient serves buckets from directories under root.
func NewLocalClient(root string) (*FSClient, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("error creating storage root: %v", err)
	}
	log.Debug().Str("op", "storage/fs").Msgf("local storage rooted at %s", root)
	return NewFSClient(afero.NewBasePathFs(afero.NewOsFs(), root)), nil
}

func NewMemoryClient() *FSClient {
	return NewFSClient(afero.NewMemMapFs())
}

func (c *FSClient) Bucket(name string) Bucket {
	return &fsBucket{fs: c.fs, name: name}
}

func (c *FSClient) Close() error {
	return nil
}

// Objects lists the committed object paths of a bucket in lexical order.
func (c *FSClient) Objects(bucket string) ([]string, error) {
	root := path.Join("/", bucket)
	var paths []string
	err := afero.Walk(c.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			paths = append(paths, strings.TrimPrefix(p, root+"/"))
		}
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error listing bucket %s: %v", bucket, err)
	}
	sort.Strings(paths)
	return paths, nil
}

type fsBucket struct {
	fs   afero.Fs
	name string
}

type fsMeta struct {
	ContentType string            `json:"contentType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (b *fsBucket) Name() string {
	return b.name
}

func (b *fsBucket) objectPath(p string) string {
	return path.Join("/", b.name, p)
}

func (b *fsBucket) metaPath(p string) string {
	return path.Join("/", metaDir, b.name, p)
}

func (b *fsBucket) NewWriter(ctx context.Context, p string, opts WriterOptions) (ObjectWriter, error) {
	if err := b.fs.MkdirAll("/"+partialDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating partial directory: %v", err)
	}
	tmp := path.Join("/", partialDir, uuid.NewString())
	f, err := b.fs.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("error creating partial file: %v", err)
	}
	return &fsWriter{ctx: ctx, b: b, f: f, tmp: tmp, path: p, meta: fsMeta{ContentType: opts.ContentType, Metadata: opts.Metadata}}, nil
}

func (b *fsBucket) NewReader(ctx context.Context, p string) (io.ReadCloser, error) {
	f, err := b.fs.Open(b.objectPath(p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotExist, b.name, p)
		}
		return nil, fmt.Errorf("error opening object: %v", err)
	}
	return f, nil
}

func (b *fsBucket) Stat(ctx context.Context, p string) (*ObjectAttrs, error) {
	info, err := b.fs.Stat(b.objectPath(p))
	if err != nil || info.IsDir() {
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotExist, b.name, p)
		}
		return nil, fmt.Errorf("error reading object: %v", err)
	}
	attrs := &ObjectAttrs{Bucket: b.name, Path: p, Size: info.Size(), Updated: info.ModTime()}
	if data, err := afero.ReadFile(b.fs, b.metaPath(p)); err == nil {
		var meta fsMeta
		if err := json.Unmarshal(data, &meta); err == nil {
			attrs.ContentType = meta.ContentType
			attrs.Metadata = meta.Metadata
		}
	}
	return attrs, nil
}

type fsWriter struct {
	ctx    context.Context
	b      *fsBucket
	f      afero.File
	tmp    string
	path   string
	meta   fsMeta
	closed bool
}

func (w *fsWriter) Write(p []byte) (int, error) {
	if err := w.ctx.Err(); err != nil {
		return 0, fmt.Errorf("error writing %s: %w", w.path, err)
	}
	n, err := w.f.Write(p)
	if err != nil {
		return n, fmt.Errorf("error writing %s: %w", w.path, err)
	}
	return n, nil
}

func (w *fsWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.f.Close(); err != nil {
		w.b.fs.Remove(w.tmp)
		return fmt.Errorf("error committing %s: %w", w.path, err)
	}
	target := w.b.objectPath(w.path)
	if err := w.b.fs.MkdirAll(path.Dir(target), 0755); err != nil {
		w.b.fs.Remove(w.tmp)
		return fmt.Errorf("error committing %s: %w", w.path, err)
	}
	if err := w.writeMeta(); err != nil {
		w.b.fs.Remove(w.tmp)
		return fmt.Errorf("error committing %s: %w", w.path, err)
	}
	if err := w.b.fs.Rename(w.tmp, target); err != nil {
		w.b.fs.Remove(w.tmp)
		return fmt.Errorf("error committing %s: %w", w.path, err)
	}
	return nil
}

func (w *fsWriter) writeMeta() error {
	metaPath := w.b.metaPath(w.path)
	if err := w.b.fs.MkdirAll(path.Dir(metaPath), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(w.meta)
	if err != nil {
		return err
	}
	return afero.WriteFile(w.b.fs, metaPath, data, 0644)
}

func (w *fsWriter) Abort(cause error) error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.f.Close()
	if err := w.b.fs.Remove(w.tmp); err != nil {
		return fmt.Errorf("error discarding %s: %v", w.path, err)
	}
	return nil
}

var _ Client = (*FSClient)(nil)
