package transfer

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/stager/internal/archive"
	"github.com/tanq16/stager/internal/routing"
	"github.com/tanq16/stager/internal/storage"
	"github.com/tanq16/stager/internal/utils"
	"golang.org/x/sync/errgroup"
)

const DefaultCommitConcurrency = 4

// ObjectRef identifies a stored object announced by a storage notification.
type ObjectRef struct {
	Bucket      string
	Path        string
	ContentType string
	Size        int64
}

type Extractor struct {
	Bucket            storage.Bucket
	Prefix            string
	Extension         string
	CommitConcurrency int
	BufferSize        int
}

func NewExtractor(bucket storage.Bucket, prefix string) *Extractor {
	return &Extractor{
		Bucket:            bucket,
		Prefix:            prefix,
		Extension:         routing.DefaultArchiveExtension,
		CommitConcurrency: DefaultCommitConcurrency,
		BufferSize:        utils.DefaultBufferSize,
	}
}

// Extract writes every file entry of the archive at ref.Path to
// <archive path without extension>/<entry path>. Entries are copied one at a
// time as the archive is decoded; committing a finished entry overlaps with
// decoding the next one, bounded by CommitConcurrency. A failed entry is
// recorded and the remaining entries are still extracted.
func (x *Extractor) Extract(ctx context.Context, ref ObjectRef) (*Outcome, error) {
	o := newOutcome("extract", ref.Path)
	ext := x.Extension
	if ext == "" {
		ext = routing.DefaultArchiveExtension
	}
	if !routing.IsArchive(ref.Path, x.Prefix, ext) {
		o.Kind = FilterSkip
		log.Debug().Str("op", "transfer/extractor").Msgf("Skipping File: %s", ref.Path)
		return o.result()
	}
	folder := routing.DestinationFolder(ref.Path, ext)
	o.Destination = folder
	log.Info().Str("op", "transfer/extractor").Msgf("Processing Zip: %s", ref.Path)

	rc, err := x.Bucket.NewReader(ctx, ref.Path)
	if err != nil {
		o.fail(TransportError, err)
		log.Error().Str("op", "transfer/extractor").Err(err).Msgf("Zip Error: %s", ref.Path)
		return o.result()
	}
	defer rc.Close()

	bufSize := x.BufferSize
	if bufSize <= 0 {
		bufSize = utils.DefaultBufferSize
	}
	buf := make([]byte, bufSize)
	zr := archive.NewReader(rc)

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(max(x.CommitConcurrency, 1))
	record := func(e EntryOutcome) int {
		mu.Lock()
		defer mu.Unlock()
		o.Entries = append(o.Entries, e)
		o.Bytes += e.Bytes
		return len(o.Entries) - 1
	}

	for {
		entry, err := zr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			o.fail(DecodeError, err)
			log.Error().Str("op", "transfer/extractor").Err(err).Msgf("Zip Error: %s", ref.Path)
			break
		}
		log.Debug().Str("op", "transfer/extractor").Msgf("Found %s: %s", entry.Type, entry.Name)
		if entry.Type == archive.TypeDirectory {
			continue
		}
		dest := routing.EntryPath(folder, entry.Name)
		if entry.Err != nil {
			record(EntryOutcome{Name: entry.Name, Destination: dest, Kind: DecodeError, Err: entry.Err})
			log.Error().Str("op", "transfer/extractor").Err(entry.Err).Msgf("File Error: %s", entry.Name)
			continue
		}

		w, err := x.Bucket.NewWriter(ctx, dest, storage.WriterOptions{ContentType: mime.TypeByExtension(path.Ext(entry.Name))})
		if err != nil {
			record(EntryOutcome{Name: entry.Name, Destination: dest, Kind: WriteError, Err: err})
			log.Error().Str("op", "transfer/extractor").Err(err).Msgf("File Error: %s", entry.Name)
			continue
		}
		n, err := relay(w, zr, buf, nil)
		if err != nil {
			w.Abort(err)
			kind := DecodeError
			if errors.Is(err, errSinkWrite) {
				kind = WriteError
			}
			record(EntryOutcome{Name: entry.Name, Destination: dest, Kind: kind, Bytes: n, Err: err})
			log.Error().Str("op", "transfer/extractor").Err(err).Msgf("File Error: %s", entry.Name)
			continue
		}

		// The entry is fully read; its commit can finish while the decoder
		// moves on. Go blocks once CommitConcurrency commits are pending.
		idx := record(EntryOutcome{Name: entry.Name, Destination: dest, Kind: Success, Bytes: n})
		name := entry.Name
		g.Go(func() error {
			if err := w.Close(); err != nil {
				mu.Lock()
				o.Entries[idx].Kind = WriteError
				o.Entries[idx].Err = err
				mu.Unlock()
				log.Error().Str("op", "transfer/extractor").Err(err).Msgf("File Error: %s", name)
				return nil
			}
			log.Info().Str("op", "transfer/extractor").Msgf("File Extracted: %s", name)
			return nil
		})
	}
	g.Wait()

	if o.Kind == Success {
		for _, e := range o.Entries {
			if e.Kind.Failed() {
				o.fail(e.Kind, e.Err)
				break
			}
		}
	}
	if !o.Kind.Failed() {
		log.Info().Str("op", "transfer/extractor").Msgf("Zip Processed: %s (%d files)", ref.Path, o.Written())
	}
	return o.result()
}
