// Package transfer moves bytes from remote sources into object storage: the
// Fetcher streams HTTP downloads into a single object and the Extractor fans
// a stored zip archive out into one object per entry.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/stager/internal/routing"
	"github.com/tanq16/stager/internal/storage"
	"github.com/tanq16/stager/internal/utils"
)

// Doer issues HTTP requests. The response must be returned as soon as the
// headers arrive, with the body left unread.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Fetcher struct {
	Client       Doer
	Bucket       storage.Bucket
	BufferSize   int
	ProgressFunc func(written int64)
}

func NewFetcher(client Doer, bucket storage.Bucket) *Fetcher {
	return &Fetcher{Client: client, Bucket: bucket, BufferSize: utils.DefaultBufferSize}
}

// Fetch downloads sourceURL into the object rule derives for it. Nothing is
// written unless the server answers 200, and the object is only committed
// after the whole body has been written.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string, rule routing.Rule) (*Outcome, error) {
	o := newOutcome("fetch", sourceURL)
	o.Destination = routing.DestinationPath(rule, sourceURL)
	fileName := routing.FileName(sourceURL)
	if fileName == "" {
		o.fail(TransportError, fmt.Errorf("source URL %q names no file", sourceURL))
		log.Error().Str("op", "transfer/fetcher").Err(o.Err).Msg("Download Rejected")
		return o.result()
	}
	log.Info().Str("op", "transfer/fetcher").Msgf("Downloading %s to %s", fileName, o.Destination)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		o.fail(TransportError, fmt.Errorf("error creating GET request: %w", err))
		log.Error().Str("op", "transfer/fetcher").Err(o.Err).Msgf("Download Error: %s", fileName)
		return o.result()
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		o.fail(TransportError, fmt.Errorf("error executing GET request: %w", err))
		log.Error().Str("op", "transfer/fetcher").Err(o.Err).Msgf("Download Error: %s", fileName)
		return o.result()
	}
	defer resp.Body.Close()

	// The body stays unread until the sink exists, so no bytes are buffered
	// or dropped between the headers and the first write.
	o.StatusCode = resp.StatusCode
	o.ContentType = resp.Header.Get("Content-Type")
	if resp.StatusCode != http.StatusOK {
		o.fail(NonSuccessStatus, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
		log.Warn().Str("op", "transfer/fetcher").Int("status", resp.StatusCode).Msgf("Download Skipped: %s", fileName)
		return o.result()
	}

	w, err := f.Bucket.NewWriter(ctx, o.Destination, storage.WriterOptions{ContentType: o.ContentType})
	if err != nil {
		o.fail(WriteError, err)
		log.Error().Str("op", "transfer/fetcher").Err(err).Msgf("Download Error: %s", fileName)
		return o.result()
	}
	bufSize := f.BufferSize
	if bufSize <= 0 {
		bufSize = utils.DefaultBufferSize
	}
	o.Bytes, err = relay(w, resp.Body, make([]byte, bufSize), f.ProgressFunc)
	if err != nil {
		w.Abort(err)
		kind := TransportError
		if errors.Is(err, errSinkWrite) {
			kind = WriteError
		}
		o.fail(kind, err)
		log.Error().Str("op", "transfer/fetcher").Err(err).Int64("bytes", o.Bytes).Msgf("Download Error: %s", fileName)
		return o.result()
	}
	if err := w.Close(); err != nil {
		o.fail(WriteError, err)
		log.Error().Str("op", "transfer/fetcher").Err(err).Msgf("Download Error: %s", fileName)
		return o.result()
	}
	log.Info().Str("op", "transfer/fetcher").Msgf("Download Finished: %s (%s)", fileName, utils.FormatBytes(uint64(o.Bytes)))
	return o.result()
}
