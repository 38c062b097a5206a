package storage

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var errWriterClosed = errors.New("storage: writer closed")

// pipeWriter adapts upload APIs that pull from an io.Reader into an
// ObjectWriter. The pipe is unbuffered, so each Write waits until the
// uploader has taken the bytes.
type pipeWriter struct {
	pw   *io.PipeWriter
	done chan struct{}
	err  error
	once sync.Once
	path string
}

func newPipeWriter(path string, upload func(r io.Reader) error) *pipeWriter {
	pr, pw := io.Pipe()
	w := &pipeWriter{pw: pw, done: make(chan struct{}), path: path}
	go func() {
		defer close(w.done)
		err := upload(pr)
		w.err = err
		if err == nil {
			err = errWriterClosed
		}
		pr.CloseWithError(err)
	}()
	return w
}

func (w *pipeWriter) Write(p []byte) (int, error) {
	n, err := w.pw.Write(p)
	if err != nil {
		return n, fmt.Errorf("error writing %s: %w", w.path, err)
	}
	return n, nil
}

func (w *pipeWriter) Close() error {
	w.once.Do(func() {
		w.pw.Close()
		<-w.done
	})
	if w.err != nil {
		return fmt.Errorf("error committing %s: %w", w.path, w.err)
	}
	return nil
}

func (w *pipeWriter) Abort(cause error) error {
	if cause == nil {
		cause = errWriterClosed
	}
	w.once.Do(func() {
		w.pw.CloseWithError(cause)
		<-w.done
	})
	return nil
}
