package transfer

import (
	"errors"
	"fmt"
	"io"
)

var (
	errSourceRead = errors.New("source read failed")
	errSinkWrite  = errors.New("sink write failed")
)

// relay copies src into dst one buffer at a time. The next read only happens
// after dst has accepted the previous buffer, so a slow sink throttles the
// source and memory stays at len(buf).
func relay(dst io.Writer, src io.Reader, buf []byte, progress func(int64)) (int64, error) {
	var written int64
	for {
		bytesRead, readErr := src.Read(buf)
		if bytesRead > 0 {
			n, writeErr := dst.Write(buf[:bytesRead])
			written += int64(n)
			if writeErr == nil && n != bytesRead {
				writeErr = io.ErrShortWrite
			}
			if writeErr != nil {
				return written, fmt.Errorf("%w: %w", errSinkWrite, writeErr)
			}
			if progress != nil {
				progress(int64(n))
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, fmt.Errorf("%w: %w", errSourceRead, readErr)
		}
	}
}
