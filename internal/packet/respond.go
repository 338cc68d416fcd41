package packet

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/aesdsocket/internal/store"
)

// Respond streams the full content of src to w in chunkSize pieces.
// It returns the number of bytes sent. Cancelling ctx stops between
// chunks without error.
func Respond(ctx context.Context, w io.Writer, src store.Source, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		return 0, ErrInvalidChunk
	}
	r, err := src.Reader()
	if err != nil {
		return 0, err
	}
	buf := make([]byte, chunkSize)

	var sent int64
	for {
		if ctx.Err() != nil {
			return sent, nil
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			written, err := w.Write(buf[:n])
			sent += int64(written)
			if err != nil {
				if ctx.Err() != nil {
					return sent, nil
				}
				return sent, fmt.Errorf("packet: send: %w", err)
			}
			if written != n {
				return sent, fmt.Errorf("%w: sent %d of %d bytes", ErrShortWrite, written, n)
			}
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			return sent, nil
		}
		return sent, readErr
	}
}
