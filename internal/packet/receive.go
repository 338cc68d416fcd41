// Package packet implements the newline-framed exchange: receive bytes
// into the log until a newline, then stream the whole log back.
package packet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/aesdsocket/internal/store"
)

const (
	Delimiter        = '\n'
	DefaultChunkSize = 1024
)

// ReceiveResult describes why the receive loop stopped.
type ReceiveResult struct {
	Bytes       int64
	Complete    bool
	PeerClosed  bool
	Interrupted bool
}

// Receive reads chunks from r and appends each chunk verbatim to dst.
// It stops after the first chunk containing a newline; bytes after the
// newline in that chunk are appended too. A peer close ends the loop
// without error. Cancelling ctx abandons the loop without error, and a
// read failure that happens after cancellation counts as interruption.
func Receive(ctx context.Context, r io.Reader, dst store.Appender, chunkSize int) (ReceiveResult, error) {
	var res ReceiveResult
	if chunkSize <= 0 {
		return res, ErrInvalidChunk
	}
	buf := make([]byte, chunkSize)

	for {
		if ctx.Err() != nil {
			res.Interrupted = true
			return res, nil
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := dst.Append(buf[:n]); err != nil {
				return res, err
			}
			res.Bytes += int64(n)
			if bytes.IndexByte(buf[:n], Delimiter) >= 0 {
				res.Complete = true
				return res, nil
			}
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			res.PeerClosed = true
			return res, nil
		}
		if ctx.Err() != nil {
			res.Interrupted = true
			return res, nil
		}
		return res, fmt.Errorf("packet: receive: %w", readErr)
	}
}
