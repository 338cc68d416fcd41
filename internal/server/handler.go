package server

import (
	"context"
	"net"
	"time"

	"github.com/danmuck/aesdsocket/internal/observability"
	"github.com/danmuck/aesdsocket/internal/packet"
	"github.com/danmuck/aesdsocket/internal/store"
	"github.com/rs/zerolog/log"
)

// Exchange summarizes one handled connection.
type Exchange struct {
	Received packet.ReceiveResult
	Sent     int64
}

// Handler runs the receive-then-respond exchange for one connection.
// The store handle is opened and closed per call; the file persists.
type Handler struct {
	DataPath     string
	ChunkSize    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Handle receives until a packet boundary or peer close, then sends the
// whole store back. The response is sent even when the peer closed
// without a newline; only shutdown skips it.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) (Exchange, error) {
	var ex Exchange

	s, err := store.Open(h.DataPath)
	if err != nil {
		return ex, err
	}
	defer func() {
		if size, err := s.Size(); err == nil {
			observability.RecordStoreSize(size)
		}
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("store close failed")
		}
	}()

	armDeadline(ctx, conn.SetReadDeadline, h.ReadTimeout)
	ex.Received, err = packet.Receive(ctx, conn, s, h.ChunkSize)
	if err != nil {
		return ex, err
	}
	if ex.Received.Interrupted || ctx.Err() != nil {
		ex.Received.Interrupted = true
		return ex, nil
	}

	armDeadline(ctx, conn.SetWriteDeadline, h.WriteTimeout)
	ex.Sent, err = packet.Respond(ctx, conn, s, h.ChunkSize)
	return ex, err
}

// armDeadline applies a per-phase timeout. If shutdown already fired,
// the deadline is pulled to now so a blocked call returns at once.
func armDeadline(ctx context.Context, set func(time.Time) error, d time.Duration) {
	if d > 0 {
		_ = set(time.Now().Add(d))
	}
	if ctx.Err() != nil {
		_ = set(time.Now())
	}
}
