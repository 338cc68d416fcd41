// Package server runs the serial accept loop.
//
// One connection is handled at a time: the next Accept happens only
// after the current exchange returns. Shutdown closes the listener and
// expires the active connection's deadlines, which unblocks whichever
// call the loop is parked in.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/aesdsocket/internal/config"
	"github.com/danmuck/aesdsocket/internal/daemon"
	"github.com/danmuck/aesdsocket/internal/observability"
	"github.com/danmuck/aesdsocket/internal/shutdown"
	"github.com/rs/zerolog/log"
)

type Server struct {
	cfg     config.Config
	handler *Handler
	backoff BackoffConfig

	mu       sync.Mutex
	active   net.Conn
	stopping bool
	inflight sync.WaitGroup
}

func New(cfg config.Config) *Server {
	return &Server{
		cfg: cfg,
		handler: &Handler{
			DataPath:     cfg.DataPath,
			ChunkSize:    cfg.ChunkSize,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		backoff: DefaultBackoff(),
	}
}

// RunOptions carries the process adapters Run depends on.
type RunOptions struct {
	// Daemon requests detaching after the socket is listening.
	Daemon bool
	// Signals triggers shutdown; shutdown.OSSignals in production.
	Signals shutdown.Source
	// Detacher starts the background copy of the process.
	Detacher daemon.Detacher
	// Listening, if set, is called with the bound address before the
	// first accept.
	Listening func(net.Addr)
}

// Run is the daemon lifecycle: signals, listen, optional detach, serve,
// cleanup. It returns nil on signal-driven shutdown and in the parent
// after a successful detach.
func (s *Server) Run(opts RunOptions) error {
	ctrl := shutdown.New()
	if opts.Signals != nil {
		stop := ctrl.WatchSignals(opts.Signals)
		defer stop()
	}

	ln, err := s.listen()
	if err != nil {
		return err
	}

	if opts.Daemon && !daemon.IsChild() {
		if opts.Detacher == nil {
			_ = ln.Close()
			return fmt.Errorf("%w: daemon mode without a detacher", ErrSetup)
		}
		pid, err := opts.Detacher.Detach(ln)
		_ = ln.Close()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSetup, err)
		}
		log.Info().Int("pid", pid).Msg("detached daemon")
		return nil
	}

	res := NewResources(ln, s.cfg.DataPath)
	defer res.Release()
	ctrl.OnShutdown(func() {
		s.interrupt()
		s.inflight.Wait()
		_ = res.Release()
	})

	if s.cfg.MetricsAddr != "" {
		go func() {
			if err := observability.ServeMetrics(ctrl.Context(), s.cfg.MetricsAddr); err != nil {
				log.Error().Err(err).Str("addr", s.cfg.MetricsAddr).Msg("metrics server stopped")
			}
		}()
	}

	log.Info().
		Str("addr", ln.Addr().String()).
		Str("data_path", s.cfg.DataPath).
		Bool("daemon", daemon.IsChild()).
		Msg("server listening")
	if opts.Listening != nil {
		opts.Listening(ln.Addr())
	}

	if err := s.Serve(ctrl.Context(), ln); err != nil {
		return err
	}
	log.Info().Str("reason", ctrl.Reason()).Msg("server stopped")
	return nil
}

func (s *Server) listen() (net.Listener, error) {
	if daemon.IsChild() {
		ln, err := daemon.InheritedListener()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSetup, err)
		}
		return ln, nil
	}
	return Listen(s.cfg.Addr, s.cfg.Backlog)
}

// Serve accepts and handles connections one at a time until ctx is
// cancelled. Accept failures are logged and retried; a connection
// failure never stops the loop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.interrupt()
	})
	defer stop()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("server: listener closed: %w", err)
			}
			attempt++
			observability.RecordAcceptError()
			log.Error().Err(err).Int("attempt", attempt).Msg("accept failed")
			if err := waitBackoff(ctx, s.backoff, attempt); err != nil {
				return nil
			}
			continue
		}
		attempt = 0
		s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	peer := peerIP(conn.RemoteAddr())
	log.Info().Str("peer", peer).Msg("Accepted connection from " + peer)
	start := time.Now()

	if !s.begin(conn) {
		_ = conn.Close()
		log.Info().Str("peer", peer).Msg("Closed connection from " + peer)
		return
	}
	ex, err := s.handler.Handle(ctx, conn)
	s.end()
	_ = conn.Close()

	outcome := observability.OutcomeOK
	switch {
	case err != nil:
		outcome = observability.OutcomeError
		log.Error().Err(err).Str("peer", peer).Msg("connection aborted")
	case ex.Received.Interrupted:
		outcome = observability.OutcomeInterrupted
	}
	observability.RecordConnection(outcome, time.Since(start))
	observability.RecordExchange(ex.Received.Bytes, ex.Sent, ex.Received.Complete)

	log.Info().
		Str("peer", peer).
		Int64("received", ex.Received.Bytes).
		Int64("sent", ex.Sent).
		Bool("complete", ex.Received.Complete).
		Msg("Closed connection from " + peer)
}

// begin marks conn as the active connection. It refuses once shutdown
// has started so no handler reopens the store after cleanup.
func (s *Server) begin(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.inflight.Add(1)
	s.active = conn
	return true
}

func (s *Server) end() {
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
	s.inflight.Done()
}

// interrupt stops new handling and unblocks any read or write on the
// current connection. Safe to call more than once.
func (s *Server) interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = true
	if s.active != nil {
		_ = s.active.SetDeadline(time.Now())
	}
}

func peerIP(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	if addr == nil {
		return "unknown"
	}
	return addr.String()
}
