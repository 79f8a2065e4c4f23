// Package ingest accepts producer connections and feeds their lines into
// the hand-off buffer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"fleetrelay/internal/handoff"
	"fleetrelay/internal/lines"
	"fleetrelay/internal/logging"
	"fleetrelay/internal/telemetry"
)

type Config struct {
	Addr         string
	MaxClients   int
	MaxLineBytes int
	// ShutdownGrace bounds how long an open connection may keep sending
	// after shutdown starts. Zero waits for the peer to hang up.
	ShutdownGrace time.Duration
}

// Server admits at most MaxClients connections at a time. The token for a
// connection is taken before Accept and given back when its handler exits.
type Server struct {
	cfg     Config
	buf     *handoff.Buffer
	metrics *telemetry.Metrics
	log     *slog.Logger

	lis    net.Listener
	tokens *semaphore.Weighted
	wg     sync.WaitGroup

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
}

func New(cfg Config, buf *handoff.Buffer, m *telemetry.Metrics) *Server {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 10
	}
	return &Server{
		cfg:     cfg,
		buf:     buf,
		metrics: m,
		log:     logging.For("ingest"),
		tokens:  semaphore.NewWeighted(int64(cfg.MaxClients)),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds the configured address. Serve calls it if needed; calling it
// first surfaces bind errors at startup and allows ":0".
func (s *Server) Listen() error {
	if s.lis != nil {
		return nil
	}
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("ingest: listen %s: %w", s.cfg.Addr, err)
	}
	s.lis = lis
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Serve runs the accept loop until ctx is done, then waits for every
// handler to finish.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.log.Info("ingest listening", "addr", s.lis.Addr().String(), "max_clients", s.cfg.MaxClients)

	stop := context.AfterFunc(ctx, func() { _ = s.lis.Close() })
	defer stop()

	err := s.acceptLoop(ctx)
	_ = s.lis.Close()
	s.drain()
	return err
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		if err := s.tokens.Acquire(ctx, 1); err != nil {
			return nil
		}
		conn, err := s.lis.Accept()
		if err != nil {
			s.tokens.Release(1)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.log.Warn("accept failed", "err", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.track(conn)
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer s.tokens.Release(1)
	defer s.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	s.metrics.ConnectionsAccepted.Inc()
	s.metrics.ConnectionsActive.Inc()
	defer s.metrics.ConnectionsActive.Dec()
	s.log.Debug("connection accepted", "remote", remote)

	sp := lines.NewSplitter(s.cfg.MaxLineBytes)
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			dropped, _ := sp.Feed(chunk[:n], func(line []byte) error {
				if limit := s.buf.MaxBytes(); len(line) > limit {
					s.metrics.LinesDiscarded.WithLabelValues("truncated").Inc()
					s.log.Warn("truncating line to hand-off size", "remote", remote, "bytes", len(line), "limit", limit)
				}
				if s.buf.Write(line) {
					s.metrics.HandoffOverwrites.Inc()
				}
				s.metrics.LinesReceived.Inc()
				return nil
			})
			if dropped > 0 {
				s.metrics.LinesDiscarded.WithLabelValues("oversize").Add(float64(dropped))
				s.log.Warn("discarded oversized line", "remote", remote, "limit", s.cfg.MaxLineBytes)
			}
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				s.log.Info("closing connection at shutdown", "remote", remote)
			} else if !isClosed(err) {
				s.log.Warn("read failed", "remote", remote, "err", err)
			}
			break
		}
	}

	if tail := sp.Rest(); len(tail) > 0 {
		s.metrics.LinesDiscarded.WithLabelValues("partial").Inc()
		s.log.Warn("discarding unterminated line", "remote", remote, "bytes", len(tail))
	}
	s.log.Debug("connection closed", "remote", remote)
}

func (s *Server) track(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
	if s.closing {
		s.setGraceLocked(c)
	}
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Close releases a listener that Serve never took over.
func (s *Server) Close() error {
	if s.lis == nil {
		return nil
	}
	return s.lis.Close()
}

// drain gives every open connection the shutdown grace and waits.
func (s *Server) drain() {
	s.mu.Lock()
	s.closing = true
	active := len(s.conns)
	for c := range s.conns {
		s.setGraceLocked(c)
	}
	s.mu.Unlock()

	if active > 0 {
		s.log.Info("waiting for connections to drain", "active", active, "grace", s.cfg.ShutdownGrace)
	}
	s.wg.Wait()
}

func (s *Server) setGraceLocked(c net.Conn) {
	if s.cfg.ShutdownGrace > 0 {
		_ = c.SetReadDeadline(time.Now().Add(s.cfg.ShutdownGrace))
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF)
}
