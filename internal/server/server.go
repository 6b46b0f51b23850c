// Package server drives the TCP accept loop and per-connection command
// dispatch for a segment instance.
package server

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/segmentdb/segment/internal/command"
	"github.com/segmentdb/segment/internal/conn"
	"github.com/segmentdb/segment/internal/shutdown"
	"github.com/segmentdb/segment/internal/store"
)

// Server accepts client connections on a listener and dispatches parsed
// commands against a Database until told to shut down.
type Server struct {
	ln                   net.Listener
	db                   *store.Database
	notifier             *shutdown.Notifier
	logger               *slog.Logger
	connectionBufferSize int

	wg sync.WaitGroup
}

// New wires a Server around an already-bound listener.
func New(ln net.Listener, db *store.Database, notifier *shutdown.Notifier, logger *slog.Logger, connectionBufferSize int) *Server {
	return &Server{
		ln:                   ln,
		db:                   db,
		notifier:             notifier,
		logger:               logger,
		connectionBufferSize: connectionBufferSize,
	}
}

// Serve accepts connections until the listener is closed (normally by
// Shutdown), spawning one handler goroutine per connection. It returns nil
// when the listener has been closed or shutdown has begun, and the accept
// error otherwise.
func (s *Server) Serve() error {
	s.logger.Info("server listening", slog.String("addr", s.ln.Addr().String()))
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if s.notifier.ShuttingDown() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(nc)
		}()
	}
}

// Shutdown notifies every subscriber of the Notifier (unblocking idle
// connection handlers and evictor loops), closes the listener (unblocking
// Serve), and waits for every in-flight connection handler and the
// Database's evictor goroutines to exit.
func (s *Server) Shutdown() {
	s.notifier.Shutdown()
	s.ln.Close()
	s.wg.Wait()
	s.db.Wait()
}

// handleConnection drives the read-dispatch-write loop for a single client
// until it disconnects or the server shuts down.
func (s *Server) handleConnection(nc net.Conn) {
	c := conn.New(nc, s.connectionBufferSize)
	defer c.Close()

	logger := s.logger.With(
		slog.String("connection_id", c.ID()),
		slog.String("remote_addr", nc.RemoteAddr().String()),
	)
	logger.Debug("connection accepted")

	done := s.notifier.Subscribe()
	defer s.notifier.Unsubscribe(done)

	var closed atomic.Bool
	closeOnce := func() {
		if closed.CompareAndSwap(false, true) {
			nc.Close()
		}
	}

	shutdownWatch := make(chan struct{})
	defer close(shutdownWatch)
	go func() {
		select {
		case <-done:
			closeOnce()
		case <-shutdownWatch:
		}
	}()

	for {
		frame, err := c.ReadFrame()
		if err != nil {
			if !closed.Load() {
				logger.Debug("connection read error", slog.Any("error", err))
			}
			return
		}
		if frame == nil {
			logger.Debug("connection closed by peer")
			return
		}

		cmd, err := command.Parse(*frame)
		if err != nil {
			if writeErr := c.WriteError(err); writeErr != nil {
				logger.Debug("connection write error", slog.Any("error", writeErr))
				return
			}
			continue
		}

		reply := execute(s.db, cmd)
		if err := c.WriteFrame(reply); err != nil {
			logger.Debug("connection write error", slog.Any("error", err))
			return
		}
	}
}
