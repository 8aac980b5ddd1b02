package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/gen2brain/crasd/internal/engine"
	"github.com/gen2brain/crasd/internal/iodev"
)

// Server listens on a UNIX stream socket and runs one session per accepted
// connection (spec.md 6: "UNIX stream socket at a well-known path").
type Server struct {
	log    *slog.Logger
	socket string
	eng    *engine.Engine
	reg    *registry

	mu sync.Mutex
	ln net.Listener
}

// New creates a server bound to socketPath. The socket file is removed and
// recreated on Serve so a stale file from a previous crash does not block
// the bind.
func New(log *slog.Logger, socketPath string, eng *engine.Engine) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:    log,
		socket: socketPath,
		eng:    eng,
		reg:    newRegistry(),
	}
}

// Serve accepts connections until ctx is canceled or a non-recoverable
// accept error occurs.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.socket)

	ln, err := net.Listen("unix", s.socket)
	if err != nil {
		return fmt.Errorf("control: listen on %s: %w", s.socket, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("control: accept: %w", err)
		}

		unixConn, ok := conn.(*net.UnixConn)
		if !ok {
			_ = conn.Close()
			continue
		}

		clientID := s.reg.nextClientID()
		sess := newSession(s.log, s.eng, s.reg, clientID, unixConn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.run()
		}()
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// RestrictDirection limits clientID to a single stream direction. Intended
// for a sandboxing layer above this package that knows a given client's OS
// level audio permission grant (spec.md 8 scenario 2: "input-only client,
// supported_directions excludes output"); nothing in the wire protocol
// itself carries this, so it is set out of band before the client's first
// CONNECT_STREAM.
func (s *Server) RestrictDirection(clientID uint16, dir iodev.Direction) {
	s.reg.restrictDirection(clientID, dir)
}
