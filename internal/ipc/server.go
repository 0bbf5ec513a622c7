package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// maxRequestSize bounds a single request line. A send request carries at most
// one outbound payload, so this leaves generous headroom.
const maxRequestSize = 1 << 20

// Handler processes IPC requests and returns responses.
type Handler func(req Request) Response

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.log = l.With().Str("component", "ipc").Logger()
	}
}

// Server is a Unix socket IPC server.
type Server struct {
	socketPath string
	listener   net.Listener
	handler    Handler
	log        zerolog.Logger
	wg         sync.WaitGroup
	closed     chan struct{}
	closeOnce  sync.Once

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer creates a new Unix socket server.
// The socket file is created at the specified path.
func NewServer(socketPath string, handler Handler, opts ...ServerOption) (*Server, error) {
	dir := filepath.Dir(socketPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	// A stale socket from a crashed daemon blocks Listen.
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s := &Server{
		socketPath: socketPath,
		listener:   listener,
		handler:    handler,
		log:        zerolog.Nop(),
		closed:     make(chan struct{}),
		conns:      make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Serve starts accepting connections. Blocks until Close is called.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.closed:
		}
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
				return fmt.Errorf("accept error: %w", err)
			}
		}

		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// handleConn processes a single client connection.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer func() { _ = conn.Close() }()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestSize)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			if err := s.writeResponse(conn, ErrorResponse("invalid request format")); err != nil {
				return
			}
			continue
		}

		start := time.Now()
		resp := s.handler(req)
		s.log.Debug().
			Str("cmd", req.Cmd).
			Bool("ok", resp.OK).
			Dur("took", time.Since(start)).
			Msg("Request handled")

		if err := s.writeResponse(conn, resp); err != nil {
			return
		}
	}

	// EOF means the client closed the connection normally; net.ErrClosed
	// occurs during server shutdown.
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		s.log.Warn().Err(err).Msg("Unexpected read error")
	}
}

// writeResponse sends a JSON response to the client.
func (s *Server) writeResponse(conn net.Conn, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	return err
}

// SocketPath returns the path to the Unix socket.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Close stops the server, drops open client connections and removes the
// socket file. Safe to call multiple times concurrently.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.closed)
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()

		err = s.listener.Close()
		s.wg.Wait()
		_ = os.Remove(s.socketPath)
	})
	return err
}

// DecodeParams unmarshals req.Params into v. Missing params leave v unchanged.
func DecodeParams(req Request, v any) error {
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return fmt.Errorf("invalid %s parameters: %w", req.Cmd, err)
	}
	return nil
}

// runtimeDir returns the per-user directory holding the socket and PID file.
func runtimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "linkctl")
	}
	return fmt.Sprintf("/tmp/linkctl-%d", os.Getuid())
}

// DefaultSocketPath returns the XDG-compliant socket path.
func DefaultSocketPath() string {
	return filepath.Join(runtimeDir(), "linkctl.sock")
}

// DefaultPIDPath returns the XDG-compliant PID file path.
func DefaultPIDPath() string {
	return filepath.Join(runtimeDir(), "linkctl.pid")
}
