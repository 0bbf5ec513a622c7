// Package echo implements the peer started by "linkctl serve". It accepts
// raw TCP or WebSocket clients and writes every inbound payload back to its
// sender, which is enough to drive a linkctl client by hand or in tests.
package echo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Protocols accepted by Config.Protocol.
const (
	ProtocolTCP = "tcp"
	ProtocolWS  = "ws"
)

const (
	readChunk    = 32 * 1024
	writeTimeout = 5 * time.Second
)

// ErrServerClosed is returned by Start after Close.
var ErrServerClosed = errors.New("echo server closed")

// Config holds echo server configuration.
type Config struct {
	Addr     string
	Protocol string
	// Path is the WebSocket upgrade path. Defaults to "/".
	Path string
	// Rate limits inbound payloads per peer; zero disables limiting.
	// A peer that exceeds it is disconnected.
	Rate  rate.Limit
	Burst int
	// Greeting, when set, is sent to each peer as it connects.
	Greeting string

	OnConnect    func(p Peer)
	OnDisconnect func(p Peer)
	Logger       zerolog.Logger
}

// Peer describes a connected client.
type Peer struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remoteAddr"`
	Since      time.Time `json:"since"`
}

type peer struct {
	Peer
	limiter *rate.Limiter

	writeMu sync.Mutex
	write   func(payload []byte) error
	close   func() error
	kick    func(reason string)
}

func (p *peer) send(payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.write(payload)
}

// allow reports whether another inbound payload fits the peer's rate.
func (p *peer) allow() bool {
	return p.limiter == nil || p.limiter.Allow()
}

// Server is an echo peer.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
	peers    map[string]*peer
	closed   bool
	wg       sync.WaitGroup
}

// New creates a server. Call Start to listen.
func New(cfg Config) *Server {
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolTCP
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.Rate > 0 && cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &Server{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "echo").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		peers: make(map[string]*peer),
	}
}

// Start listens on cfg.Addr and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}
	if s.listener != nil {
		return errors.New("echo server already started")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	switch s.cfg.Protocol {
	case ProtocolTCP:
		s.wg.Add(1)
		go s.acceptLoop(ln)
	case ProtocolWS:
		mux := http.NewServeMux()
		mux.Handle(s.cfg.Path, s.Handler())
		s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error().Err(err).Msg("HTTP server stopped")
			}
		}()
	default:
		_ = ln.Close()
		s.listener = nil
		return fmt.Errorf("unknown protocol %q", s.cfg.Protocol)
	}

	s.log.Info().Str("addr", ln.Addr().String()).Str("protocol", s.cfg.Protocol).Msg("Echo server listening")
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Peers returns the connected peers ordered by connect time.
func (s *Server) Peers() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p.Peer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// Broadcast sends text to every peer and returns how many accepted it.
func (s *Server) Broadcast(text string) int {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	n := 0
	for _, p := range peers {
		if err := p.send([]byte(text)); err != nil {
			s.log.Debug().Err(err).Str("peer", p.ID).Msg("Broadcast failed")
			continue
		}
		n++
	}
	return n
}

// Kick disconnects a peer. It reports whether the peer was found.
func (s *Server) Kick(id string) bool {
	s.mu.Lock()
	p, ok := s.peers[id]
	s.mu.Unlock()
	if ok {
		p.kick("kicked")
	}
	return ok
}

// Close stops listening, disconnects every peer and waits for them.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	httpSrv := s.httpSrv
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	var err error
	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err = httpSrv.Shutdown(ctx)
		cancel()
	} else if ln != nil {
		err = ln.Close()
	}
	for _, p := range peers {
		_ = p.close()
	}
	s.wg.Wait()
	return err
}

// register adds a peer unless the server is closing.
func (s *Server) register(p *peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.peers[p.ID] = p
	return true
}

func (s *Server) connected(p *peer) {
	s.log.Info().Str("peer", p.ID).Str("remote", p.RemoteAddr).Msg("Peer connected")
	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(p.Peer)
	}
	if s.cfg.Greeting != "" {
		if err := p.send([]byte(s.cfg.Greeting)); err != nil {
			s.log.Debug().Err(err).Str("peer", p.ID).Msg("Greeting failed")
		}
	}
}

func (s *Server) disconnected(p *peer) {
	s.mu.Lock()
	delete(s.peers, p.ID)
	s.mu.Unlock()

	s.log.Info().Str("peer", p.ID).Msg("Peer disconnected")
	if s.cfg.OnDisconnect != nil {
		s.cfg.OnDisconnect(p.Peer)
	}
}

func (s *Server) newPeer(remote string) *peer {
	p := &peer{
		Peer: Peer{
			ID:         uuid.NewString(),
			RemoteAddr: remote,
			Since:      time.Now(),
		},
	}
	if s.cfg.Rate > 0 {
		p.limiter = rate.NewLimiter(s.cfg.Rate, s.cfg.Burst)
	}
	return p
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Error().Err(err).Msg("Accept failed")
			}
			return
		}
		s.wg.Add(1)
		go s.serveTCP(conn)
	}
}

func (s *Server) serveTCP(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	p := s.newPeer(conn.RemoteAddr().String())
	p.write = func(payload []byte) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		_, err := conn.Write(payload)
		return err
	}
	p.close = conn.Close
	p.kick = func(string) { _ = conn.Close() }
	if !s.register(p) {
		return
	}
	defer s.disconnected(p)
	s.connected(p)

	buf := make([]byte, readChunk)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if !p.allow() {
				s.log.Warn().Str("peer", p.ID).Msg("Rate limit exceeded")
				return
			}
			if err := p.send(buf[:n]); err != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Handler returns the WebSocket upgrade handler. It can be mounted on any
// mux; peers it accepts are tracked and closed by the server.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Debug().Err(err).Msg("Upgrade failed")
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		s.serveWS(conn, r.RemoteAddr)
	})
}

func (s *Server) serveWS(conn *websocket.Conn, remote string) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	p := s.newPeer(remote)
	p.write = func(payload []byte) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, payload)
	}
	p.close = func() error {
		p.kick("server closing")
		return nil
	}
	p.kick = func(reason string) {
		s.closeWS(p, conn, websocket.CloseGoingAway, reason)
	}
	if !s.register(p) {
		return
	}
	defer s.disconnected(p)
	s.connected(p)

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Str("peer", p.ID).Msg("Unexpected close")
			}
			return
		}
		if !p.allow() {
			s.log.Warn().Str("peer", p.ID).Msg("Rate limit exceeded")
			s.closeWS(p, conn, websocket.ClosePolicyViolation, "Rate limit exceeded")
			return
		}
		p.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err = conn.WriteMessage(typ, data)
		p.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// closeWS sends a close frame and then drops the connection, which ends the
// peer's read loop.
func (s *Server) closeWS(p *peer, conn *websocket.Conn, code int, reason string) {
	p.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	p.writeMu.Unlock()
	_ = conn.Close()
}
