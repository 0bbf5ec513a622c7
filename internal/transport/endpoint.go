package transport

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPort is used when an endpoint omits its port.
const DefaultPort = 5005

// ErrInvalidEndpoint indicates an empty or unparseable endpoint.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Scheme selects the transport used for an endpoint.
type Scheme int

const (
	// SchemeTCP is a raw byte stream over TCP.
	SchemeTCP Scheme = iota
	// SchemeWebSocket is a message-oriented WebSocket connection.
	SchemeWebSocket
)

// String returns the URL scheme name.
func (s Scheme) String() string {
	switch s {
	case SchemeTCP:
		return "tcp"
	case SchemeWebSocket:
		return "ws"
	default:
		return "unknown"
	}
}

// Endpoint identifies the remote side of a connection.
type Endpoint struct {
	Scheme Scheme
	Host   string
	Port   int
	// Path is only meaningful for WebSocket endpoints.
	Path string
}

// ParseEndpoint parses "host", "host:port", "tcp://host:port" or "ws://host:port/path".
// A missing port defaults to DefaultPort. The result is validated.
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, fmt.Errorf("%w: empty address", ErrInvalidEndpoint)
	}

	var ep Endpoint
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
		}
		switch strings.ToLower(u.Scheme) {
		case "tcp":
			ep.Scheme = SchemeTCP
		case "ws":
			ep.Scheme = SchemeWebSocket
			ep.Path = u.EscapedPath()
			if u.RawQuery != "" {
				ep.Path += "?" + u.RawQuery
			}
		default:
			return Endpoint{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
		}
		ep.Host = u.Hostname()
		ep.Port = DefaultPort
		if p := u.Port(); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return Endpoint{}, fmt.Errorf("%w: bad port %q", ErrInvalidEndpoint, p)
			}
			ep.Port = port
		}
	} else {
		host, port, err := splitHostPort(s)
		if err != nil {
			return Endpoint{}, err
		}
		ep.Scheme = SchemeTCP
		ep.Host = host
		ep.Port = port
	}

	if err := ep.Validate(); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

// splitHostPort accepts "host", "host:port", "[v6]:port" and bare IPv6 literals.
func splitHostPort(s string) (string, int, error) {
	if ip := net.ParseIP(s); ip != nil {
		return s, DefaultPort, nil
	}
	if !strings.Contains(s, ":") {
		return s, DefaultPort, nil
	}
	host, p, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("%w: bad port %q", ErrInvalidEndpoint, p)
	}
	return host, port, nil
}

// Validate reports whether the endpoint can be dialled.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidEndpoint)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, e.Port)
	}
	if e.Scheme != SchemeTCP && e.Scheme != SchemeWebSocket {
		return fmt.Errorf("%w: unknown scheme %d", ErrInvalidEndpoint, int(e.Scheme))
	}
	if net.ParseIP(e.Host) == nil && !isHostname(e.Host) {
		return fmt.Errorf("%w: bad host %q", ErrInvalidEndpoint, e.Host)
	}
	return nil
}

// isHostname checks RFC 1123 hostname syntax.
func isHostname(h string) bool {
	h = strings.TrimSuffix(h, ".")
	if len(h) == 0 || len(h) > 253 {
		return false
	}
	for _, label := range strings.Split(h, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			default:
				return false
			}
		}
	}
	return true
}

// Address returns the dialable "host:port" form.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL returns the endpoint as a URL string.
func (e Endpoint) URL() string {
	s := e.Scheme.String() + "://" + e.Address()
	if e.Scheme == SchemeWebSocket {
		if e.Path == "" {
			return s + "/"
		}
		if !strings.HasPrefix(e.Path, "/") {
			return s + "/" + e.Path
		}
		return s + e.Path
	}
	return s
}

// String returns the URL form of the endpoint.
func (e Endpoint) String() string {
	return e.URL()
}
