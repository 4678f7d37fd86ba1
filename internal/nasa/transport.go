package nasa

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// Transport defaults.
const (
	// DefaultPort is the usual TCP port of EW11-style serial bridges.
	DefaultPort = 8899

	// DefaultBaudRate is the NASA bus speed.
	DefaultBaudRate = 9600

	defaultConnectTimeout = 10 * time.Second
)

// Conn is a byte stream to the NASA bus.
type Conn = io.ReadWriteCloser

// DialFunc opens a new connection to the bus.
type DialFunc func(ctx context.Context) (Conn, error)

// TransportOptions tune how endpoints are dialled.
type TransportOptions struct {
	// ConnectTimeout bounds each dial. Default: 10s.
	ConnectTimeout time.Duration

	// InsecureSkipVerify disables certificate checks for wss:// endpoints.
	InsecureSkipVerify bool
}

// Endpoint is a parsed bridge location.
type Endpoint struct {
	// Scheme is "tcp", "ws", "wss" or "serial".
	Scheme string

	// Address is host:port for tcp, the full URL for ws/wss, the device
	// path for serial.
	Address string

	// BaudRate applies to serial endpoints.
	BaudRate int
}

func (e Endpoint) String() string {
	switch e.Scheme {
	case "ws", "wss":
		return e.Address
	case "serial":
		return fmt.Sprintf("serial://%s?baud=%d", e.Address, e.BaudRate)
	default:
		return "tcp://" + e.Address
	}
}

// ParseEndpoint parses a bridge URL.
//
// Supported formats:
//   - "tcp://192.168.1.50:8899" or bare "192.168.1.50:8899"
//   - "ws://bridge.local/nasa", "wss://..." (binary frames)
//   - "serial:///dev/ttyUSB0?baud=9600" (9600 8E1 by default)
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, errors.New("empty endpoint")
	}
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint URL: %w", err)
	}

	switch u.Scheme {
	case "tcp":
		if u.Host == "" {
			return Endpoint{}, fmt.Errorf("endpoint %q has no host", raw)
		}
		host := u.Host
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), strconv.Itoa(DefaultPort))
		}
		return Endpoint{Scheme: "tcp", Address: host}, nil
	case "ws", "wss":
		if u.Host == "" {
			return Endpoint{}, fmt.Errorf("endpoint %q has no host", raw)
		}
		return Endpoint{Scheme: u.Scheme, Address: u.String()}, nil
	case "serial":
		path := u.Path
		if u.Host != "" {
			path = u.Host + u.Path // serial://COM3
		}
		if path == "" {
			return Endpoint{}, fmt.Errorf("endpoint %q has no device path", raw)
		}
		baud := DefaultBaudRate
		if b := u.Query().Get("baud"); b != "" {
			baud, err = strconv.Atoi(b)
			if err != nil || baud <= 0 {
				return Endpoint{}, fmt.Errorf("endpoint %q: invalid baud rate %q", raw, b)
			}
		}
		return Endpoint{Scheme: "serial", Address: path, BaudRate: baud}, nil
	default:
		return Endpoint{}, fmt.Errorf("unsupported scheme %q (use tcp, ws, wss or serial)", u.Scheme)
	}
}

// HostPortEndpoint builds a TCP endpoint from the host + port form.
func HostPortEndpoint(host string, port int) Endpoint {
	if port == 0 {
		port = DefaultPort
	}
	return Endpoint{Scheme: "tcp", Address: net.JoinHostPort(host, strconv.Itoa(port))}
}

// NewDialer returns a DialFunc for the endpoint.
func NewDialer(ep Endpoint, opts TransportOptions) (DialFunc, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}

	switch ep.Scheme {
	case "tcp":
		return func(ctx context.Context) (Conn, error) {
			ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
			defer cancel()
			var d net.Dialer
			return d.DialContext(ctx, "tcp", ep.Address)
		}, nil
	case "ws", "wss":
		return func(ctx context.Context) (Conn, error) {
			return dialWebSocket(ctx, ep.Address, opts)
		}, nil
	case "serial":
		return func(context.Context) (Conn, error) {
			return openSerial(ep.Address, ep.BaudRate)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q", ep.Scheme)
	}
}

// wsConn adapts a message-oriented WebSocket to a byte stream.
// Each binary message may carry any slice of the NASA byte stream.
type wsConn struct {
	conn *websocket.Conn

	readMu sync.Mutex
	buf    []byte
}

func dialWebSocket(ctx context.Context, rawURL string, opts TransportOptions) (Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.ConnectTimeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify} //nolint:gosec // operator opt-in
	}

	headers := http.Header{}
	if u.User != nil {
		pw, _ := u.User.Password()
		req := http.Request{Header: headers}
		req.SetBasicAuth(u.User.Username(), pw)
		u.User = nil
	}

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

func (w *wsConn) Read(p []byte) (int, error) {
	w.readMu.Lock()
	defer w.readMu.Unlock()

	for len(w.buf) == 0 {
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		w.buf = data
	}

	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) SetWriteDeadline(t time.Time) error { return w.conn.SetWriteDeadline(t) }

func (w *wsConn) SetReadDeadline(t time.Time) error { return w.conn.SetReadDeadline(t) }

func (w *wsConn) Close() error { return w.conn.Close() }

func openSerial(path string, baud int) (Conn, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8, //nolint:mnd // 8E1
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return port, nil
}

// deadlineWriter is implemented by transports that support write deadlines.
type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// deadlineReader is implemented by transports that support read deadlines.
type deadlineReader interface {
	SetReadDeadline(t time.Time) error
}
