package stomp

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Default broker ports.
const (
	DefaultPort    = "61613"
	DefaultTLSPort = "61614"
)

// DialOptions configures Dial.
type DialOptions struct {
	// TLSConfig is used for ssl://, tls:// and wss:// URIs. A nil config
	// verifies the broker certificate against the host name.
	TLSConfig *tls.Config

	// Timeout bounds connection establishment. Zero means 30 seconds.
	Timeout time.Duration

	// WebSocketHeader is sent with the WebSocket upgrade request.
	WebSocketHeader http.Header

	Log *logrus.Entry
}

// Dial opens a transport to a broker URI. Supported schemes are tcp://,
// ssl:// and tls:// (also stomp+ssl://), ws:// and wss://. A bare host:port
// is treated as tcp.
func Dial(ctx context.Context, uri string, options DialOptions) (*Connection, error) {
	if options.Timeout <= 0 {
		options.Timeout = 30 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, options.Timeout)
	defer cancel()

	parsed, err := url.Parse(uri)
	if err != nil || parsed.Host == "" {
		parsed = &url.URL{Scheme: "tcp", Host: uri}
	}

	var conn net.Conn
	switch strings.ToLower(parsed.Scheme) {
	case "", "tcp", "stomp":
		conn, err = dialTCP(dialCtx, withPort(parsed.Host, DefaultPort))
	case "ssl", "tls", "stomp+ssl":
		conn, err = dialTLS(dialCtx, withPort(parsed.Host, DefaultTLSPort), options.TLSConfig)
	case "ws", "wss":
		conn, err = dialWebSocket(dialCtx, parsed, options)
	default:
		return nil, NewError(InvalidArgumentError, "unsupported URI scheme "+parsed.Scheme)
	}
	if err != nil {
		return nil, newConnectionError(errors.Wrapf(err, "unable to dial %s", uri), "connection refused")
	}

	return NewConnection(conn, options.Log), nil
}

func withPort(host string, port string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, port)
}

func dialTCP(ctx context.Context, address string) (net.Conn, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, "tcp", address)
}

func dialTLS(ctx context.Context, address string, config *tls.Config) (net.Conn, error) {
	if config == nil {
		host, _, _ := net.SplitHostPort(address)
		config = &tls.Config{ServerName: host}
	}

	conn, err := dialTCP(ctx, address)
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Client(conn, config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// webSocketSubprotocols are the STOMP subprotocol names offered on upgrade.
var webSocketSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

func dialWebSocket(ctx context.Context, target *url.URL, options DialOptions) (net.Conn, error) {
	dialer := websocket.Dialer{
		Subprotocols:     webSocketSubprotocols,
		TLSClientConfig:  options.TLSConfig,
		HandshakeTimeout: options.Timeout,
	}
	ws, _, err := dialer.DialContext(ctx, target.String(), options.WebSocketHeader)
	if err != nil {
		return nil, err
	}
	return WrapWebSocket(ws), nil
}

// WrapWebSocket adapts a WebSocket carrying STOMP text messages to net.Conn.
// Reads are served by a pump goroutine so read deadlines and interrupts do
// not break the underlying connection.
func WrapWebSocket(ws *websocket.Conn) net.Conn {
	conn := &webSocketConn{
		ws:              ws,
		messages:        make(chan []byte, 16),
		done:            make(chan struct{}),
		closing:         make(chan struct{}),
		deadlineChanged: make(chan struct{}, 1),
	}
	go conn.pump()
	return conn
}

type webSocketConn struct {
	ws        *websocket.Conn
	writeLock sync.Mutex
	closeOnce sync.Once

	messages chan []byte
	done     chan struct{}
	closing  chan struct{}
	readErr  error
	pending  []byte

	deadlineLock    sync.Mutex
	readDeadline    time.Time
	deadlineChanged chan struct{}
}

func (conn *webSocketConn) pump() {
	defer close(conn.done)
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			conn.readErr = err
			return
		}
		select {
		case conn.messages <- data:
		case <-conn.closing:
			conn.readErr = net.ErrClosed
			return
		}
	}
}

func (conn *webSocketConn) Read(buffer []byte) (int, error) {
	for len(conn.pending) == 0 {
		if err := conn.await(); err != nil {
			return 0, err
		}
	}

	count := copy(buffer, conn.pending)
	conn.pending = conn.pending[count:]
	return count, nil
}

// await blocks until a message is pending, the read deadline passes or the
// deadline changes.
func (conn *webSocketConn) await() error {
	conn.deadlineLock.Lock()
	deadline := conn.readDeadline
	conn.deadlineLock.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			return os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case data := <-conn.messages:
		conn.pending = data
	case <-conn.done:
		select {
		case data := <-conn.messages:
			conn.pending = data
		default:
			return conn.readErr
		}
	case <-expired:
		return os.ErrDeadlineExceeded
	case <-conn.deadlineChanged:
	}
	return nil
}

func (conn *webSocketConn) Write(buffer []byte) (int, error) {
	conn.writeLock.Lock()
	defer conn.writeLock.Unlock()
	if err := conn.ws.WriteMessage(websocket.TextMessage, buffer); err != nil {
		return 0, err
	}
	return len(buffer), nil
}

func (conn *webSocketConn) Close() error {
	var err error
	conn.closeOnce.Do(func() {
		close(conn.closing)
		err = conn.ws.Close()
	})
	return err
}

func (conn *webSocketConn) LocalAddr() net.Addr  { return conn.ws.LocalAddr() }
func (conn *webSocketConn) RemoteAddr() net.Addr { return conn.ws.RemoteAddr() }

func (conn *webSocketConn) SetDeadline(deadline time.Time) error {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	return conn.SetWriteDeadline(deadline)
}

func (conn *webSocketConn) SetReadDeadline(deadline time.Time) error {
	conn.deadlineLock.Lock()
	conn.readDeadline = deadline
	conn.deadlineLock.Unlock()
	select {
	case conn.deadlineChanged <- struct{}{}:
	default:
	}
	return nil
}

func (conn *webSocketConn) SetWriteDeadline(deadline time.Time) error {
	return conn.ws.SetWriteDeadline(deadline)
}

var _ net.Conn = (*webSocketConn)(nil)
