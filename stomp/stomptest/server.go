// Package stomptest provides an in-process STOMP broker for tests. It speaks
// the wire protocol through go-stomp's frame codec, so clients are checked
// against an implementation independent of their own.
package stomptest

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Thejuampi/stomp-client-go/stomp"
)

// Options configure a Server.
type Options struct {
	// Version forces the negotiated version when the client offers it. Empty
	// picks the highest version offered.
	Version string

	// ServerName is sent in the CONNECTED server header.
	ServerName string

	// Heartbeat is the broker heart-beat pair, e.g. "0,5000". Empty omits
	// the header.
	Heartbeat string

	// SilentHeartbeats announces Heartbeat but never sends any.
	SilentHeartbeats bool

	// Credentials maps login to passcode. Empty accepts every client.
	Credentials map[string]string

	Log *logrus.Entry
}

// Ack records one ACK or NACK received by the broker.
type Ack struct {
	Command string
	Frame   *stomp.Frame
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server is a minimal broker: queues deliver to one subscriber and keep
// messages nobody consumed, every other destination fans out.
type Server struct {
	options Options
	log     *logrus.Entry

	lock          sync.Mutex
	listener      net.Listener
	conns         map[*serverConn]struct{}
	queues        map[string][]*frame.Frame
	received      []*stomp.Frame
	acks          []Ack
	injected      map[string]string
	dropReceipts  bool
	nextMessageID atomic.Uint64
	nextSessionID atomic.Uint64

	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewServer returns a broker that is not listening yet.
func NewServer(options Options) *Server {
	if options.ServerName == "" {
		options.ServerName = "stomptest/1.0"
	}
	log := options.Log
	if log == nil {
		log = logrus.WithField("component", "stomptest")
	}
	return &Server{
		options:  options,
		log:      log,
		conns:    make(map[*serverConn]struct{}),
		queues:   make(map[string][]*frame.Frame),
		injected: make(map[string]string),
	}
}

// Start listens on a loopback port and serves in the background.
func Start(options Options) (*Server, error) {
	server := NewServer(options)
	if err := server.Listen("127.0.0.1:0"); err != nil {
		return nil, err
	}
	return server, nil
}

// Listen binds address and serves connections in the background.
func (server *Server) Listen(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "listen %s", address)
	}
	server.lock.Lock()
	server.listener = listener
	server.lock.Unlock()

	server.wg.Add(1)
	go func() {
		defer server.wg.Done()
		_ = server.Serve(listener)
	}()
	return nil
}

// Serve accepts connections until listener is closed.
func (server *Server) Serve(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if server.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "accept")
		}
		server.wg.Add(1)
		go func() {
			defer server.wg.Done()
			server.ServeConn(conn)
		}()
	}
}

// Addr returns the listening address.
func (server *Server) Addr() string {
	server.lock.Lock()
	defer server.lock.Unlock()
	if server.listener == nil {
		return ""
	}
	return server.listener.Addr().String()
}

// URI returns the tcp:// URI of the listening address.
func (server *Server) URI() string {
	return "tcp://" + server.Addr()
}

var upgrader = websocket.Upgrader{
	Subprotocols: []string{"v12.stomp", "v11.stomp", "v10.stomp"},
	CheckOrigin:  func(*http.Request) bool { return true },
}

// ServeHTTP upgrades to WebSocket and serves STOMP over it.
func (server *Server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	ws, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		server.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	server.ServeConn(stomp.WrapWebSocket(ws))
}

// Close stops listening, drops every connection and waits for the
// connection goroutines.
func (server *Server) Close() error {
	if server.closed.Swap(true) {
		return nil
	}
	server.lock.Lock()
	listener := server.listener
	conns := make([]*serverConn, 0, len(server.conns))
	for conn := range server.conns {
		conns = append(conns, conn)
	}
	server.lock.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	for _, conn := range conns {
		conn.close()
	}
	server.wg.Wait()
	return err
}

// InjectError makes the broker answer the next frame with command by an
// ERROR carrying message and closing the connection.
func (server *Server) InjectError(command string, message string) {
	server.lock.Lock()
	server.injected[command] = message
	server.lock.Unlock()
}

// DropReceipts stops (or resumes) answering receipt requests.
func (server *Server) DropReceipts(drop bool) {
	server.lock.Lock()
	server.dropReceipts = drop
	server.lock.Unlock()
}

// Enqueue stores a message on a queue as if a producer had sent it.
func (server *Server) Enqueue(destination string, body []byte, headers ...string) {
	message := frame.New(frame.MESSAGE, headers...)
	message.Header.Set(frame.Destination, destination)
	message.Body = body
	if !server.deliver(message) {
		server.lock.Lock()
		server.queues[destination] = append(server.queues[destination], message)
		server.lock.Unlock()
	}
}

// Received returns every client frame, heartbeats excluded, optionally
// filtered by command.
func (server *Server) Received(commands ...string) []*stomp.Frame {
	server.lock.Lock()
	defer server.lock.Unlock()
	var frames []*stomp.Frame
	for _, received := range server.received {
		if len(commands) == 0 || containsString(commands, received.Command) {
			frames = append(frames, received)
		}
	}
	return frames
}

// Acks returns the ACK and NACK frames in arrival order.
func (server *Server) Acks() []Ack {
	server.lock.Lock()
	defer server.lock.Unlock()
	return append([]Ack(nil), server.acks...)
}

// Connections returns the number of open connections.
func (server *Server) Connections() int {
	server.lock.Lock()
	defer server.lock.Unlock()
	return len(server.conns)
}

// Subscribers returns the number of subscriptions to destination across
// connections.
func (server *Server) Subscribers(destination string) int {
	server.lock.Lock()
	defer server.lock.Unlock()
	count := 0
	for conn := range server.conns {
		count += len(conn.subscribersOf(destination))
	}
	return count
}

// Drop closes every client connection without an ERROR frame.
func (server *Server) Drop() {
	server.lock.Lock()
	conns := make([]*serverConn, 0, len(server.conns))
	for conn := range server.conns {
		conns = append(conns, conn)
	}
	server.lock.Unlock()
	for _, conn := range conns {
		conn.close()
	}
}

func (server *Server) record(received *frame.Frame) {
	server.lock.Lock()
	defer server.lock.Unlock()
	converted := toStompFrame(received)
	server.received = append(server.received, converted)
	if received.Command == frame.ACK || received.Command == frame.NACK {
		server.acks = append(server.acks, Ack{Command: received.Command, Frame: converted})
	}
}

func (server *Server) takeInjected(command string) (string, bool) {
	server.lock.Lock()
	defer server.lock.Unlock()
	message, ok := server.injected[command]
	if ok {
		delete(server.injected, command)
	}
	return message, ok
}

func (server *Server) receiptsDropped() bool {
	server.lock.Lock()
	defer server.lock.Unlock()
	return server.dropReceipts
}

// deliver routes message and reports whether anyone received it.
func (server *Server) deliver(message *frame.Frame) bool {
	destination := message.Header.Get(frame.Destination)

	server.lock.Lock()
	type target struct {
		conn         *serverConn
		subscription *serverSubscription
	}
	var targets []target
	for conn := range server.conns {
		for _, subscription := range conn.subscribersOf(destination) {
			targets = append(targets, target{conn: conn, subscription: subscription})
		}
	}
	server.lock.Unlock()

	if len(targets) == 0 {
		return false
	}
	if isQueue(destination) {
		targets = targets[:1]
	}
	for _, target := range targets {
		target.conn.sendMessage(message, target.subscription)
	}
	return true
}

func (server *Server) register(conn *serverConn) {
	server.lock.Lock()
	server.conns[conn] = struct{}{}
	server.lock.Unlock()
}

func (server *Server) unregister(conn *serverConn) {
	server.lock.Lock()
	delete(server.conns, conn)
	server.lock.Unlock()
}

func (server *Server) drainQueue(destination string) []*frame.Frame {
	server.lock.Lock()
	defer server.lock.Unlock()
	messages := server.queues[destination]
	delete(server.queues, destination)
	return messages
}

func (server *Server) peekQueue(destination string) []*frame.Frame {
	server.lock.Lock()
	defer server.lock.Unlock()
	return append([]*frame.Frame(nil), server.queues[destination]...)
}

func isQueue(destination string) bool {
	return strings.HasPrefix(destination, "/queue/")
}

func containsString(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}

func toStompFrame(source *frame.Frame) *stomp.Frame {
	converted := stomp.NewFrame(source.Command)
	for index := 0; index < source.Header.Len(); index++ {
		key, value := source.Header.GetAt(index)
		if !converted.Header.Contains(key) {
			converted.Set(key, value)
		}
	}
	if len(source.Body) > 0 {
		converted.Body = append([]byte(nil), source.Body...)
	}
	return converted
}

func negotiate(acceptVersion string, forced string) (string, bool) {
	offered := []string{stomp.Version10}
	if acceptVersion != "" {
		offered = strings.Split(strings.ReplaceAll(acceptVersion, " ", ""), ",")
	}
	if forced != "" {
		return forced, containsString(offered, forced)
	}
	best := ""
	for _, version := range offered {
		if containsString(stomp.SupportedVersions, version) && (best == "" || version > best) {
			best = version
		}
	}
	return best, best != ""
}

func heartbeatInterval(clientWants string, serverSends string) time.Duration {
	if clientWants == "" || serverSends == "" {
		return 0
	}
	_, wants, err := frame.ParseHeartBeat(clientWants)
	if err != nil {
		return 0
	}
	sends, _, err := frame.ParseHeartBeat(serverSends)
	if err != nil || wants == 0 || sends == 0 {
		return 0
	}
	if wants > sends {
		return wants
	}
	return sends
}

func (server *Server) messageID() string {
	return "m-" + strconv.FormatUint(server.nextMessageID.Add(1), 10)
}
