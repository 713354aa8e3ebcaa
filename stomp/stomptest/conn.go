package stomptest

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/sirupsen/logrus"

	"github.com/Thejuampi/stomp-client-go/stomp"
)

type serverSubscription struct {
	id          string
	destination string
	ackMode     string
	browser     bool
}

// ---------------------------------------------------------------------------
// serverConn is one client connection. The reader loop owns the protocol
// state; writes from fan-out and the heartbeat ticker go through writeLock.
// ---------------------------------------------------------------------------

type serverConn struct {
	server *Server
	conn   net.Conn
	reader *frame.Reader
	writer *frame.Writer
	log    *logrus.Entry

	writeLock sync.Mutex
	closeOnce sync.Once
	done      chan struct{}

	lock          sync.Mutex
	version       string
	subscriptions map[string]*serverSubscription
	order         []string
	transactions  map[string][]*frame.Frame
}

// ServeConn runs the broker protocol on conn until the client disconnects.
func (server *Server) ServeConn(conn net.Conn) {
	connection := &serverConn{
		server:        server,
		conn:          conn,
		reader:        frame.NewReader(conn),
		writer:        frame.NewWriter(conn),
		log:           server.log.WithField("remote", conn.RemoteAddr().String()),
		done:          make(chan struct{}),
		subscriptions: make(map[string]*serverSubscription),
		transactions:  make(map[string][]*frame.Frame),
	}
	server.register(connection)
	defer func() {
		server.unregister(connection)
		connection.close()
	}()
	connection.run()
}

func (connection *serverConn) run() {
	connected := false
	for {
		received, err := connection.reader.Read()
		if err != nil {
			return
		}
		if received == nil {
			continue
		}
		connection.server.record(received)
		connection.log.WithField("command", received.Command).Debug("frame received")

		if message, injected := connection.server.takeInjected(received.Command); injected {
			connection.sendError(message, received.Header.Get(frame.Receipt))
			return
		}

		if !connected {
			if received.Command != frame.CONNECT && received.Command != frame.STOMP {
				connection.sendError("expected CONNECT, got "+received.Command, "")
				return
			}
			if !connection.handleConnect(received) {
				return
			}
			connected = true
			continue
		}

		switch received.Command {
		case frame.SEND:
			connection.handleSend(received)
		case frame.SUBSCRIBE:
			subscription := connection.handleSubscribe(received)
			connection.sendReceipt(received)
			connection.replay(subscription)
			continue
		case frame.UNSUBSCRIBE:
			connection.handleUnsubscribe(received)
		case frame.BEGIN:
			connection.lock.Lock()
			connection.transactions[received.Header.Get(frame.Transaction)] = nil
			connection.lock.Unlock()
		case frame.COMMIT:
			connection.lock.Lock()
			id := received.Header.Get(frame.Transaction)
			pending := connection.transactions[id]
			delete(connection.transactions, id)
			connection.lock.Unlock()
			for _, message := range pending {
				connection.route(message)
			}
		case frame.ABORT:
			connection.lock.Lock()
			delete(connection.transactions, received.Header.Get(frame.Transaction))
			connection.lock.Unlock()
		case frame.ACK, frame.NACK:
		case frame.DISCONNECT:
			connection.sendReceipt(received)
			return
		default:
			connection.sendError("unknown command "+received.Command, received.Header.Get(frame.Receipt))
			return
		}
		connection.sendReceipt(received)
	}
}

func (connection *serverConn) handleConnect(connect *frame.Frame) bool {
	options := connection.server.options
	if len(options.Credentials) > 0 {
		passcode, known := options.Credentials[connect.Header.Get(frame.Login)]
		if !known || passcode != connect.Header.Get(frame.Passcode) {
			connection.sendError("invalid credentials", "")
			return false
		}
	}

	version, ok := negotiate(connect.Header.Get(frame.AcceptVersion), options.Version)
	if !ok {
		connection.sendError("supported protocol versions are "+strings.Join(stomp.SupportedVersions, ","), "")
		return false
	}
	connection.lock.Lock()
	connection.version = version
	connection.lock.Unlock()

	connected := frame.New(frame.CONNECTED,
		frame.Server, options.ServerName,
		frame.Session, "s-"+strconv.FormatUint(connection.server.nextSessionID.Add(1), 10),
	)
	if version != stomp.Version10 || connect.Header.Get(frame.AcceptVersion) != "" {
		connected.Header.Set(frame.Version, version)
	}
	if options.Heartbeat != "" {
		connected.Header.Set(frame.HeartBeat, options.Heartbeat)
	}
	if err := connection.write(connected); err != nil {
		return false
	}

	if interval := heartbeatInterval(connect.Header.Get(frame.HeartBeat), options.Heartbeat); interval > 0 && !options.SilentHeartbeats {
		connection.server.wg.Add(1)
		go func() {
			defer connection.server.wg.Done()
			connection.heartbeats(interval)
		}()
	}
	connection.log.WithField("version", version).Info("client connected")
	return true
}

func (connection *serverConn) handleSend(send *frame.Frame) {
	message := frame.New(frame.MESSAGE)
	for index := 0; index < send.Header.Len(); index++ {
		key, value := send.Header.GetAt(index)
		switch key {
		case frame.Receipt, frame.Transaction, frame.ContentLength:
			continue
		}
		if _, exists := message.Header.Contains(key); !exists {
			message.Header.Add(key, value)
		}
	}
	message.Body = append([]byte(nil), send.Body...)

	if transaction := send.Header.Get(frame.Transaction); transaction != "" {
		connection.lock.Lock()
		if pending, open := connection.transactions[transaction]; open {
			connection.transactions[transaction] = append(pending, message)
			connection.lock.Unlock()
			return
		}
		connection.lock.Unlock()
	}
	connection.route(message)
}

func (connection *serverConn) route(message *frame.Frame) {
	destination := message.Header.Get(frame.Destination)
	if !connection.server.deliver(message) && isQueue(destination) {
		connection.server.lock.Lock()
		connection.server.queues[destination] = append(connection.server.queues[destination], message)
		connection.server.lock.Unlock()
	}
}

func (connection *serverConn) handleSubscribe(subscribe *frame.Frame) *serverSubscription {
	destination := subscribe.Header.Get(frame.Destination)
	subscription := &serverSubscription{
		id:          subscribe.Header.Get(frame.Id),
		destination: destination,
		ackMode:     subscribe.Header.Get(frame.Ack),
		browser:     subscribe.Header.Get(stomp.HeaderBrowser) == "true",
	}
	if subscription.id == "" {
		subscription.id = destination
	}

	connection.lock.Lock()
	if _, exists := connection.subscriptions[subscription.id]; !exists {
		connection.order = append(connection.order, subscription.id)
	}
	connection.subscriptions[subscription.id] = subscription
	connection.lock.Unlock()
	return subscription
}

// replay delivers what waited on a queue for a new subscription. A browsing
// subscription sees copies followed by the browser:end marker.
func (connection *serverConn) replay(subscription *serverSubscription) {
	if !subscription.browser {
		if isQueue(subscription.destination) {
			for _, message := range connection.server.drainQueue(subscription.destination) {
				connection.sendMessage(message, subscription)
			}
		}
		return
	}

	for _, message := range connection.server.peekQueue(subscription.destination) {
		connection.sendMessage(message, subscription)
	}
	end := frame.New(frame.MESSAGE,
		frame.Destination, subscription.destination,
		stomp.HeaderBrowser, "end",
	)
	connection.sendMessage(end, subscription)
}

func (connection *serverConn) handleUnsubscribe(unsubscribe *frame.Frame) {
	id := unsubscribe.Header.Get(frame.Id)
	destination := unsubscribe.Header.Get(frame.Destination)

	connection.lock.Lock()
	defer connection.lock.Unlock()
	for index, existing := range connection.order {
		subscription := connection.subscriptions[existing]
		if (id != "" && subscription.id == id) || (id == "" && subscription.destination == destination) {
			delete(connection.subscriptions, existing)
			connection.order = append(connection.order[:index], connection.order[index+1:]...)
			return
		}
	}
}

func (connection *serverConn) subscribersOf(destination string) []*serverSubscription {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	var matches []*serverSubscription
	for _, id := range connection.order {
		if subscription := connection.subscriptions[id]; subscription.destination == destination && !subscription.browser {
			matches = append(matches, subscription)
		}
	}
	return matches
}

func (connection *serverConn) sendMessage(message *frame.Frame, subscription *serverSubscription) {
	outbound := message.Clone()
	messageID := connection.server.messageID()
	outbound.Header.Set(frame.MessageId, messageID)
	outbound.Header.Set(frame.Subscription, subscription.id)

	connection.lock.Lock()
	version := connection.version
	connection.lock.Unlock()
	if version == stomp.Version12 && subscription.ackMode != "" && subscription.ackMode != stomp.AckAuto {
		outbound.Header.Set(frame.Ack, "ack-"+messageID)
	}
	if len(outbound.Body) > 0 {
		outbound.Header.Set(frame.ContentLength, strconv.Itoa(len(outbound.Body)))
	}
	_ = connection.write(outbound)
}

func (connection *serverConn) sendReceipt(received *frame.Frame) {
	receipt := received.Header.Get(frame.Receipt)
	if receipt == "" || connection.server.receiptsDropped() {
		return
	}
	_ = connection.write(frame.New(frame.RECEIPT, frame.ReceiptId, receipt))
}

func (connection *serverConn) sendError(message string, receipt string) {
	errorFrame := frame.New(frame.ERROR, frame.Message, message)
	if receipt != "" {
		errorFrame.Header.Set(frame.ReceiptId, receipt)
	}
	errorFrame.Body = []byte(message)
	errorFrame.Header.Set(frame.ContentLength, strconv.Itoa(len(errorFrame.Body)))
	_ = connection.write(errorFrame)
	connection.log.WithField("message", message).Info("sent ERROR")
}

func (connection *serverConn) heartbeats(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-connection.done:
			return
		case <-ticker.C:
			if err := connection.write(nil); err != nil {
				return
			}
		}
	}
}

// write sends outbound, or a heartbeat line when outbound is nil.
func (connection *serverConn) write(outbound *frame.Frame) error {
	connection.writeLock.Lock()
	defer connection.writeLock.Unlock()
	return connection.writer.Write(outbound)
}

func (connection *serverConn) close() {
	connection.closeOnce.Do(func() {
		close(connection.done)
		_ = connection.conn.Close()
	})
}
