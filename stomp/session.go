package stomp

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Session is a STOMP conversation over one Transport. It is meant for one
// caller at a time; only Close may be called concurrently with a blocked
// operation.
type Session struct {
	transport Transport
	config    Config
	protocol  *Protocol
	state     sessionState
	heartbeat *HeartbeatMonitor
	pending   []*Frame
	ownedIDs  map[string]struct{}
	server    string
	sessionID string
	closed    atomic.Bool
	log       *logrus.Entry
}

// NewSession returns an unconnected session over transport.
func NewSession(transport Transport, config Config) *Session {
	config = config.withDefaults()
	return &Session{
		transport: transport,
		config:    config,
		protocol:  NewProtocol(Version10, config.ClientID, config.Dialect),
		state:     sessionState{kind: StateUnconnected},
		ownedIDs:  make(map[string]struct{}),
		log:       config.Log,
	}
}

// State returns the current state kind.
func (session *Session) State() StateKind {
	session.syncClosed()
	return session.state.kind
}

// Draining reports whether frames read while waiting for a receipt are still
// unread.
func (session *Session) Draining() bool { return session.state.draining }

// TransactionID returns the open transaction id, empty outside transactions.
func (session *Session) TransactionID() string { return session.state.transactionID }

// Protocol returns the negotiated protocol.
func (session *Session) Protocol() *Protocol { return session.protocol }

// Heartbeat returns the negotiated heartbeat intervals.
func (session *Session) Heartbeat() HeartbeatIntervals { return session.heartbeat.Intervals() }

// Server returns the CONNECTED server header.
func (session *Session) Server() string { return session.server }

// SessionID returns the CONNECTED session header.
func (session *Session) SessionID() string { return session.sessionID }

// Subscriptions returns the active subscriptions in subscription order.
func (session *Session) Subscriptions() []*Subscription {
	return session.state.subscriptions.All()
}

// Match returns the active subscription a MESSAGE frame belongs to.
func (session *Session) Match(frame *Frame) *Subscription {
	return session.state.subscriptions.Match(frame)
}

// Connect performs the CONNECT / CONNECTED handshake.
func (session *Session) Connect() error {
	next, err := session.transition(EventConnect)
	if err != nil {
		return err
	}
	if err := session.config.validate(); err != nil {
		return err
	}
	session.state.kind = next

	versions := session.config.Versions
	if len(versions) == 0 {
		versions = SupportedVersions
	}
	connect := session.protocol.Connect(ConnectRequest{
		Login:     session.config.Login,
		Passcode:  session.config.Passcode,
		Versions:  versions,
		Host:      session.config.Host,
		Heartbeat: session.config.Heartbeat,
		Header:    session.config.ConnectHeader,
	})

	connected, err := session.handshake(connect)
	if err != nil {
		session.state.kind, _ = Transition(session.state.kind, EventConnectFailed)
		session.log.WithError(err).Warn("connect failed")
		return err
	}

	version, err := negotiateVersion(connected, versions)
	if err != nil {
		session.state.kind, _ = Transition(session.state.kind, EventConnectFailed)
		return err
	}

	var brokerHeartbeat HeartbeatIntervals
	if value, hasHeartbeat := connected.Get(HeaderHeartBeat); hasHeartbeat && value != "" {
		if brokerHeartbeat, err = ParseHeartbeat(value); err != nil {
			session.state.kind, _ = Transition(session.state.kind, EventConnectFailed)
			return err
		}
	}

	dialect := session.config.Dialect
	if dialect == nil {
		dialect = DialectFromServer(connected)
	}
	session.protocol = NewProtocol(version, session.config.ClientID, dialect)
	session.server = connected.Header.Value(HeaderServer)
	session.sessionID = connected.Header.Value(HeaderSession)
	session.heartbeat = NewHeartbeatMonitor(
		NegotiateHeartbeat(session.config.Heartbeat, brokerHeartbeat),
		session.config.HeartbeatGrace,
		session.config.Now,
	)
	session.transport.SetVersion(version)

	session.state.kind, _ = Transition(session.state.kind, EventConnected)
	session.state.subscriptions = NewSubscriptionList()
	session.log.WithFields(logrus.Fields{
		"version":   version,
		"dialect":   dialect.Name(),
		"server":    session.server,
		"heartbeat": session.heartbeat.Intervals().String(),
	}).Info("connected")
	return nil
}

func (session *Session) handshake(connect *Frame) (*Frame, error) {
	if err := session.write(connect); err != nil {
		return nil, err
	}

	deadline := session.config.Now().Add(session.config.ConnectTimeout)
	for {
		remaining := deadline.Sub(session.config.Now())
		if remaining <= 0 {
			return nil, NewError(UnexpectedResponseError, "no CONNECTED frame received within "+session.config.ConnectTimeout.String())
		}
		frame, err := session.transport.ReadFrame(remaining)
		if err != nil {
			return nil, err
		}
		if frame == nil || frame.IsHeartbeat() {
			continue
		}
		session.config.Metrics.frameReceived(frame.Command)

		switch frame.Command {
		case CommandConnected:
			return frame, nil
		case CommandError:
			return nil, newBrokerError(frame)
		}
		return nil, &Error{
			Code:    UnexpectedResponseError,
			Message: "expected CONNECTED, got " + frame.Command,
			Frame:   frame,
		}
	}
}

// Send writes a SEND frame. Extra headers are key/value pairs and never
// replace destination or transaction.
func (session *Session) Send(destination string, body []byte, headers ...string) error {
	if _, err := session.transition(EventSend); err != nil {
		return err
	}
	if destination == "" {
		return NewError(InvalidArgumentError, "send requires a destination")
	}

	frame := session.protocol.Send(destination, body, session.state.transactionID)
	frame.Header.Merge(NewHeader(headers...), false)
	return session.exchange(frame)
}

// Subscribe subscribes to destination and returns the subscription id.
func (session *Session) Subscribe(destination string, options SubscribeOptions) (string, error) {
	next, err := session.transition(EventSubscribe)
	if err != nil {
		return "", err
	}

	id, err := session.acquireID(options.ID)
	if err != nil {
		return "", err
	}

	subscription := &Subscription{
		ID:          id,
		Destination: destination,
		Selector:    options.Selector,
		AckMode:     options.AckMode,
		Durable:     options.Durable,
		Header:      options.Header,
	}
	if subscription.AckMode == "" {
		subscription.AckMode = AckAuto
	}

	frame, err := session.protocol.Subscribe(subscription.request())
	if err != nil {
		session.releaseID(id)
		return "", err
	}
	if err := session.exchange(frame); err != nil {
		session.releaseID(id)
		return "", err
	}

	session.state.subscriptions.Add(subscription)
	session.state.kind = next
	session.log.WithFields(logrus.Fields{"id": id, "destination": destination}).Debug("subscribed")
	return id, nil
}

// Unsubscribe ends the subscription with id. An empty id selects the most
// recent subscription.
func (session *Session) Unsubscribe(id string, options ...UnsubscribeOptions) error {
	var durable bool
	if len(options) > 0 {
		durable = options[0].Durable
	}

	event := EventUnsubscribe
	if session.state.subscriptions.Len() <= 1 {
		event = EventUnsubscribeLast
	}
	next, err := session.transition(event)
	if err != nil {
		return err
	}

	var subscription *Subscription
	if id == "" {
		subscription = session.state.subscriptions.Last()
	} else {
		subscription, _ = session.state.subscriptions.Get(id)
	}
	if subscription == nil {
		return NewError(InvalidArgumentError, "no active subscription with id "+id)
	}

	frame, err := session.protocol.Unsubscribe(UnsubscribeRequest{
		Destination: subscription.Destination,
		ID:          subscription.ID,
		Durable:     durable,
	})
	if err != nil {
		return err
	}
	if err := session.exchange(frame); err != nil {
		return err
	}

	session.state.subscriptions.Remove(subscription.ID)
	session.releaseID(subscription.ID)
	session.state.kind = next
	session.log.WithField("id", subscription.ID).Debug("unsubscribed")
	return nil
}

// Ack acknowledges message, inside the open transaction if there is one.
func (session *Session) Ack(message *Frame) error {
	if _, err := session.transition(EventAck); err != nil {
		return err
	}
	frame, err := session.protocol.Ack(message, session.state.transactionID)
	if err != nil {
		return err
	}
	return session.exchange(frame)
}

// Nack rejects message, inside the open transaction if there is one.
func (session *Session) Nack(message *Frame, options ...NackOptions) error {
	if _, err := session.transition(EventNack); err != nil {
		return err
	}
	var requeue *bool
	if len(options) > 0 {
		requeue = options[0].Requeue
	}
	frame, err := session.protocol.Nack(message, session.state.transactionID, requeue)
	if err != nil {
		return err
	}
	return session.exchange(frame)
}

// Begin opens a transaction. An empty id generates one.
func (session *Session) Begin(transactionID string) (string, error) {
	next, err := session.transition(EventBegin)
	if err != nil {
		return "", err
	}
	if transactionID == "" {
		transactionID = uuid.NewString()
	}
	if err := session.exchange(session.protocol.Begin(transactionID)); err != nil {
		return "", err
	}
	session.state.transactionID = transactionID
	session.state.kind = next
	return transactionID, nil
}

// Commit commits the open transaction.
func (session *Session) Commit() error {
	return session.endTransaction(EventCommit, session.protocol.Commit)
}

// Abort rolls back the open transaction.
func (session *Session) Abort() error {
	return session.endTransaction(EventAbort, session.protocol.Abort)
}

func (session *Session) endTransaction(event Event, build func(string) *Frame) error {
	next, err := session.transition(event)
	if err != nil {
		return err
	}
	if err := session.exchange(build(session.state.transactionID)); err != nil {
		return err
	}
	session.state.transactionID = ""
	session.state.kind = next
	return nil
}

// Read returns the next inbound frame, or (nil, nil) when none arrives
// within timeout. A zero timeout selects Config.ReadTimeout. Frames read
// while waiting for receipts are returned first. Read writes heartbeats
// when they are due and fails with a HeartbeatError once the broker is
// silent for too long; that check wins over an expired timeout.
func (session *Session) Read(timeout time.Duration) (*Frame, error) {
	if _, err := session.transition(EventRead); err != nil {
		return nil, err
	}
	if len(session.pending) > 0 {
		frame := session.pending[0]
		session.pending = session.pending[1:]
		return frame, nil
	}

	if timeout <= 0 {
		timeout = session.config.ReadTimeout
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = session.config.Now().Add(timeout)
	}

	for {
		if err := session.pulse(); err != nil {
			return nil, err
		}

		wait, expired := session.readWait(deadline)
		if expired {
			if err := session.checkHeartbeat(); err != nil {
				return nil, err
			}
			session.state.draining = false
			return nil, nil
		}

		frame, err := session.transport.ReadFrame(wait)
		if err != nil {
			return nil, session.connectionFailed(err)
		}
		if frame == nil {
			if err := session.checkHeartbeat(); err != nil {
				return nil, err
			}
			continue
		}

		session.received(frame)
		if frame.IsHeartbeat() {
			continue
		}
		if frame.IsError() {
			return nil, session.brokerFailed(frame)
		}
		return frame, nil
	}
}

// readWait returns how long the next transport read may block. It stops
// early for the next outbound heartbeat and for the silence still tolerated
// from the broker.
func (session *Session) readWait(deadline time.Time) (time.Duration, bool) {
	var wait time.Duration
	if !deadline.IsZero() {
		wait = deadline.Sub(session.config.Now())
		if wait <= 0 {
			return 0, true
		}
	}

	shorten := func(limit time.Duration) {
		if limit <= 0 {
			return
		}
		if wait == 0 || limit < wait {
			wait = limit
		}
	}
	shorten(session.heartbeat.UntilSendDue())
	shorten(session.heartbeat.UntilReceiveDeadline())
	return wait, false
}

// Pulse writes a heartbeat line when one is due and reports a silent
// broker. Callers that do not Read regularly call it to keep the
// connection alive.
func (session *Session) Pulse() error {
	session.syncClosed()
	if !session.state.kind.Connected() {
		return newStateError(InvalidStateError, session.state.kind, "pulse")
	}
	if err := session.pulse(); err != nil {
		return err
	}
	return session.checkHeartbeat()
}

func (session *Session) pulse() error {
	if !session.heartbeat.SendDue() {
		return nil
	}
	if err := session.transport.Write(EncodeFrame(Heartbeat(), session.protocol.Version())); err != nil {
		return session.connectionFailed(err)
	}
	session.heartbeat.Sent()
	session.config.Metrics.heartbeatSent()
	return nil
}

func (session *Session) checkHeartbeat() error {
	if session.heartbeat.Failed() {
		return session.heartbeat.Check()
	}
	if err := session.heartbeat.Check(); err != nil {
		session.config.Metrics.heartbeatFailed()
		session.log.WithError(err).Warn("broker heartbeat missing")
		return err
	}
	return nil
}

// Disconnect sends DISCONNECT, waits for its receipt when receipts are
// enabled, and closes the transport. The session ends Disconnected even
// when the receipt does not arrive.
func (session *Session) Disconnect() error {
	previous := session.State()
	next, err := session.transition(EventDisconnect)
	if err != nil {
		return err
	}

	var result error
	if previous.Connected() {
		receipt := ""
		if session.config.ReceiptTimeout > 0 {
			receipt = uuid.NewString()
		}
		if result = session.write(session.protocol.Disconnect(receipt)); result == nil && receipt != "" {
			result = session.awaitReceipt(receipt)
		}
	}

	session.end(next)
	_ = session.transport.Close()
	if previous != StateDisconnected {
		session.log.Info("disconnected")
	}
	return result
}

// Close closes the transport without DISCONNECT. Blocked reads and receipt
// waits fail with a ConnectionError.
func (session *Session) Close() error {
	session.closed.Store(true)
	return session.transport.Close()
}

// abandon closes the transport and releases everything the session holds.
func (session *Session) abandon() {
	_ = session.Close()
	session.syncClosed()
}

// exchange writes frame and, when receipts are enabled, waits for its
// receipt.
func (session *Session) exchange(frame *Frame) error {
	receipt := ""
	if session.config.ReceiptTimeout > 0 {
		receipt = uuid.NewString()
		frame.Set(HeaderReceipt, receipt)
	}
	if err := session.write(frame); err != nil {
		return err
	}
	if receipt == "" {
		return nil
	}
	return session.awaitReceipt(receipt)
}

func (session *Session) write(frame *Frame) error {
	if err := session.transport.Write(EncodeFrame(frame, session.protocol.Version())); err != nil {
		return session.connectionFailed(err)
	}
	session.heartbeat.Sent()
	session.config.Metrics.frameSent(frame.Command)
	if session.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		session.log.WithField("command", frame.Command).Debug("frame sent")
	}
	return nil
}

// awaitReceipt reads until the RECEIPT for receipt arrives. Other frames are
// kept for Read and put the session into draining.
func (session *Session) awaitReceipt(receipt string) error {
	deadline := session.config.Now().Add(session.config.ReceiptTimeout)
	for {
		remaining := deadline.Sub(session.config.Now())
		if remaining <= 0 {
			session.config.Metrics.receiptMissing()
			return newMissingReceiptError(receipt)
		}

		frame, err := session.transport.ReadFrame(remaining)
		if err != nil {
			return session.connectionFailed(err)
		}
		if frame == nil {
			if err := session.checkHeartbeat(); err != nil {
				return err
			}
			continue
		}

		session.received(frame)
		switch {
		case frame.IsHeartbeat():
			continue
		case frame.Command == CommandReceipt:
			if id, _ := frame.ReceiptID(); id == receipt {
				return nil
			}
			session.log.WithField("receipt-id", frame.Header.Value(HeaderReceiptID)).Debug("unexpected receipt ignored")
		case frame.IsError():
			return session.brokerFailed(frame)
		default:
			session.pending = append(session.pending, frame)
			session.state.draining = true
		}
	}
}

func (session *Session) received(frame *Frame) {
	session.heartbeat.Received()
	session.config.Metrics.frameReceived(frame.Command)
	if !frame.IsHeartbeat() && session.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		session.log.WithField("command", frame.Command).Debug("frame received")
	}
}

// transition checks event against the current state and the draining guard
// without applying it.
func (session *Session) transition(event Event) (StateKind, error) {
	session.syncClosed()
	if session.state.draining && mutatesState(event) {
		return session.state.kind, newStateError(DrainingError, session.state.kind, event.String())
	}
	return Transition(session.state.kind, event)
}

func (session *Session) connectionFailed(err error) error {
	if session.closed.Load() {
		return newConnectionError(nil, "session closed")
	}
	var stompErr *Error
	if errors.As(err, &stompErr) && stompErr.Code == ConnectionError {
		return err
	}
	return newConnectionError(err, "transport failure")
}

// brokerFailed ends the session after an ERROR frame.
func (session *Session) brokerFailed(frame *Frame) error {
	err := newBrokerError(frame)
	session.log.WithError(err).Warn("broker sent ERROR")
	session.end(StateDisconnected)
	_ = session.transport.Close()
	return err
}

func (session *Session) syncClosed() {
	if session.closed.Load() && session.state.kind != StateDisconnected {
		session.end(StateDisconnected)
	}
}

func (session *Session) end(kind StateKind) {
	for _, subscription := range session.state.subscriptions.All() {
		session.releaseID(subscription.ID)
	}
	session.state = sessionState{kind: kind}
	session.pending = nil
}

// idReserver is implemented by allocators that accept caller-chosen ids.
type idReserver interface {
	Reserve(id string) bool
}

func (session *Session) acquireID(id string) (string, error) {
	if id == "" {
		id = session.config.IDs.Allocate()
		session.ownedIDs[id] = struct{}{}
		return id, nil
	}
	if strings.TrimSpace(id) != id {
		return "", NewError(InvalidArgumentError, "subscription id must not carry surrounding spaces")
	}
	if _, active := session.state.subscriptions.Get(id); active {
		return "", NewError(InvalidArgumentError, "subscription id "+id+" is already active")
	}
	if reserver, ok := session.config.IDs.(idReserver); ok {
		if !reserver.Reserve(id) {
			return "", NewError(InvalidArgumentError, "subscription id "+id+" is held by another session")
		}
		session.ownedIDs[id] = struct{}{}
	}
	return id, nil
}

func (session *Session) releaseID(id string) {
	if _, owned := session.ownedIDs[id]; !owned {
		return
	}
	delete(session.ownedIDs, id)
	session.config.IDs.Release(id)
}
