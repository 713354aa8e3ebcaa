package stomp

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

type dummyAddr struct {
	value string
}

func (addr dummyAddr) Network() string { return "tcp" }
func (addr dummyAddr) String() string  { return addr.value }

// testConn serves queued chunks to Read and reports io.EOF once they are
// consumed.
type testConn struct {
	lock      sync.Mutex
	readQueue [][]byte
	written   []byte
	closed    bool
}

func newTestConn(chunks ...string) *testConn {
	connection := &testConn{}
	for _, chunk := range chunks {
		connection.enqueueRead([]byte(chunk))
	}
	return connection
}

func (connection *testConn) enqueueRead(chunk []byte) {
	connection.lock.Lock()
	connection.readQueue = append(connection.readQueue, append([]byte(nil), chunk...))
	connection.lock.Unlock()
}

func (connection *testConn) Read(buffer []byte) (int, error) {
	connection.lock.Lock()
	defer connection.lock.Unlock()

	if connection.closed || len(connection.readQueue) == 0 {
		return 0, io.EOF
	}
	chunk := connection.readQueue[0]
	if len(chunk) <= len(buffer) {
		copy(buffer, chunk)
		connection.readQueue = connection.readQueue[1:]
		return len(chunk), nil
	}
	copy(buffer, chunk[:len(buffer)])
	connection.readQueue[0] = chunk[len(buffer):]
	return len(buffer), nil
}

func (connection *testConn) Write(buffer []byte) (int, error) {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	if connection.closed {
		return 0, io.EOF
	}
	connection.written = append(connection.written, buffer...)
	return len(buffer), nil
}

func (connection *testConn) Close() error {
	connection.lock.Lock()
	connection.closed = true
	connection.lock.Unlock()
	return nil
}

func (connection *testConn) LocalAddr() net.Addr  { return dummyAddr{value: "127.0.0.1:61000"} }
func (connection *testConn) RemoteAddr() net.Addr { return dummyAddr{value: "127.0.0.1:61613"} }
func (connection *testConn) SetDeadline(time.Time) error      { return nil }
func (connection *testConn) SetReadDeadline(time.Time) error  { return nil }
func (connection *testConn) SetWriteDeadline(time.Time) error { return nil }

func (connection *testConn) WrittenBytes() []byte {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	return append([]byte(nil), connection.written...)
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (clock *fakeClock) Now() time.Time { return clock.now }

func (clock *fakeClock) Advance(duration time.Duration) {
	if duration > 0 {
		clock.now = clock.now.Add(duration)
	}
}

// fakeTransport replays scripted inbound frames and records every written
// frame. An empty inbound queue behaves like a read that waited the whole
// timeout: the clock advances and no frame is returned.
type fakeTransport struct {
	clock   *fakeClock
	version string
	inbound []*Frame
	written []*Frame
	closed  bool
	readErr error

	// respond, when set, scripts the broker reaction to each written frame.
	respond func(written *Frame) []*Frame
}

func newFakeTransport(clock *fakeClock, inbound ...*Frame) *fakeTransport {
	return &fakeTransport{clock: clock, inbound: inbound}
}

func (transport *fakeTransport) Write(data []byte) error {
	if transport.closed {
		return newConnectionError(nil, "connection closed")
	}
	frame, _, err := decodeFrame(data, transport.version)
	if err != nil {
		return err
	}
	transport.written = append(transport.written, frame)
	if transport.respond != nil {
		transport.inbound = append(transport.inbound, transport.respond(frame)...)
	}
	return nil
}

func (transport *fakeTransport) ReadFrame(timeout time.Duration) (*Frame, error) {
	if transport.closed {
		return nil, newConnectionError(nil, "connection closed")
	}
	if len(transport.inbound) > 0 {
		frame := transport.inbound[0]
		transport.inbound = transport.inbound[1:]
		return frame, nil
	}
	if transport.readErr != nil {
		return nil, transport.readErr
	}
	if transport.clock != nil {
		transport.clock.Advance(timeout)
	}
	return nil, nil
}

func (transport *fakeTransport) SetReadTimeout(time.Duration) {}

func (transport *fakeTransport) SetVersion(version string) { transport.version = version }

func (transport *fakeTransport) Close() error {
	transport.closed = true
	return nil
}

func (transport *fakeTransport) push(frames ...*Frame) {
	transport.inbound = append(transport.inbound, frames...)
}

// commands lists written commands, heartbeats as "".
func (transport *fakeTransport) commands() []string {
	commands := make([]string, 0, len(transport.written))
	for _, frame := range transport.written {
		commands = append(commands, frame.Command)
	}
	return commands
}

func (transport *fakeTransport) last(command string) *Frame {
	for index := len(transport.written) - 1; index >= 0; index-- {
		if transport.written[index].Command == command {
			return transport.written[index]
		}
	}
	return nil
}

func (transport *fakeTransport) heartbeatsWritten() int {
	count := 0
	for _, frame := range transport.written {
		if frame.IsHeartbeat() {
			count++
		}
	}
	return count
}

func connectedFrame(version string, heartbeat string, server string) *Frame {
	frame := NewFrame(CommandConnected, HeaderSession, "session-1")
	if version != "" {
		frame.Set(HeaderVersion, version)
	}
	if heartbeat != "" {
		frame.Set(HeaderHeartBeat, heartbeat)
	}
	if server != "" {
		frame.Set(HeaderServer, server)
	}
	return frame
}

func receiptFor(written *Frame) []*Frame {
	receipt, hasReceipt := written.Get(HeaderReceipt)
	if !hasReceipt {
		return nil
	}
	return []*Frame{NewFrame(CommandReceipt, HeaderReceiptID, receipt)}
}

func messageFrame(subscription string, messageID string, body string) *Frame {
	return NewFrame(CommandMessage,
		HeaderDestination, "/queue/test",
		HeaderSubscription, subscription,
		HeaderMessageID, messageID,
	).SetBody([]byte(body))
}

// newConnectedSession connects a session over a fake transport scripted with
// connected. Tests that leave config.IDs nil get a private pool.
func newConnectedSession(t *testing.T, config Config, connected *Frame) (*Session, *fakeTransport, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	transport := newFakeTransport(clock, connected)
	if config.IDs == nil {
		config.IDs = NewIDPool()
	}
	config.Now = clock.Now
	session := NewSession(transport, config)
	if err := session.Connect(); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	return session, transport, clock
}

func expectCode(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", errorName(code))
	}
	stompErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error with %s, got %T: %v", errorName(code), err, err)
	}
	if stompErr.Code != code {
		t.Fatalf("expected %s, got %v", errorName(code), err)
	}
}
