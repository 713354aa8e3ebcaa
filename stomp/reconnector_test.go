package stomp

import (
	"context"
	"errors"
	"testing"
	"time"
)

type dialRecorder struct {
	clock      *fakeClock
	uris       []string
	transports []*fakeTransport
	fail       map[string]error
	connected  func(uri string) *Frame
}

func newDialRecorder(clock *fakeClock) *dialRecorder {
	return &dialRecorder{clock: clock, fail: make(map[string]error)}
}

func (recorder *dialRecorder) dial(ctx context.Context, uri string) (Transport, error) {
	recorder.uris = append(recorder.uris, uri)
	if err := recorder.fail[uri]; err != nil {
		return nil, err
	}
	connected := connectedFrame(Version12, "", "ActiveMQ/5.18.3")
	if recorder.connected != nil {
		connected = recorder.connected(uri)
	}
	transport := newFakeTransport(recorder.clock, connected)
	recorder.transports = append(recorder.transports, transport)
	return transport, nil
}

func reconnectConfig(clock *fakeClock) Config {
	return Config{ClientID: "client-1", IDs: NewIDPool(), Now: clock.Now}
}

func TestReconnectorSkipsFailingServer(t *testing.T) {
	clock := newFakeClock()
	recorder := newDialRecorder(clock)
	recorder.fail["tcp://down:61613"] = errors.New("connection refused")

	reconnector := NewReconnector(reconnectConfig(clock), recorder.dial, "tcp://down:61613", "tcp://up:61613").
		SetReconnectDelayStrategy(NewFixedDelayStrategy(0))

	session, err := reconnector.Connect(context.Background())
	if err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	if session.State() != StateProducer {
		t.Fatalf("expected a connected session, got %s", session.State())
	}
	if len(recorder.uris) != 2 || recorder.uris[0] != "tcp://down:61613" || recorder.uris[1] != "tcp://up:61613" {
		t.Fatalf("unexpected dial order %v", recorder.uris)
	}
	if reconnector.ServerChooser().CurrentURI() != "tcp://up:61613" || reconnector.ServerChooser().Error() != "" {
		t.Fatalf("expected the chooser to stay on the working server")
	}
}

func TestReconnectorUsesChooserCredentials(t *testing.T) {
	clock := newFakeClock()
	recorder := newDialRecorder(clock)
	config := reconnectConfig(clock)
	config.Login = "default"

	chooser := NewDefaultServerChooser().AddWithCredentials("tcp://broker:61613", &Credentials{Login: "guest", Passcode: "secret"})
	reconnector := NewReconnector(config, recorder.dial).SetServerChooser(chooser)

	if _, err := reconnector.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	connect := recorder.transports[0].written[0]
	if connect.Header.Value(HeaderLogin) != "guest" || connect.Header.Value(HeaderPasscode) != "secret" {
		t.Fatalf("expected chooser credentials on CONNECT, got %s", connect)
	}
	if reconnector.Config().Login != "default" {
		t.Fatalf("expected the configured login to stay untouched")
	}
}

func TestReconnectorClosesRejectedTransport(t *testing.T) {
	clock := newFakeClock()
	recorder := newDialRecorder(clock)
	recorder.connected = func(uri string) *Frame {
		if uri == "tcp://strict:61613" {
			return NewFrame(CommandError, HeaderMessage, "access denied")
		}
		return connectedFrame(Version12, "", "")
	}

	reconnector := NewReconnector(reconnectConfig(clock), recorder.dial, "tcp://strict:61613", "tcp://open:61613").
		SetReconnectDelayStrategy(nil)

	if _, err := reconnector.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	if len(recorder.transports) != 2 || !recorder.transports[0].closed || recorder.transports[1].closed {
		t.Fatalf("expected only the rejected transport closed")
	}
}

func TestReconnectorTimeout(t *testing.T) {
	clock := newFakeClock()
	recorder := newDialRecorder(clock)
	refused := errors.New("connection refused")
	recorder.fail["tcp://down:61613"] = refused

	reconnector := NewReconnector(reconnectConfig(clock), recorder.dial, "tcp://down:61613").
		SetReconnectDelayStrategy(NewFixedDelayStrategy(10 * time.Millisecond)).
		SetTimeout(50 * time.Millisecond)

	_, err := reconnector.Connect(context.Background())
	if !errors.Is(err, refused) {
		t.Fatalf("expected the last attempt's error, got %v", err)
	}
	if len(recorder.uris) < 2 {
		t.Fatalf("expected several attempts before the timeout, got %d", len(recorder.uris))
	}
}

func TestReconnectorStrategyGivesUp(t *testing.T) {
	clock := newFakeClock()
	recorder := newDialRecorder(clock)
	recorder.fail["tcp://down:61613"] = errors.New("connection refused")

	reconnector := NewReconnector(reconnectConfig(clock), recorder.dial, "tcp://down:61613").
		SetReconnectDelayStrategy(NewExponentialDelayStrategy(0, time.Second, 2).SetMaxAttempts(1))

	_, err := reconnector.Connect(context.Background())
	expectCode(t, err, ConnectionError)
	if len(recorder.uris) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(recorder.uris))
	}
}

func TestReconnectorCancelled(t *testing.T) {
	clock := newFakeClock()
	recorder := newDialRecorder(clock)
	reconnector := NewReconnector(reconnectConfig(clock), recorder.dial, "tcp://broker:61613")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := reconnector.Connect(ctx)
	expectCode(t, err, ConnectionError)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled as the cause, got %v", err)
	}
	if len(recorder.uris) != 0 {
		t.Fatalf("expected no dial after cancellation, got %v", recorder.uris)
	}
}

func TestReconnectorCancelledWhileWaiting(t *testing.T) {
	clock := newFakeClock()
	recorder := newDialRecorder(clock)
	recorder.fail["tcp://down:61613"] = errors.New("connection refused")

	reconnector := NewReconnector(reconnectConfig(clock), recorder.dial, "tcp://down:61613").
		SetReconnectDelayStrategy(NewFixedDelayStrategy(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := reconnector.Connect(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the context deadline, got %v", err)
	}
}

func TestReconnectorWithoutServers(t *testing.T) {
	reconnector := NewReconnector(Config{}, nil)
	_, err := reconnector.Connect(context.Background())
	expectCode(t, err, ConnectionError)
}
