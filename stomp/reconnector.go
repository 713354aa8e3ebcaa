package stomp

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DialFunc opens a transport to uri. Dial wrapped in a closure is the usual
// implementation; tests substitute in-memory pipes.
type DialFunc func(ctx context.Context, uri string) (Transport, error)

// Reconnector produces connected sessions, cycling through a ServerChooser
// and waiting between attempts as the ReconnectDelayStrategy dictates.
type Reconnector struct {
	lock                   sync.Mutex
	config                 Config
	dial                   DialFunc
	serverChooser          ServerChooser
	reconnectDelayStrategy ReconnectDelayStrategy
	timeout                time.Duration
	log                    *logrus.Entry
}

// NewReconnector returns a Reconnector that builds sessions from config. A
// nil dial uses Dial with default options.
func NewReconnector(config Config, dial DialFunc, uris ...string) *Reconnector {
	if dial == nil {
		dial = func(ctx context.Context, uri string) (Transport, error) {
			connection, err := Dial(ctx, uri, DialOptions{Log: config.Log})
			if err != nil {
				return nil, err
			}
			return connection, nil
		}
	}
	log := config.Log
	if log == nil {
		log = logrus.WithField("component", "stomp")
	}
	return &Reconnector{
		config:                 config,
		dial:                   dial,
		serverChooser:          NewDefaultServerChooser(uris...),
		reconnectDelayStrategy: NewFixedDelayStrategy(time.Second),
		log:                    log,
	}
}

// SetServerChooser replaces the URI source.
func (reconnector *Reconnector) SetServerChooser(chooser ServerChooser) *Reconnector {
	if chooser == nil {
		chooser = NewDefaultServerChooser()
	}
	reconnector.lock.Lock()
	reconnector.serverChooser = chooser
	reconnector.lock.Unlock()
	return reconnector
}

// ServerChooser returns the URI source.
func (reconnector *Reconnector) ServerChooser() ServerChooser {
	reconnector.lock.Lock()
	defer reconnector.lock.Unlock()
	return reconnector.serverChooser
}

// SetReconnectDelayStrategy replaces the delay strategy.
func (reconnector *Reconnector) SetReconnectDelayStrategy(strategy ReconnectDelayStrategy) *Reconnector {
	reconnector.lock.Lock()
	reconnector.reconnectDelayStrategy = strategy
	reconnector.lock.Unlock()
	return reconnector
}

// ReconnectDelayStrategy returns the delay strategy.
func (reconnector *Reconnector) ReconnectDelayStrategy() ReconnectDelayStrategy {
	reconnector.lock.Lock()
	defer reconnector.lock.Unlock()
	return reconnector.reconnectDelayStrategy
}

// SetTimeout bounds one Connect call. Zero means no bound besides the
// context.
func (reconnector *Reconnector) SetTimeout(timeout time.Duration) *Reconnector {
	if timeout < 0 {
		timeout = 0
	}
	reconnector.lock.Lock()
	reconnector.timeout = timeout
	reconnector.lock.Unlock()
	return reconnector
}

// Timeout returns the Connect bound.
func (reconnector *Reconnector) Timeout() time.Duration {
	reconnector.lock.Lock()
	defer reconnector.lock.Unlock()
	return reconnector.timeout
}

// Config returns the session configuration.
func (reconnector *Reconnector) Config() Config {
	reconnector.lock.Lock()
	defer reconnector.lock.Unlock()
	return reconnector.config
}

// Connect loops over the chooser until a session is connected, the timeout
// passes or ctx ends. It returns the last attempt's error on timeout.
func (reconnector *Reconnector) Connect(ctx context.Context) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	reconnector.lock.Lock()
	chooser := reconnector.serverChooser
	strategy := reconnector.reconnectDelayStrategy
	timeout := reconnector.timeout
	config := reconnector.config
	reconnector.lock.Unlock()

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return nil, newConnectionError(ctx.Err(), "reconnect cancelled")
		default:
		}

		uri := chooser.CurrentURI()
		if uri == "" {
			return nil, NewError(ConnectionError, "server chooser does not contain any URIs")
		}

		session, err := reconnector.connectOnce(ctx, uri, chooser.CurrentCredentials(), config)
		if err == nil {
			chooser.ReportSuccess()
			if strategy != nil {
				strategy.Reset()
			}
			return session, nil
		}
		lastErr = err
		chooser.ReportFailure(err)
		reconnector.log.WithError(err).WithField("uri", uri).Warn("connect attempt failed")

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil, lastErr
		}

		var wait time.Duration
		if strategy != nil {
			if wait, err = strategy.GetConnectWaitDuration(uri); err != nil {
				return nil, err
			}
		}
		if wait <= 0 {
			continue
		}
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, lastErr
			}
			if wait > remaining {
				wait = remaining
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, newConnectionError(ctx.Err(), "reconnect cancelled")
		case <-timer.C:
		}
	}
}

func (reconnector *Reconnector) connectOnce(ctx context.Context, uri string, credentials *Credentials, config Config) (*Session, error) {
	transport, err := reconnector.dial(ctx, uri)
	if err != nil {
		return nil, err
	}
	if credentials != nil {
		config.Login = credentials.Login
		config.Passcode = credentials.Passcode
	}

	session := NewSession(transport, config)
	if err := session.Connect(); err != nil {
		_ = transport.Close()
		return nil, err
	}
	return session, nil
}
