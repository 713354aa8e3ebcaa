package stomp

import (
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultConnectTimeout bounds the wait for CONNECTED.
const DefaultConnectTimeout = 30 * time.Second

// Config holds the settings of one Session.
type Config struct {
	Login    string
	Passcode string

	// Versions offered in accept-version. Empty offers every supported
	// version.
	Versions []string

	// Host is the virtual host sent in CONNECT.
	Host string

	// ClientID is required by durable subscriptions.
	ClientID string

	// Dialect selects broker-specific frames. Nil picks one from the
	// CONNECTED server header.
	Dialect Dialect

	// Heartbeat is the client proposal: how often it can send and how often
	// it wants to receive.
	Heartbeat HeartbeatIntervals

	// HeartbeatGrace multiplies the inbound interval before the broker is
	// declared dead. Zero selects DefaultHeartbeatGrace.
	HeartbeatGrace float64

	// ConnectTimeout bounds the CONNECTED wait. Zero selects
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// ReceiptTimeout, when positive, makes every frame after CONNECT request
	// a receipt and wait this long for it.
	ReceiptTimeout time.Duration

	// ReadTimeout is used by Read when it is given no timeout. Zero blocks.
	ReadTimeout time.Duration

	// ConnectHeader is merged into CONNECT without overriding its headers.
	ConnectHeader *Header

	// IDs allocates subscription ids. Nil selects DefaultIDPool.
	IDs IDAllocator

	Log     *logrus.Entry
	Metrics *Metrics

	// Now is the clock used for heartbeat and receipt bookkeeping.
	Now func() time.Time
}

func (config Config) withDefaults() Config {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.HeartbeatGrace < 1 {
		config.HeartbeatGrace = DefaultHeartbeatGrace
	}
	if config.IDs == nil {
		config.IDs = DefaultIDPool
	}
	if config.Log == nil {
		config.Log = logrus.WithField("component", "stomp")
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return config
}

func (config Config) validate() error {
	for _, version := range config.Versions {
		supported := false
		for _, candidate := range SupportedVersions {
			if candidate == version {
				supported = true
				break
			}
		}
		if !supported {
			return NewError(InvalidArgumentError, "unsupported protocol version "+version)
		}
	}
	if config.Heartbeat.Send < 0 || config.Heartbeat.Receive < 0 {
		return NewError(InvalidArgumentError, "heartbeat intervals must not be negative")
	}
	return nil
}

// SubscribeOptions are the optional SUBSCRIBE parameters.
type SubscribeOptions struct {
	// ID is the subscription id. Empty allocates one from Config.IDs.
	ID string

	// AckMode is auto, client or client-individual. Empty means auto.
	AckMode  string
	Selector string
	Durable  bool

	// Header is merged into SUBSCRIBE without overriding its headers.
	Header *Header
}

// UnsubscribeOptions are the optional UNSUBSCRIBE parameters.
type UnsubscribeOptions struct {
	// Durable removes the broker-side durable subscription as well.
	Durable bool
}

// NackOptions are the optional NACK parameters.
type NackOptions struct {
	// Requeue asks the broker to requeue (true) or drop (false) the message.
	// Nil leaves the broker default in place.
	Requeue *bool
}

// Requeue returns a pointer to value for NackOptions.Requeue.
func Requeue(value bool) *bool {
	return &value
}
