package stomp

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DurableOptions configure a DurableSubscription.
type DurableOptions struct {
	// ID names the subscription. It stays the same across reconnects so the
	// broker can match the durable subscription again. Empty allocates one
	// on first activation.
	ID       string
	Selector string
	AckMode  string
	Header   *Header

	// Reconnector, when set, replaces a session that fails with a connection
	// or heartbeat error and activates the subscription again.
	Reconnector *Reconnector
}

// DurableSubscription is a topic subscription the broker keeps while the
// client is away. It requires a client id.
type DurableSubscription struct {
	session    *Session
	topic      string
	options    DurableOptions
	id         string
	active     bool
	reconnects int
	log        *logrus.Entry
}

// NewDurableSubscription binds a durable subscription to topic on session.
// It fails with UnsupportedCapabilityError when the session has no client id.
func NewDurableSubscription(session *Session, topic string, options DurableOptions) (*DurableSubscription, error) {
	if session == nil {
		return nil, NewError(InvalidArgumentError, "durable subscription requires a session")
	}
	if topic == "" {
		return nil, NewError(InvalidArgumentError, "durable subscription requires a topic")
	}
	if session.config.ClientID == "" {
		return nil, NewError(UnsupportedCapabilityError, "durable subscriptions require a client id")
	}
	return &DurableSubscription{
		session: session,
		topic:   topic,
		options: options,
		id:      options.ID,
		log:     session.log.WithField("topic", topic),
	}, nil
}

// Session returns the session currently carrying the subscription.
func (durable *DurableSubscription) Session() *Session { return durable.session }

// ID returns the subscription id, empty before the first activation.
func (durable *DurableSubscription) ID() string { return durable.id }

// Active reports whether the subscription is receiving messages.
func (durable *DurableSubscription) Active() bool { return durable.active }

// Reconnects returns how many times the session was replaced.
func (durable *DurableSubscription) Reconnects() int { return durable.reconnects }

// Activate subscribes durably. It is a no-op while active.
func (durable *DurableSubscription) Activate() error {
	if durable.active {
		return nil
	}
	id, err := durable.session.Subscribe(durable.topic, SubscribeOptions{
		ID:       durable.id,
		AckMode:  durable.options.AckMode,
		Selector: durable.options.Selector,
		Durable:  true,
		Header:   durable.options.Header,
	})
	if err != nil {
		return err
	}
	durable.id = id
	durable.active = true
	durable.log.WithField("id", id).Info("durable subscription active")
	return nil
}

// Inactive stops delivery while the broker keeps collecting messages.
func (durable *DurableSubscription) Inactive() error {
	if !durable.active {
		return nil
	}
	if err := durable.session.Unsubscribe(durable.id); err != nil {
		return err
	}
	durable.active = false
	return nil
}

// Deactivate removes the broker-side subscription. An inactive subscription
// is activated first so the broker can resolve it.
func (durable *DurableSubscription) Deactivate() error {
	if err := durable.Activate(); err != nil {
		return err
	}
	if err := durable.session.Unsubscribe(durable.id, UnsubscribeOptions{Durable: true}); err != nil {
		return err
	}
	durable.active = false
	durable.log.WithField("id", durable.id).Info("durable subscription removed")
	return nil
}

// Read returns the next frame. With a Reconnector, a connection or heartbeat
// failure replaces the session, activates the subscription again and
// continues reading.
func (durable *DurableSubscription) Read(timeout time.Duration) (*Frame, error) {
	if !durable.active {
		return nil, newStateError(InvalidStateError, durable.session.State(), "read inactive durable subscription")
	}
	frame, err := durable.session.Read(timeout)
	if err == nil || durable.options.Reconnector == nil || !recoverable(err) {
		return frame, err
	}

	durable.log.WithError(err).Warn("durable subscription lost its session")
	if err := durable.Reconnect(context.Background()); err != nil {
		return nil, err
	}
	return durable.session.Read(timeout)
}

// Reconnect replaces the session through the Reconnector and activates the
// subscription on the new one.
func (durable *DurableSubscription) Reconnect(ctx context.Context) error {
	if durable.options.Reconnector == nil {
		return NewError(InvalidArgumentError, "durable subscription has no reconnector")
	}
	durable.session.abandon()

	session, err := durable.options.Reconnector.Connect(ctx)
	if err != nil {
		return err
	}
	durable.session = session
	durable.active = false
	durable.reconnects++
	return durable.Activate()
}

// Ack acknowledges message.
func (durable *DurableSubscription) Ack(message *Frame) error {
	return durable.session.Ack(message)
}

// Nack rejects message.
func (durable *DurableSubscription) Nack(message *Frame, options ...NackOptions) error {
	return durable.session.Nack(message, options...)
}

func recoverable(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrHeartbeat)
}
