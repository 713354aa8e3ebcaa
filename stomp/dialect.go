package stomp

import (
	"strconv"
	"strings"
)

// Dialect names accepted by DialectByName.
const (
	DialectGeneric  = "generic"
	DialectActiveMq = "activemq"
	DialectApollo   = "apollo"
	DialectRabbitMq = "rabbitmq"
	DialectOpenMq   = "openmq"
)

// Dialect adapts frames to one broker family. Every implementation builds
// the standard STOMP frame first and then patches only the headers where its
// broker deviates. The set is closed: Generic, ActiveMq, Apollo, RabbitMq
// and OpenMq.
type Dialect interface {
	Name() string
	Subscribe(protocol *Protocol, request SubscribeRequest) (*Frame, error)
	Unsubscribe(protocol *Protocol, request UnsubscribeRequest) (*Frame, error)
	Ack(protocol *Protocol, message *Frame, transactionID string) (*Frame, error)
	Nack(protocol *Protocol, message *Frame, transactionID string, requeue *bool) (*Frame, error)

	closed()
}

// DialectByName returns a fresh dialect for name. The empty name selects
// Generic.
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", DialectGeneric:
		return &Generic{}, nil
	case DialectActiveMq:
		return NewActiveMq(), nil
	case DialectApollo:
		return &Apollo{}, nil
	case DialectRabbitMq:
		return NewRabbitMq(), nil
	case DialectOpenMq:
		return &OpenMq{}, nil
	}
	return nil, NewError(UnsupportedBrokerError, "unknown broker dialect "+strconv.Quote(name))
}

// DialectFromServer guesses the dialect from the server header of a
// CONNECTED frame and falls back to Generic.
func DialectFromServer(connected *Frame) Dialect {
	server, _ := connected.Get(HeaderServer)
	server = strings.ToLower(server)
	switch {
	case strings.Contains(server, "activemq"):
		return NewActiveMq()
	case strings.Contains(server, "apollo"):
		return &Apollo{}
	case strings.Contains(server, "rabbitmq"):
		return NewRabbitMq()
	case strings.Contains(server, "openmq"):
		return &OpenMq{}
	}
	return &Generic{}
}

// Generic emits frames exactly as the STOMP protocol defines them.
// Durable flags and requeue requests are not part of the protocol and
// are ignored.
type Generic struct{}

func (dialect *Generic) closed() {}

// Name returns the dialect name.
func (dialect *Generic) Name() string { return DialectGeneric }

// Subscribe builds a standard STOMP SUBSCRIBE frame.
func (dialect *Generic) Subscribe(protocol *Protocol, request SubscribeRequest) (*Frame, error) {
	return protocol.baseSubscribe(request), nil
}

// Unsubscribe builds a standard STOMP UNSUBSCRIBE frame.
func (dialect *Generic) Unsubscribe(protocol *Protocol, request UnsubscribeRequest) (*Frame, error) {
	return protocol.baseUnsubscribe(request), nil
}

// Ack builds a standard STOMP ACK frame.
func (dialect *Generic) Ack(protocol *Protocol, message *Frame, transactionID string) (*Frame, error) {
	return protocol.baseAck(CommandAck, message, transactionID)
}

// Nack builds a standard STOMP NACK frame.
func (dialect *Generic) Nack(protocol *Protocol, message *Frame, transactionID string, requeue *bool) (*Frame, error) {
	return protocol.baseAck(CommandNack, message, transactionID)
}

// ActiveMq is the Apache ActiveMQ dialect.
type ActiveMq struct {
	Generic
	prefetchSize int
}

// NewActiveMq returns the dialect with a prefetch size of 1.
func NewActiveMq() *ActiveMq {
	return &ActiveMq{prefetchSize: 1}
}

// Name returns the dialect name.
func (dialect *ActiveMq) Name() string { return DialectActiveMq }

// PrefetchSize returns the activemq.prefetchSize sent on SUBSCRIBE.
func (dialect *ActiveMq) PrefetchSize() int { return dialect.prefetchSize }

// SetPrefetchSize sets the activemq.prefetchSize sent on SUBSCRIBE.
func (dialect *ActiveMq) SetPrefetchSize(prefetchSize int) *ActiveMq {
	dialect.prefetchSize = prefetchSize
	return dialect
}

// Subscribe adds the prefetch size and, for durable subscriptions, the
// subscription name ActiveMQ keys them by.
func (dialect *ActiveMq) Subscribe(protocol *Protocol, request SubscribeRequest) (*Frame, error) {
	if request.Durable && !protocol.HasClientID() {
		return nil, NewError(UnsupportedCapabilityError, "ActiveMQ durable subscriptions require a client id")
	}
	frame := protocol.baseSubscribe(request)
	frame.Set("activemq.prefetchSize", strconv.Itoa(dialect.prefetchSize))
	if request.Durable {
		frame.Set("activemq.subscriptionName", protocol.ClientID())
	}
	return frame, nil
}

// Unsubscribe names the durable subscription to remove.
func (dialect *ActiveMq) Unsubscribe(protocol *Protocol, request UnsubscribeRequest) (*Frame, error) {
	if request.Durable && !protocol.HasClientID() {
		return nil, NewError(UnsupportedCapabilityError, "ActiveMQ durable subscriptions require a client id")
	}
	frame := protocol.baseUnsubscribe(request)
	if request.Durable {
		frame.Set("activemq.subscriptionName", protocol.ClientID())
	}
	return frame, nil
}

// Apollo is the Apache Apollo dialect.
type Apollo struct {
	Generic
}

// Name returns the dialect name.
func (dialect *Apollo) Name() string { return DialectApollo }

// Subscribe marks durable subscriptions persistent when a client id exists.
func (dialect *Apollo) Subscribe(protocol *Protocol, request SubscribeRequest) (*Frame, error) {
	frame := protocol.baseSubscribe(request)
	if request.Durable && protocol.HasClientID() {
		frame.Set("persistent", "true")
	}
	return frame, nil
}

// Unsubscribe marks durable unsubscribes persistent when a client id exists.
func (dialect *Apollo) Unsubscribe(protocol *Protocol, request UnsubscribeRequest) (*Frame, error) {
	frame := protocol.baseUnsubscribe(request)
	if request.Durable && protocol.HasClientID() {
		frame.Set("persistent", "true")
	}
	return frame, nil
}

// Nack rejects requeue requests; Apollo has no such option.
func (dialect *Apollo) Nack(protocol *Protocol, message *Frame, transactionID string, requeue *bool) (*Frame, error) {
	if requeue != nil {
		return nil, NewError(UnsupportedCapabilityError, "Apollo does not support requeue on NACK")
	}
	return protocol.baseAck(CommandNack, message, transactionID)
}

// RabbitMq is the RabbitMQ STOMP plugin dialect.
type RabbitMq struct {
	Generic
	prefetchCount int
}

// NewRabbitMq returns the dialect with a prefetch count of 1.
func NewRabbitMq() *RabbitMq {
	return &RabbitMq{prefetchCount: 1}
}

// Name returns the dialect name.
func (dialect *RabbitMq) Name() string { return DialectRabbitMq }

// PrefetchCount returns the prefetch-count sent on SUBSCRIBE.
func (dialect *RabbitMq) PrefetchCount() int { return dialect.prefetchCount }

// SetPrefetchCount sets the prefetch-count sent on SUBSCRIBE.
func (dialect *RabbitMq) SetPrefetchCount(prefetchCount int) *RabbitMq {
	dialect.prefetchCount = prefetchCount
	return dialect
}

// Subscribe adds prefetch-count and marks durable subscriptions persistent.
func (dialect *RabbitMq) Subscribe(protocol *Protocol, request SubscribeRequest) (*Frame, error) {
	frame := protocol.baseSubscribe(request)
	frame.Set("prefetch-count", strconv.Itoa(dialect.prefetchCount))
	if request.Durable {
		frame.Set("persistent", "true")
	}
	return frame, nil
}

// Unsubscribe marks durable unsubscribes persistent.
func (dialect *RabbitMq) Unsubscribe(protocol *Protocol, request UnsubscribeRequest) (*Frame, error) {
	frame := protocol.baseUnsubscribe(request)
	if request.Durable {
		frame.Set("persistent", "true")
	}
	return frame, nil
}

// Nack adds the requeue header when one was requested.
func (dialect *RabbitMq) Nack(protocol *Protocol, message *Frame, transactionID string, requeue *bool) (*Frame, error) {
	frame, err := protocol.baseAck(CommandNack, message, transactionID)
	if err != nil {
		return nil, err
	}
	if requeue != nil {
		frame.Set("requeue", strconv.FormatBool(*requeue))
	}
	return frame, nil
}

// OpenMq is the OpenMQ dialect.
type OpenMq struct {
	Generic
}

// Name returns the dialect name.
func (dialect *OpenMq) Name() string { return DialectOpenMq }

// Ack always names the subscription; OpenMQ needs it for every version.
func (dialect *OpenMq) Ack(protocol *Protocol, message *Frame, transactionID string) (*Frame, error) {
	frame, err := protocol.baseAck(CommandAck, message, transactionID)
	if err != nil {
		return nil, err
	}
	subscription, _ := message.Subscription()
	frame.Set(HeaderSubscription, subscription)
	return frame, nil
}
