package stomp

// StateKind is the position of a Session in its lifecycle.
type StateKind int

// Session states.
const (
	StateUnconnected StateKind = iota
	StateConnecting
	StateProducer
	StateConsumer
	StateProducerTransaction
	StateConsumerTransaction
	StateDisconnected
)

func (kind StateKind) String() string {
	switch kind {
	case StateUnconnected:
		return "Unconnected"
	case StateConnecting:
		return "Connecting"
	case StateProducer:
		return "Producer"
	case StateConsumer:
		return "Consumer"
	case StateProducerTransaction:
		return "ProducerTransaction"
	case StateConsumerTransaction:
		return "ConsumerTransaction"
	case StateDisconnected:
		return "Disconnected"
	}
	return "Unknown"
}

// Connected reports whether frames may be exchanged in this state.
func (kind StateKind) Connected() bool {
	switch kind {
	case StateProducer, StateConsumer, StateProducerTransaction, StateConsumerTransaction:
		return true
	}
	return false
}

// Consuming reports whether the state holds at least one subscription.
func (kind StateKind) Consuming() bool {
	return kind == StateConsumer || kind == StateConsumerTransaction
}

// InTransaction reports whether a transaction is open.
func (kind StateKind) InTransaction() bool {
	return kind == StateProducerTransaction || kind == StateConsumerTransaction
}

// Event is an operation applied to a state.
type Event int

// Events of the transition table.
const (
	EventConnect Event = iota
	EventConnected
	EventConnectFailed
	EventSend
	EventSubscribe
	EventUnsubscribe
	EventUnsubscribeLast
	EventAck
	EventNack
	EventBegin
	EventCommit
	EventAbort
	EventRead
	EventDisconnect
)

func (event Event) String() string {
	switch event {
	case EventConnect:
		return "connect"
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connectFailed"
	case EventSend:
		return "send"
	case EventSubscribe:
		return "subscribe"
	case EventUnsubscribe, EventUnsubscribeLast:
		return "unsubscribe"
	case EventAck:
		return "ack"
	case EventNack:
		return "nack"
	case EventBegin:
		return "begin"
	case EventCommit:
		return "commit"
	case EventAbort:
		return "abort"
	case EventRead:
		return "read"
	case EventDisconnect:
		return "disconnect"
	}
	return "unknown"
}

// transitions lists every legal (state, event) pair. Pairs that are missing
// fail with InvalidStateError, except unsubscribe outside a consumer state,
// which fails with InvalidArgumentError because no subscription can match.
var transitions = map[StateKind]map[Event]StateKind{
	StateUnconnected: {
		EventConnect:    StateConnecting,
		EventDisconnect: StateDisconnected,
	},
	StateConnecting: {
		EventConnected:     StateProducer,
		EventConnectFailed: StateUnconnected,
		EventDisconnect:    StateDisconnected,
	},
	StateProducer: {
		EventSend:       StateProducer,
		EventSubscribe:  StateConsumer,
		EventAck:        StateProducer,
		EventNack:       StateProducer,
		EventBegin:      StateProducerTransaction,
		EventRead:       StateProducer,
		EventDisconnect: StateDisconnected,
	},
	StateConsumer: {
		EventSend:            StateConsumer,
		EventSubscribe:       StateConsumer,
		EventUnsubscribe:     StateConsumer,
		EventUnsubscribeLast: StateProducer,
		EventAck:             StateConsumer,
		EventNack:            StateConsumer,
		EventBegin:           StateConsumerTransaction,
		EventRead:            StateConsumer,
		EventDisconnect:      StateDisconnected,
	},
	StateProducerTransaction: {
		EventSend:       StateProducerTransaction,
		EventSubscribe:  StateConsumerTransaction,
		EventAck:        StateProducerTransaction,
		EventNack:       StateProducerTransaction,
		EventCommit:     StateProducer,
		EventAbort:      StateProducer,
		EventRead:       StateProducerTransaction,
		EventDisconnect: StateDisconnected,
	},
	StateConsumerTransaction: {
		EventSend:            StateConsumerTransaction,
		EventSubscribe:       StateConsumerTransaction,
		EventUnsubscribe:     StateConsumerTransaction,
		EventUnsubscribeLast: StateProducerTransaction,
		EventAck:             StateConsumerTransaction,
		EventNack:            StateConsumerTransaction,
		EventCommit:          StateConsumer,
		EventAbort:           StateConsumer,
		EventRead:            StateConsumerTransaction,
		EventDisconnect:      StateDisconnected,
	},
	StateDisconnected: {
		EventDisconnect: StateDisconnected,
	},
}

// Transition returns the state reached by applying event to kind.
func Transition(kind StateKind, event Event) (StateKind, error) {
	if next, legal := transitions[kind][event]; legal {
		return next, nil
	}
	if (event == EventUnsubscribe || event == EventUnsubscribeLast) && kind.Connected() {
		return kind, NewError(InvalidArgumentError, "no active subscription to unsubscribe in state "+kind.String())
	}
	return kind, newStateError(InvalidStateError, kind, event.String())
}

// mutatesState lists the events a draining session rejects.
func mutatesState(event Event) bool {
	switch event {
	case EventSubscribe, EventUnsubscribe, EventUnsubscribeLast, EventBegin, EventCommit, EventAbort:
		return true
	}
	return false
}

// sessionState is the full state value held by a Session.
type sessionState struct {
	kind StateKind

	// Consumer-family states.
	subscriptions *SubscriptionList
	draining      bool

	// Transaction states.
	transactionID string
}
