// Package stomp provides a STOMP 1.0, 1.1 and 1.2 client with broker
// dialects for ActiveMQ, Apollo, RabbitMQ and OpenMQ.
//
// The primary lifecycle is:
//   - open a Transport with Dial (tcp, ssl/tls, ws, wss)
//   - construct a Session with NewSession
//   - Connect to negotiate the version and heartbeats
//   - Send, Subscribe, Read, Ack/Nack, Begin/Commit/Abort
//   - Disconnect when finished
//
// A Session enforces legal call sequencing through an explicit state machine
// (see Transition). Misuse fails with InvalidStateError, DrainingError or
// InvalidArgumentError and is never worth retrying; transport and broker
// failures surface as ConnectionError, BrokerError, HeartbeatError or
// MissingReceiptError and leave reconnecting to the caller.
//
// Protocol and the Dialect implementations build frames without doing any
// I/O and can be used on their own.
//
// DurableSubscription and QueueBrowser are higher-level helpers built on a
// Session; a Reconnector cycles broker URIs for them.
//
// A Session is meant for one goroutine. Close may be called from another
// goroutine to fail blocked reads. Subscription ids come from an IDAllocator;
// DefaultIDPool is shared by every session in the process.
package stomp
