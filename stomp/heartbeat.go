package stomp

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// DefaultHeartbeatGrace multiplies the receive interval before a silent
// broker counts as dead.
const DefaultHeartbeatGrace = 2.0

// HeartbeatIntervals is a heart-beat pair. On CONNECT it is the client
// proposal (can send, wants to receive); after negotiation it holds the
// effective outbound and inbound intervals. Zero disables a direction.
type HeartbeatIntervals struct {
	Send    time.Duration
	Receive time.Duration
}

// Disabled reports whether both directions are off.
func (intervals HeartbeatIntervals) Disabled() bool {
	return intervals.Send <= 0 && intervals.Receive <= 0
}

// String renders the heart-beat header value "x,y" in milliseconds.
func (intervals HeartbeatIntervals) String() string {
	return millis(intervals.Send) + "," + millis(intervals.Receive)
}

// ParseHeartbeat parses a heart-beat header value.
func ParseHeartbeat(value string) (HeartbeatIntervals, error) {
	first, second, err := frame.ParseHeartBeat(strings.ReplaceAll(value, " ", ""))
	if err != nil {
		return HeartbeatIntervals{}, NewError(UnexpectedResponseError, fmt.Sprintf("invalid heart-beat %q", value))
	}
	return HeartbeatIntervals{Send: first, Receive: second}, nil
}

// NegotiateHeartbeat combines the client proposal with the broker pair. Each
// direction is the larger of the two matching values when both are nonzero
// and disabled otherwise.
//
// The pairs are compared element-wise: client send with broker send, client
// receive with broker receive. A broker that follows the wire convention
// answers with what it sends first and what it wants second, so an
// asymmetric reply such as "0,5000" to a proposal of "5000,0" disables the
// outbound heartbeats that broker expects. Propose the same interval in both
// directions when talking to such a broker.
func NegotiateHeartbeat(client HeartbeatIntervals, broker HeartbeatIntervals) HeartbeatIntervals {
	return HeartbeatIntervals{
		Send:    negotiateInterval(client.Send, broker.Send),
		Receive: negotiateInterval(client.Receive, broker.Receive),
	}
}

func negotiateInterval(client time.Duration, broker time.Duration) time.Duration {
	if client <= 0 || broker <= 0 {
		return 0
	}
	if client > broker {
		return client
	}
	return broker
}

// HeartbeatMonitor tracks traffic in both directions for one connection.
type HeartbeatMonitor struct {
	intervals    HeartbeatIntervals
	grace        float64
	now          func() time.Time
	lastSent     time.Time
	lastReceived time.Time
	failed       bool
}

// NewHeartbeatMonitor returns a monitor for negotiated intervals. A grace
// below 1 selects DefaultHeartbeatGrace; a nil clock selects time.Now.
func NewHeartbeatMonitor(intervals HeartbeatIntervals, grace float64, now func() time.Time) *HeartbeatMonitor {
	if grace < 1 {
		grace = DefaultHeartbeatGrace
	}
	if now == nil {
		now = time.Now
	}
	current := now()
	return &HeartbeatMonitor{
		intervals:    intervals,
		grace:        grace,
		now:          now,
		lastSent:     current,
		lastReceived: current,
	}
}

// Intervals returns the negotiated intervals.
func (monitor *HeartbeatMonitor) Intervals() HeartbeatIntervals {
	if monitor == nil {
		return HeartbeatIntervals{}
	}
	return monitor.intervals
}

// Sent records outbound traffic.
func (monitor *HeartbeatMonitor) Sent() {
	if monitor == nil {
		return
	}
	monitor.lastSent = monitor.now()
}

// Received records inbound traffic, frame or heartbeat line.
func (monitor *HeartbeatMonitor) Received() {
	if monitor == nil {
		return
	}
	monitor.lastReceived = monitor.now()
}

// SendDue reports whether the outbound side has been idle for a full
// interval.
func (monitor *HeartbeatMonitor) SendDue() bool {
	if monitor == nil || monitor.intervals.Send <= 0 {
		return false
	}
	return monitor.now().Sub(monitor.lastSent) >= monitor.intervals.Send
}

// UntilSendDue returns how long until a heartbeat must be written. It is
// negative when outbound heartbeats are disabled.
func (monitor *HeartbeatMonitor) UntilSendDue() time.Duration {
	if monitor == nil || monitor.intervals.Send <= 0 {
		return -1
	}
	remaining := monitor.intervals.Send - monitor.now().Sub(monitor.lastSent)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ReceiveTimeout is the silence tolerated before Check fails.
func (monitor *HeartbeatMonitor) ReceiveTimeout() time.Duration {
	if monitor == nil || monitor.intervals.Receive <= 0 {
		return 0
	}
	return time.Duration(float64(monitor.intervals.Receive) * monitor.grace)
}

// UntilReceiveDeadline returns how long until Check fails if nothing more
// arrives. It is negative when inbound heartbeats are disabled and zero once
// the limit has passed.
func (monitor *HeartbeatMonitor) UntilReceiveDeadline() time.Duration {
	timeout := monitor.ReceiveTimeout()
	if timeout <= 0 {
		return -1
	}
	// Check tolerates silence equal to the timeout; it fails one tick later.
	remaining := timeout + 1 - monitor.now().Sub(monitor.lastReceived)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Check returns a HeartbeatError when the broker has been silent for longer
// than ReceiveTimeout. Once failed, the monitor stays failed.
func (monitor *HeartbeatMonitor) Check() error {
	if monitor == nil {
		return nil
	}
	if !monitor.failed {
		timeout := monitor.ReceiveTimeout()
		if timeout <= 0 {
			return nil
		}
		silence := monitor.now().Sub(monitor.lastReceived)
		if silence <= timeout {
			return nil
		}
		monitor.failed = true
	}
	return NewError(HeartbeatError, fmt.Sprintf("no data from broker within %v", monitor.ReceiveTimeout()))
}

// Failed reports whether Check has detected a dead broker.
func (monitor *HeartbeatMonitor) Failed() bool {
	return monitor != nil && monitor.failed
}
