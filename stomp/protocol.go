package stomp

import (
	"strconv"
	"strings"
	"time"
)

// Protocol versions.
const (
	Version10 = "1.0"
	Version11 = "1.1"
	Version12 = "1.2"
)

// SupportedVersions lists the versions offered in CONNECT by default.
var SupportedVersions = []string{Version10, Version11, Version12}

// Subscription ack modes.
const (
	AckAuto             = "auto"
	AckClient           = "client"
	AckClientIndividual = "client-individual"
)

// ConnectRequest holds the CONNECT parameters.
type ConnectRequest struct {
	Login     string
	Passcode  string
	Versions  []string
	Host      string
	Heartbeat HeartbeatIntervals
	Header    *Header
}

// SubscribeRequest holds the SUBSCRIBE parameters.
type SubscribeRequest struct {
	Destination string
	ID          string
	AckMode     string
	Selector    string
	Durable     bool
	Header      *Header
}

// UnsubscribeRequest holds the UNSUBSCRIBE parameters.
type UnsubscribeRequest struct {
	Destination string
	ID          string
	Durable     bool
}

// Protocol builds the frames of one connection for its negotiated version,
// client id and broker dialect. It performs no I/O.
type Protocol struct {
	version  string
	clientID string
	dialect  Dialect
}

// NewProtocol returns a Protocol. A nil dialect selects the Generic one.
func NewProtocol(version string, clientID string, dialect Dialect) *Protocol {
	if version == "" {
		version = Version10
	}
	if dialect == nil {
		dialect = &Generic{}
	}
	return &Protocol{version: version, clientID: clientID, dialect: dialect}
}

// Version returns the protocol version.
func (protocol *Protocol) Version() string { return protocol.version }

// ClientID returns the client id, empty when none was configured.
func (protocol *Protocol) ClientID() string { return protocol.clientID }

// HasClientID reports whether a client id is configured.
func (protocol *Protocol) HasClientID() bool { return protocol.clientID != "" }

// Dialect returns the broker dialect.
func (protocol *Protocol) Dialect() Dialect { return protocol.dialect }

// HasVersion reports whether the negotiated version is at least version.
func (protocol *Protocol) HasVersion(version string) bool {
	return compareVersions(protocol.version, version) >= 0
}

func (protocol *Protocol) withVersion(version string) *Protocol {
	return &Protocol{version: version, clientID: protocol.clientID, dialect: protocol.dialect}
}

// Connect builds the CONNECT frame.
func (protocol *Protocol) Connect(request ConnectRequest) *Frame {
	versions := request.Versions
	if len(versions) == 0 {
		versions = SupportedVersions
	}

	frame := NewFrame(CommandConnect)
	frame.Set(HeaderAcceptVersion, strings.Join(versions, ","))
	if request.Host != "" {
		frame.Set(HeaderHost, request.Host)
	}
	if request.Login != "" || request.Passcode != "" {
		frame.Set(HeaderLogin, request.Login)
		frame.Set(HeaderPasscode, request.Passcode)
	}
	if protocol.HasClientID() {
		frame.Set(HeaderClientID, protocol.clientID)
	}
	if !request.Heartbeat.Disabled() {
		frame.Set(HeaderHeartBeat, request.Heartbeat.String())
	}
	frame.Header.Merge(request.Header, false)
	return frame
}

// Subscribe builds a SUBSCRIBE frame through the dialect.
func (protocol *Protocol) Subscribe(request SubscribeRequest) (*Frame, error) {
	if request.Destination == "" {
		return nil, NewError(InvalidArgumentError, "subscribe requires a destination")
	}
	return protocol.dialect.Subscribe(protocol, request)
}

// Unsubscribe builds an UNSUBSCRIBE frame through the dialect.
func (protocol *Protocol) Unsubscribe(request UnsubscribeRequest) (*Frame, error) {
	if request.ID == "" && request.Destination == "" {
		return nil, NewError(InvalidArgumentError, "unsubscribe requires a subscription id or destination")
	}
	return protocol.dialect.Unsubscribe(protocol, request)
}

// Ack builds an ACK frame for message.
func (protocol *Protocol) Ack(message *Frame, transactionID string) (*Frame, error) {
	return protocol.dialect.Ack(protocol, message, transactionID)
}

// Nack builds a NACK frame for message. A nil requeue leaves the broker
// default in place.
func (protocol *Protocol) Nack(message *Frame, transactionID string, requeue *bool) (*Frame, error) {
	return protocol.dialect.Nack(protocol, message, transactionID, requeue)
}

// Begin builds a BEGIN frame.
func (protocol *Protocol) Begin(transactionID string) *Frame {
	return NewFrame(CommandBegin, HeaderTransaction, transactionID)
}

// Commit builds a COMMIT frame.
func (protocol *Protocol) Commit(transactionID string) *Frame {
	return NewFrame(CommandCommit, HeaderTransaction, transactionID)
}

// Abort builds an ABORT frame.
func (protocol *Protocol) Abort(transactionID string) *Frame {
	return NewFrame(CommandAbort, HeaderTransaction, transactionID)
}

// Disconnect builds a DISCONNECT frame, with a receipt header when receipt
// is not empty.
func (protocol *Protocol) Disconnect(receipt string) *Frame {
	frame := NewFrame(CommandDisconnect)
	if receipt != "" {
		frame.Set(HeaderReceipt, receipt)
	}
	return frame
}

// Send builds a SEND frame.
func (protocol *Protocol) Send(destination string, body []byte, transactionID string) *Frame {
	frame := NewFrame(CommandSend, HeaderDestination, destination)
	if transactionID != "" {
		frame.Set(HeaderTransaction, transactionID)
	}
	frame.Body = body
	return frame
}

func (protocol *Protocol) baseSubscribe(request SubscribeRequest) *Frame {
	ackMode := request.AckMode
	if ackMode == "" {
		ackMode = AckAuto
	}
	frame := NewFrame(CommandSubscribe, HeaderDestination, request.Destination, HeaderAck, ackMode)
	if request.ID != "" {
		frame.Set(HeaderID, request.ID)
	}
	if request.Selector != "" {
		frame.Set(HeaderSelector, request.Selector)
	}
	frame.Header.Merge(request.Header, false)
	return frame
}

func (protocol *Protocol) baseUnsubscribe(request UnsubscribeRequest) *Frame {
	frame := NewFrame(CommandUnsubscribe)
	if request.ID == "" || protocol.version == Version10 {
		frame.Set(HeaderDestination, request.Destination)
	}
	if request.ID != "" {
		frame.Set(HeaderID, request.ID)
	}
	return frame
}

func (protocol *Protocol) baseAck(command string, message *Frame, transactionID string) (*Frame, error) {
	if message == nil {
		return nil, NewError(InvalidArgumentError, strings.ToLower(command)+" requires a message frame")
	}

	frame := NewFrame(command)
	if protocol.HasVersion(Version12) {
		id, hasID := message.AckID()
		if !hasID || id == "" {
			id, hasID = message.MessageID()
		}
		if !hasID {
			return nil, NewError(InvalidArgumentError, "message carries neither an ack nor a message-id header")
		}
		frame.Set(HeaderID, id)
	} else {
		messageID, hasMessageID := message.MessageID()
		if !hasMessageID {
			return nil, NewError(InvalidArgumentError, "message carries no message-id header")
		}
		frame.Set(HeaderMessageID, messageID)
		if protocol.version == Version11 {
			if subscription, hasSubscription := message.Subscription(); hasSubscription {
				frame.Set(HeaderSubscription, subscription)
			}
		}
	}
	if transactionID != "" {
		frame.Set(HeaderTransaction, transactionID)
	}
	return frame, nil
}

// compareVersions orders "major.minor" strings numerically.
func compareVersions(left string, right string) int {
	leftMajor, leftMinor := splitVersion(left)
	rightMajor, rightMinor := splitVersion(right)
	switch {
	case leftMajor != rightMajor:
		return leftMajor - rightMajor
	default:
		return leftMinor - rightMinor
	}
}

func splitVersion(version string) (int, int) {
	major, minor, _ := strings.Cut(version, ".")
	majorValue, _ := strconv.Atoi(major)
	minorValue, _ := strconv.Atoi(minor)
	return majorValue, minorValue
}

// negotiateVersion picks the version announced in CONNECTED. STOMP 1.0
// brokers omit the header.
func negotiateVersion(connected *Frame, offered []string) (string, error) {
	if len(offered) == 0 {
		offered = SupportedVersions
	}
	version, hasVersion := connected.Get(HeaderVersion)
	if !hasVersion || version == "" {
		version = Version10
	}
	for _, candidate := range offered {
		if candidate == version {
			return version, nil
		}
	}
	return "", NewError(UnexpectedResponseError, "broker negotiated unoffered version "+strconv.Quote(version))
}

func millis(duration time.Duration) string {
	return strconv.FormatInt(duration.Milliseconds(), 10)
}
