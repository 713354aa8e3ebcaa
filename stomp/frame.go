package stomp

// STOMP commands.
const (
	CommandConnect     = "CONNECT"
	CommandStomp       = "STOMP"
	CommandConnected   = "CONNECTED"
	CommandSend        = "SEND"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandAck         = "ACK"
	CommandNack        = "NACK"
	CommandBegin       = "BEGIN"
	CommandCommit      = "COMMIT"
	CommandAbort       = "ABORT"
	CommandDisconnect  = "DISCONNECT"
	CommandMessage     = "MESSAGE"
	CommandReceipt     = "RECEIPT"
	CommandError       = "ERROR"
)

// STOMP header names.
const (
	HeaderAcceptVersion = "accept-version"
	HeaderAck           = "ack"
	HeaderClientID      = "client-id"
	HeaderContentLength = "content-length"
	HeaderContentType   = "content-type"
	HeaderDestination   = "destination"
	HeaderHeartBeat     = "heart-beat"
	HeaderHost          = "host"
	HeaderID            = "id"
	HeaderLogin         = "login"
	HeaderMessage       = "message"
	HeaderMessageID     = "message-id"
	HeaderPasscode      = "passcode"
	HeaderReceipt       = "receipt"
	HeaderReceiptID     = "receipt-id"
	HeaderSelector      = "selector"
	HeaderServer        = "server"
	HeaderSession       = "session"
	HeaderSubscription  = "subscription"
	HeaderTransaction   = "transaction"
	HeaderVersion       = "version"
)

// Header is an insertion-ordered set of unique header entries.
type Header struct {
	keys   []string
	values map[string]string
}

// NewHeader builds a header from key/value pairs. A trailing key without a
// value gets the empty string.
func NewHeader(pairs ...string) *Header {
	header := &Header{values: make(map[string]string, len(pairs)/2)}
	for index := 0; index < len(pairs); index += 2 {
		value := ""
		if index+1 < len(pairs) {
			value = pairs[index+1]
		}
		header.Set(pairs[index], value)
	}
	return header
}

// Get returns the value of key and whether it is present.
func (header *Header) Get(key string) (string, bool) {
	if header == nil || header.values == nil {
		return "", false
	}
	value, exists := header.values[key]
	return value, exists
}

// Value returns the value of key or the empty string.
func (header *Header) Value(key string) string {
	value, _ := header.Get(key)
	return value
}

// Contains reports whether key is present.
func (header *Header) Contains(key string) bool {
	_, exists := header.Get(key)
	return exists
}

// Set stores value under key. An existing key keeps its wire position.
func (header *Header) Set(key string, value string) *Header {
	if header.values == nil {
		header.values = make(map[string]string)
	}
	if _, exists := header.values[key]; !exists {
		header.keys = append(header.keys, key)
	}
	header.values[key] = value
	return header
}

// setFirst stores value only when key is absent; decoding uses it so a
// repeated header keeps its first value.
func (header *Header) setFirst(key string, value string) {
	if header.Contains(key) {
		return
	}
	header.Set(key, value)
}

// Del removes key.
func (header *Header) Del(key string) *Header {
	if !header.Contains(key) {
		return header
	}
	delete(header.values, key)
	for index, existing := range header.keys {
		if existing == key {
			header.keys = append(header.keys[:index], header.keys[index+1:]...)
			break
		}
	}
	return header
}

// Merge copies the entries of other into the receiver. Existing keys are
// replaced only when overwrite is set.
func (header *Header) Merge(other *Header, overwrite bool) *Header {
	if other == nil {
		return header
	}
	for _, key := range other.keys {
		if !overwrite && header.Contains(key) {
			continue
		}
		header.Set(key, other.values[key])
	}
	return header
}

// Len returns the number of entries.
func (header *Header) Len() int {
	if header == nil {
		return 0
	}
	return len(header.keys)
}

// Keys returns the keys in wire order.
func (header *Header) Keys() []string {
	if header == nil {
		return nil
	}
	return append([]string(nil), header.keys...)
}

// Clone returns a deep copy.
func (header *Header) Clone() *Header {
	clone := &Header{values: make(map[string]string, header.Len())}
	if header == nil {
		return clone
	}
	for _, key := range header.keys {
		clone.Set(key, header.values[key])
	}
	return clone
}

// Frame is one STOMP protocol unit. A Frame with an empty command stands for
// a heartbeat line read from the wire.
type Frame struct {
	Command string
	Header  *Header
	Body    []byte
}

// NewFrame returns a frame with the given header pairs and no body.
func NewFrame(command string, headerPairs ...string) *Frame {
	return &Frame{Command: command, Header: NewHeader(headerPairs...)}
}

// Heartbeat returns the frame standing for a bare EOL on the wire.
func Heartbeat() *Frame {
	return &Frame{Header: NewHeader()}
}

// Get returns the header value for key.
func (frame *Frame) Get(key string) (string, bool) {
	if frame == nil {
		return "", false
	}
	return frame.Header.Get(key)
}

// Set sets a header on the frame and returns the frame for chaining.
func (frame *Frame) Set(key string, value string) *Frame {
	if frame.Header == nil {
		frame.Header = NewHeader()
	}
	frame.Header.Set(key, value)
	return frame
}

// SetBody sets the body bytes.
func (frame *Frame) SetBody(body []byte) *Frame {
	frame.Body = body
	return frame
}

// MessageID returns the message-id header.
func (frame *Frame) MessageID() (string, bool) { return frame.Get(HeaderMessageID) }

// Subscription returns the subscription header.
func (frame *Frame) Subscription() (string, bool) { return frame.Get(HeaderSubscription) }

// AckID returns the ack header that STOMP 1.2 brokers put on MESSAGE frames.
func (frame *Frame) AckID() (string, bool) { return frame.Get(HeaderAck) }

// ReceiptID returns the receipt-id header of a RECEIPT frame.
func (frame *Frame) ReceiptID() (string, bool) { return frame.Get(HeaderReceiptID) }

// Destination returns the destination header.
func (frame *Frame) Destination() (string, bool) { return frame.Get(HeaderDestination) }

// IsError reports whether the frame is an ERROR frame.
func (frame *Frame) IsError() bool {
	return frame != nil && frame.Command == CommandError
}

// IsHeartbeat reports whether the frame stands for a heartbeat line.
func (frame *Frame) IsHeartbeat() bool {
	return frame != nil && frame.Command == ""
}

// Err returns a BrokerError for ERROR frames and nil otherwise.
func (frame *Frame) Err() error {
	if !frame.IsError() {
		return nil
	}
	return newBrokerError(frame)
}

// Clone returns a deep copy of the frame.
func (frame *Frame) Clone() *Frame {
	if frame == nil {
		return nil
	}
	clone := &Frame{Command: frame.Command, Header: frame.Header.Clone()}
	if frame.Body != nil {
		clone.Body = append([]byte(nil), frame.Body...)
	}
	return clone
}

func (frame *Frame) String() string {
	if frame == nil {
		return "<nil>"
	}
	if frame.IsHeartbeat() {
		return "<heartbeat>"
	}
	return string(encodeFrame(frame, Version12))
}
