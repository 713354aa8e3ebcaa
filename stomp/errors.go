package stomp

import (
	"fmt"
)

// Error codes reported by the client. Codes compare with errors.Is through
// the sentinel values below, so a wrapped error still matches its code.
const (
	ConnectionError = iota

	BrokerError

	UnexpectedResponseError

	MissingReceiptError

	HeartbeatError

	InvalidStateError

	DrainingError

	InvalidArgumentError

	UnsupportedBrokerError

	UnsupportedCapabilityError

	UnknownError
)

// Sentinels for errors.Is.
var (
	ErrConnection            = &Error{Code: ConnectionError}
	ErrBroker                = &Error{Code: BrokerError}
	ErrUnexpectedResponse    = &Error{Code: UnexpectedResponseError}
	ErrMissingReceipt        = &Error{Code: MissingReceiptError}
	ErrHeartbeat             = &Error{Code: HeartbeatError}
	ErrInvalidState          = &Error{Code: InvalidStateError}
	ErrDraining              = &Error{Code: DrainingError}
	ErrInvalidArgument       = &Error{Code: InvalidArgumentError}
	ErrUnsupportedBroker     = &Error{Code: UnsupportedBrokerError}
	ErrUnsupportedCapability = &Error{Code: UnsupportedCapabilityError}
)

// Error is the typed error returned by every package operation.
type Error struct {
	Code    int
	Message string

	// Frame is the ERROR frame for BrokerError and the offending frame for
	// UnexpectedResponseError.
	Frame *Frame

	// ReceiptID is set for MissingReceiptError.
	ReceiptID string

	// State and Method are set for InvalidStateError and DrainingError.
	State  string
	Method string

	cause error
}

func errorName(errorCode int) string {
	switch errorCode {
	case ConnectionError:
		return "ConnectionError"
	case BrokerError:
		return "BrokerError"
	case UnexpectedResponseError:
		return "UnexpectedResponseError"
	case MissingReceiptError:
		return "MissingReceiptError"
	case HeartbeatError:
		return "HeartbeatError"
	case InvalidStateError:
		return "InvalidStateError"
	case DrainingError:
		return "DrainingError"
	case InvalidArgumentError:
		return "InvalidArgumentError"
	case UnsupportedBrokerError:
		return "UnsupportedBrokerError"
	case UnsupportedCapabilityError:
		return "UnsupportedCapabilityError"
	default:
		return "UnknownError"
	}
}

// NewError builds an error for errorCode. The optional message is formatted
// with %v; an error message becomes the cause.
func NewError(errorCode int, message ...interface{}) error {
	err := &Error{Code: errorCode}
	if len(message) > 0 {
		if cause, ok := message[0].(error); ok {
			err.cause = cause
		}
		err.Message = fmt.Sprint(message[0])
	}
	return err
}

func (err *Error) Error() string {
	name := errorName(err.Code)
	if err.Message != "" {
		return fmt.Sprintf("%s: %s", name, err.Message)
	}
	return name
}

// Unwrap returns the transport or parse error behind this error, if any.
func (err *Error) Unwrap() error {
	return err.cause
}

// Is matches any *Error carrying the same code.
func (err *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Code == err.Code
}

// Retryable reports whether the failure came from the connection or the
// broker rather than from a misuse of the API.
func (err *Error) Retryable() bool {
	switch err.Code {
	case ConnectionError, HeartbeatError, MissingReceiptError, BrokerError, UnexpectedResponseError:
		return true
	}
	return false
}

func newStateError(errorCode int, state StateKind, method string) error {
	message := fmt.Sprintf("%s is not allowed in state %s", method, state)
	if errorCode == DrainingError {
		message = fmt.Sprintf("%s is not allowed while %s is draining unread frames", method, state)
	}
	return &Error{Code: errorCode, Message: message, State: state.String(), Method: method}
}

func newBrokerError(frame *Frame) error {
	message, _ := frame.Header.Get(HeaderMessage)
	if message == "" {
		message = "broker sent an ERROR frame"
	}
	return &Error{Code: BrokerError, Message: message, Frame: frame}
}

func newMissingReceiptError(receiptID string) error {
	return &Error{
		Code:      MissingReceiptError,
		Message:   fmt.Sprintf("no RECEIPT for %q", receiptID),
		ReceiptID: receiptID,
	}
}

func newConnectionError(cause error, context string) error {
	if cause == nil {
		return &Error{Code: ConnectionError, Message: context}
	}
	return &Error{Code: ConnectionError, Message: fmt.Sprintf("%s: %v", context, cause), cause: cause}
}
