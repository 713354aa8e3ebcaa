package stomp

import (
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const defaultReadBufferSize = 32 * 1024

// Transport is the byte pipe a Session talks through.
//
// ReadFrame blocks up to timeout (or the configured read timeout when
// timeout is zero). It returns (nil, nil) when nothing complete arrived, a
// heartbeat frame (IsHeartbeat) for a bare EOL, and a ConnectionError once
// the pipe is broken or closed.
type Transport interface {
	Write(data []byte) error
	ReadFrame(timeout time.Duration) (*Frame, error)
	SetReadTimeout(timeout time.Duration)
	SetVersion(version string)
	Close() error
}

// Connection is the Transport over a net.Conn.
type Connection struct {
	conn         net.Conn
	decoder      *frameDecoder
	readBuffer   []byte
	readTimeout  time.Duration
	writeTimeout time.Duration
	writeLock    sync.Mutex
	interrupts   atomic.Int32
	closed       atomic.Bool
	log          *logrus.Entry
}

// NewConnection wraps conn. A nil log selects the package logger.
func NewConnection(conn net.Conn, log *logrus.Entry) *Connection {
	if log == nil {
		log = logrus.WithField("component", "stomp")
	}
	return &Connection{
		conn:       conn,
		decoder:    newFrameDecoder(),
		readBuffer: make([]byte, defaultReadBufferSize),
		log:        log.WithField("remote", remoteAddress(conn)),
	}
}

func remoteAddress(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}

// SetReadTimeout sets the wait used when ReadFrame gets a zero timeout.
// Zero blocks until data arrives.
func (connection *Connection) SetReadTimeout(timeout time.Duration) {
	connection.readTimeout = timeout
}

// SetWriteTimeout bounds each Write. Zero means no bound.
func (connection *Connection) SetWriteTimeout(timeout time.Duration) *Connection {
	connection.writeTimeout = timeout
	return connection
}

// SetVersion selects the header escaping rules for inbound frames.
func (connection *Connection) SetVersion(version string) {
	connection.decoder.version = version
}

// SetMaxFrameSize bounds the bytes buffered for one inbound frame.
func (connection *Connection) SetMaxFrameSize(size int) *Connection {
	connection.decoder.maxFrameSize = size
	return connection
}

// Write sends data in full.
func (connection *Connection) Write(data []byte) error {
	if connection.closed.Load() {
		return newConnectionError(nil, "connection closed")
	}

	connection.writeLock.Lock()
	defer connection.writeLock.Unlock()

	if connection.writeTimeout > 0 {
		_ = connection.conn.SetWriteDeadline(time.Now().Add(connection.writeTimeout))
	}
	if _, err := connection.conn.Write(data); err != nil {
		if connection.closed.Load() {
			return newConnectionError(nil, "connection closed")
		}
		connection.log.WithError(err).Debug("socket write failed")
		return newConnectionError(errors.Wrap(err, "write"), "socket error while sending frame")
	}
	return nil
}

// Interrupt wakes a blocked ReadFrame. The read resumes with its remaining
// deadline and keeps every byte buffered so far.
func (connection *Connection) Interrupt() {
	connection.interrupts.Add(1)
	_ = connection.conn.SetReadDeadline(time.Now())
}

// ReadFrame reads the next frame or heartbeat line.
func (connection *Connection) ReadFrame(timeout time.Duration) (*Frame, error) {
	if connection.closed.Load() {
		return nil, newConnectionError(nil, "connection closed")
	}

	if timeout <= 0 {
		timeout = connection.readTimeout
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		frame, err := connection.decoder.next()
		if err != nil {
			return nil, err
		}
		if frame != nil {
			return frame, nil
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil, nil
		}
		_ = connection.conn.SetReadDeadline(deadline)

		count, err := connection.conn.Read(connection.readBuffer)
		if count > 0 {
			connection.decoder.feed(connection.readBuffer[:count])
		}
		if err == nil {
			continue
		}
		if connection.closed.Load() {
			return nil, newConnectionError(nil, "connection closed")
		}
		if interrupted(err) {
			continue
		}
		if isTimeout(err) {
			if connection.interrupts.Swap(0) > 0 {
				continue
			}
			if !deadline.IsZero() && time.Now().Before(deadline) {
				continue
			}
			frame, decodeErr := connection.decoder.next()
			if decodeErr != nil {
				return nil, decodeErr
			}
			return frame, nil
		}

		if frame, _ := connection.decoder.next(); frame != nil {
			return frame, nil
		}
		connection.log.WithError(err).Debug("socket read failed")
		return nil, newConnectionError(errors.Wrap(err, "read"), "socket error while reading frame")
	}
}

// Close closes the socket and fails any blocked read.
func (connection *Connection) Close() error {
	if connection.closed.Swap(true) {
		return nil
	}
	return connection.conn.Close()
}

// Closed reports whether Close was called.
func (connection *Connection) Closed() bool {
	return connection.closed.Load()
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func interrupted(err error) bool {
	return errors.Is(err, syscall.EINTR)
}
