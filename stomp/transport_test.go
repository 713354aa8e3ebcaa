package stomp

import (
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

func TestConnectionReassemblesSplitFrames(t *testing.T) {
	conn := newTestConn("MESSAGE\ndestin", "ation:/queue/a\n\nhel", "lo\x00")
	connection := NewConnection(conn, nil)

	frame, err := connection.ReadFrame(time.Second)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if frame == nil || frame.Command != CommandMessage || string(frame.Body) != "hello" {
		t.Fatalf("unexpected frame %v", frame)
	}
	if destination, _ := frame.Destination(); destination != "/queue/a" {
		t.Fatalf("unexpected destination %q", destination)
	}
}

func TestConnectionReadsBufferedFramesInOrder(t *testing.T) {
	conn := newTestConn("\nMESSAGE\n\none\x00RECEIPT\nreceipt-id:r-1\n\n\x00")
	connection := NewConnection(conn, nil)

	expected := []string{"", CommandMessage, CommandReceipt}
	for index, command := range expected {
		frame, err := connection.ReadFrame(time.Second)
		if err != nil {
			t.Fatalf("frame %d: unexpected error: %v", index, err)
		}
		if frame == nil || frame.Command != command {
			t.Fatalf("frame %d: expected %q, got %v", index, command, frame)
		}
	}
}

func TestConnectionEOFIsConnectionError(t *testing.T) {
	connection := NewConnection(newTestConn(), nil)

	_, err := connection.ReadFrame(time.Second)
	expectCode(t, err, ConnectionError)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF as the cause, got %v", err)
	}
}

func TestConnectionDeliversFrameBeforeEOF(t *testing.T) {
	connection := NewConnection(newTestConn("RECEIPT\nreceipt-id:r-1\n\n\x00"), nil)

	frame, err := connection.ReadFrame(time.Second)
	if err != nil || frame == nil || frame.Command != CommandReceipt {
		t.Fatalf("expected RECEIPT before EOF, got %v and %v", frame, err)
	}
	_, err = connection.ReadFrame(time.Second)
	expectCode(t, err, ConnectionError)
}

func TestConnectionTimeoutReturnsNoFrame(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	connection := NewConnection(client, nil)
	defer connection.Close()

	start := time.Now()
	frame, err := connection.ReadFrame(50 * time.Millisecond)
	if err != nil || frame != nil {
		t.Fatalf("expected no frame and no error, got %v and %v", frame, err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected read to wait for the timeout, returned after %v", elapsed)
	}
}

func TestConnectionUsesConfiguredReadTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	connection := NewConnection(client, nil)
	defer connection.Close()
	connection.SetReadTimeout(20 * time.Millisecond)

	if frame, err := connection.ReadFrame(0); err != nil || frame != nil {
		t.Fatalf("expected no frame and no error, got %v and %v", frame, err)
	}
}

func TestConnectionInterruptResumesRead(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	connection := NewConnection(client, nil)
	defer connection.Close()

	type result struct {
		frame *Frame
		err   error
	}
	results := make(chan result, 1)
	go func() {
		frame, err := connection.ReadFrame(2 * time.Second)
		results <- result{frame: frame, err: err}
	}()

	if _, err := server.Write([]byte("MESSAGE\ndestination:/queue/a\n\nhalf ")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	connection.Interrupt()
	connection.Interrupt()
	if _, err := server.Write([]byte("and half\x00")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	outcome := <-results
	if outcome.err != nil {
		t.Fatalf("expected the interrupted read to resume, got %v", outcome.err)
	}
	if outcome.frame == nil || string(outcome.frame.Body) != "half and half" {
		t.Fatalf("expected every byte exactly once, got %v", outcome.frame)
	}
}

func TestConnectionCloseFailsBlockedRead(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	connection := NewConnection(client, nil)

	errs := make(chan error, 1)
	go func() {
		_, err := connection.ReadFrame(0)
		errs <- err
	}()

	if err := connection.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	expectCode(t, <-errs, ConnectionError)
	if !connection.Closed() {
		t.Fatalf("expected Closed to report true")
	}
	if err := connection.Close(); err != nil {
		t.Fatalf("expected a second close to succeed, got %v", err)
	}
}

func TestConnectionWrite(t *testing.T) {
	conn := newTestConn()
	connection := NewConnection(conn, nil).SetWriteTimeout(time.Second)

	data := EncodeFrame(NewFrame(CommandSend, HeaderDestination, "/queue/a").SetBody([]byte("x")), Version12)
	if err := connection.Write(data); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if string(conn.WrittenBytes()) != string(data) {
		t.Fatalf("unexpected bytes %q", conn.WrittenBytes())
	}

	connection.Close()
	expectCode(t, connection.Write(data), ConnectionError)
	_, err := connection.ReadFrame(time.Second)
	expectCode(t, err, ConnectionError)
}

func TestConnectionVersionControlsUnescaping(t *testing.T) {
	raw := "MESSAGE\nkey:a\\cb\n\n\x00"

	legacy := NewConnection(newTestConn(raw), nil)
	legacy.SetVersion(Version10)
	frame, err := legacy.ReadFrame(time.Second)
	if err != nil || frame.Header.Value("key") != "a\\cb" {
		t.Fatalf("expected 1.0 to keep the raw value, got %v and %v", frame, err)
	}

	current := NewConnection(newTestConn(raw), nil)
	current.SetVersion(Version12)
	frame, err = current.ReadFrame(time.Second)
	if err != nil || frame.Header.Value("key") != "a:b" {
		t.Fatalf("expected 1.2 to unescape, got %v and %v", frame, err)
	}
}

func TestConnectionMaxFrameSize(t *testing.T) {
	conn := newTestConn("MESSAGE\n\n" + strings.Repeat("x", 64))
	connection := NewConnection(conn, nil).SetMaxFrameSize(32)

	_, err := connection.ReadFrame(time.Second)
	expectCode(t, err, UnexpectedResponseError)
}

func TestConnectionRejectsOverflowingContentLength(t *testing.T) {
	conn := newTestConn("MESSAGE\ncontent-length:9223372036854775807\n\nhello\x00")
	connection := NewConnection(conn, nil)

	_, err := connection.ReadFrame(time.Second)
	expectCode(t, err, UnexpectedResponseError)
}

func TestConnectionRejectsContentLengthAboveMaxFrameSize(t *testing.T) {
	conn := newTestConn("MESSAGE\ncontent-length:100\n\n", strings.Repeat("x", 100)+"\x00")
	connection := NewConnection(conn, nil).SetMaxFrameSize(32)

	_, err := connection.ReadFrame(time.Second)
	expectCode(t, err, UnexpectedResponseError)
}
