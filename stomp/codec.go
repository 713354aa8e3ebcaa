package stomp

import (
	"bytes"
	"strconv"
	"strings"
)

// DefaultMaxFrameSize bounds the bytes buffered for one inbound frame.
const DefaultMaxFrameSize = 16 * 1024 * 1024

var headerEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"\r", "\\r",
	"\n", "\\n",
	":", "\\c",
)

// escapesHeaders reports whether header entries of command are escaped on
// the wire for version. CONNECT and CONNECTED never are.
func escapesHeaders(command string, version string) bool {
	if version == Version10 || version == "" {
		return false
	}
	switch command {
	case CommandConnect, CommandStomp, CommandConnected:
		return false
	}
	return true
}

// EncodeFrame returns the wire bytes of frame for the given protocol version.
func EncodeFrame(frame *Frame, version string) []byte {
	return encodeFrame(frame, version)
}

func encodeFrame(frame *Frame, version string) []byte {
	var buffer bytes.Buffer
	writeFrame(&buffer, frame, version)
	return buffer.Bytes()
}

func writeFrame(buffer *bytes.Buffer, frame *Frame, version string) {
	if frame.IsHeartbeat() {
		buffer.WriteByte('\n')
		return
	}

	escape := escapesHeaders(frame.Command, version)
	buffer.WriteString(frame.Command)
	buffer.WriteByte('\n')

	for _, key := range frame.Header.Keys() {
		value := frame.Header.Value(key)
		if escape {
			key = headerEscaper.Replace(key)
			value = headerEscaper.Replace(value)
		}
		buffer.WriteString(key)
		buffer.WriteByte(':')
		buffer.WriteString(value)
		buffer.WriteByte('\n')
	}
	if len(frame.Body) > 0 && !frame.Header.Contains(HeaderContentLength) {
		buffer.WriteString(HeaderContentLength)
		buffer.WriteByte(':')
		buffer.WriteString(strconv.Itoa(len(frame.Body)))
		buffer.WriteByte('\n')
	}

	buffer.WriteByte('\n')
	buffer.Write(frame.Body)
	buffer.WriteByte(0)
}

// frameDecoder turns a byte stream into frames. Bytes of an incomplete frame
// stay buffered until more input arrives. Once the command and headers of a
// frame are parsed they are kept in head, and the body search resumes at
// scanned instead of the start of the buffer.
type frameDecoder struct {
	buffer       []byte
	version      string
	maxFrameSize int

	head       *Frame
	bodyStart  int
	bodyLength int
	scanned    int
}

func newFrameDecoder() *frameDecoder {
	return &frameDecoder{maxFrameSize: DefaultMaxFrameSize}
}

func (decoder *frameDecoder) feed(data []byte) {
	decoder.buffer = append(decoder.buffer, data...)
}

func (decoder *frameDecoder) buffered() int {
	return len(decoder.buffer)
}

func (decoder *frameDecoder) consume(count int) {
	remaining := copy(decoder.buffer, decoder.buffer[count:])
	decoder.buffer = decoder.buffer[:remaining]
}

// next returns the next complete frame, or nil when more bytes are needed.
func (decoder *frameDecoder) next() (*Frame, error) {
	if decoder.head == nil {
		head, bodyStart, bodyLength, err := decodeHead(decoder.buffer, decoder.version)
		if err != nil {
			return nil, err
		}
		if head == nil {
			return nil, decoder.checkSize(len(decoder.buffer))
		}
		if head.IsHeartbeat() {
			decoder.consume(bodyStart)
			return head, nil
		}
		if bodyLength >= 0 {
			if err := decoder.checkSize(bodyLength); err != nil {
				return nil, err
			}
		}
		decoder.head, decoder.bodyStart, decoder.bodyLength, decoder.scanned = head, bodyStart, bodyLength, bodyStart
	}

	frame, used, scanned, err := decodeBody(decoder.buffer, decoder.head, decoder.bodyStart, decoder.bodyLength, decoder.scanned)
	if err != nil {
		decoder.head = nil
		return nil, err
	}
	if frame == nil {
		decoder.scanned = scanned
		if decoder.bodyLength >= 0 {
			return nil, nil
		}
		return nil, decoder.checkSize(len(decoder.buffer))
	}
	decoder.head = nil
	decoder.consume(used)
	return frame, nil
}

func (decoder *frameDecoder) checkSize(size int) error {
	if decoder.maxFrameSize > 0 && size > decoder.maxFrameSize {
		return NewError(UnexpectedResponseError, "inbound frame exceeds "+strconv.Itoa(decoder.maxFrameSize)+" bytes")
	}
	return nil
}

// decodeFrame parses one frame from the start of data. It returns a nil
// frame and no error when data holds an incomplete frame.
func decodeFrame(data []byte, version string) (*Frame, int, error) {
	head, bodyStart, bodyLength, err := decodeHead(data, version)
	if err != nil || head == nil {
		return nil, 0, err
	}
	if head.IsHeartbeat() {
		return head, bodyStart, nil
	}
	frame, used, _, err := decodeBody(data, head, bodyStart, bodyLength, bodyStart)
	if err != nil || frame == nil {
		return nil, 0, err
	}
	return frame, used, nil
}

// decodeHead parses the command and headers at the start of data. It returns
// the frame without its body, where the body starts and the content-length,
// or -1 when the frame has none. A heartbeat comes back with bodyStart set
// to the EOL bytes it used.
func decodeHead(data []byte, version string) (*Frame, int, int, error) {
	if len(data) == 0 {
		return nil, 0, 0, nil
	}
	switch data[0] {
	case '\n':
		return Heartbeat(), 1, 0, nil
	case '\r':
		if len(data) < 2 {
			return nil, 0, 0, nil
		}
		if data[1] == '\n' {
			return Heartbeat(), 2, 0, nil
		}
		return nil, 0, 0, NewError(UnexpectedResponseError, "malformed frame: stray carriage return")
	}

	line, position, complete := readLine(data, 0)
	if !complete {
		return nil, 0, 0, nil
	}
	frame := &Frame{Command: string(line), Header: NewHeader()}
	escape := escapesHeaders(frame.Command, version)

	for {
		line, position, complete = readLine(data, position)
		if !complete {
			return nil, 0, 0, nil
		}
		if len(line) == 0 {
			break
		}
		separator := bytes.IndexByte(line, ':')
		if separator < 0 {
			return nil, 0, 0, NewError(UnexpectedResponseError, "malformed header line "+strconv.Quote(string(line)))
		}
		key := string(line[:separator])
		value := string(line[separator+1:])
		if escape {
			var err error
			if key, err = unescapeHeader(key); err != nil {
				return nil, 0, 0, err
			}
			if value, err = unescapeHeader(value); err != nil {
				return nil, 0, 0, err
			}
		}
		frame.Header.setFirst(key, value)
	}

	lengthText, hasLength := frame.Header.Get(HeaderContentLength)
	if !hasLength {
		return frame, position, -1, nil
	}
	length, err := strconv.Atoi(strings.TrimSpace(lengthText))
	if err != nil || length < 0 {
		return nil, 0, 0, NewError(UnexpectedResponseError, "invalid content-length "+strconv.Quote(lengthText))
	}
	return frame, position, length, nil
}

// decodeBody completes head with the body starting at bodyStart. Without a
// content-length the NUL search starts at scanFrom. It returns the frame and
// the bytes used, or a nil frame and how far data was searched.
func decodeBody(data []byte, head *Frame, bodyStart int, bodyLength int, scanFrom int) (*Frame, int, int, error) {
	if bodyLength >= 0 {
		if bodyLength > len(data)-bodyStart-1 {
			return nil, 0, scanFrom, nil
		}
		end := bodyStart + bodyLength
		if data[end] != 0 {
			return nil, 0, 0, NewError(UnexpectedResponseError, "frame body is not NUL terminated")
		}
		if bodyLength > 0 {
			head.Body = append([]byte(nil), data[bodyStart:end]...)
		}
		return head, end + 1, end, nil
	}

	terminator := bytes.IndexByte(data[scanFrom:], 0)
	if terminator < 0 {
		return nil, 0, len(data), nil
	}
	end := scanFrom + terminator
	if end > bodyStart {
		head.Body = append([]byte(nil), data[bodyStart:end]...)
	}
	return head, end + 1, end, nil
}

// unescapeHeader reverses the 1.1+ header escaping. Any other backslash
// sequence is a protocol error.
func unescapeHeader(text string) (string, error) {
	if strings.IndexByte(text, '\\') < 0 {
		return text, nil
	}
	var builder strings.Builder
	builder.Grow(len(text))
	for index := 0; index < len(text); index++ {
		if text[index] != '\\' {
			builder.WriteByte(text[index])
			continue
		}
		if index+1 == len(text) {
			return "", NewError(UnexpectedResponseError, "header ends with a lone backslash: "+strconv.Quote(text))
		}
		index++
		switch text[index] {
		case 'r':
			builder.WriteByte('\r')
		case 'n':
			builder.WriteByte('\n')
		case 'c':
			builder.WriteByte(':')
		case '\\':
			builder.WriteByte('\\')
		default:
			return "", NewError(UnexpectedResponseError, "undefined header escape \\"+string(text[index])+" in "+strconv.Quote(text))
		}
	}
	return builder.String(), nil
}

// readLine returns the line starting at position without its EOL.
func readLine(data []byte, position int) ([]byte, int, bool) {
	end := bytes.IndexByte(data[position:], '\n')
	if end < 0 {
		return nil, position, false
	}
	line := data[position : position+end]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return line, position + end + 1, true
}
