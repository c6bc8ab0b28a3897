// Package stomp implements the minimal STOMP 1.2 subset spoken by the
// marketplace's notification broker, carried over a WebSocket connection.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// STOMP commands used by the notification channel.
const (
	CmdConnect    = "CONNECT"
	CmdConnected  = "CONNECTED"
	CmdSubscribe  = "SUBSCRIBE"
	CmdMessage    = "MESSAGE"
	CmdError      = "ERROR"
	CmdDisconnect = "DISCONNECT"
)

// ErrBadFrame indicates a wire frame that does not parse as STOMP.
var ErrBadFrame = errors.New("bad stomp frame")

// Frame is one STOMP frame: a command, a header block, and an optional body
// terminated by a NUL octet on the wire.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

// NewFrame builds a frame from alternating header key/value pairs.
func NewFrame(command string, headers ...string) *Frame {
	f := &Frame{Command: command, Headers: make(map[string]string, len(headers)/2)}
	for i := 0; i+1 < len(headers); i += 2 {
		f.Headers[headers[i]] = headers[i+1]
	}
	return f
}

// Marshal serializes the frame to its wire form.
func (f *Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')
	for k, v := range f.Headers {
		buf.WriteString(escapeHeader(k))
		buf.WriteByte(':')
		buf.WriteString(escapeHeader(v))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Parse decodes a wire frame. Heartbeat frames (a bare EOL) yield a nil
// frame and nil error.
func Parse(raw []byte) (*Frame, error) {
	raw = bytes.TrimSuffix(raw, []byte{0})
	if len(bytes.TrimRight(raw, "\r\n")) == 0 {
		return nil, nil
	}

	head, body, _ := bytes.Cut(raw, []byte("\n\n"))
	lines := strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, fmt.Errorf("%w: missing command", ErrBadFrame)
	}

	f := &Frame{Command: lines[0], Headers: make(map[string]string, len(lines)-1)}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: header %q", ErrBadFrame, line)
		}
		key := unescapeHeader(k)
		// Repeated headers: first one wins per the STOMP spec.
		if _, exists := f.Headers[key]; !exists {
			f.Headers[key] = unescapeHeader(v)
		}
	}
	f.Body = body
	return f, nil
}

var headerEscaper = strings.NewReplacer("\\", "\\\\", "\r", "\\r", "\n", "\\n", ":", "\\c")

var headerUnescaper = strings.NewReplacer("\\r", "\r", "\\n", "\n", "\\c", ":", "\\\\", "\\")

func escapeHeader(s string) string   { return headerEscaper.Replace(s) }
func unescapeHeader(s string) string { return headerUnescaper.Replace(s) }
