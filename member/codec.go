package member

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maxpoletaev/beacon/internal/binario"
)

const (
	// MaxFrameSize is the largest frame that still fits into one UDP datagram.
	MaxFrameSize = 65535

	markerSize = 10

	// MinFrameSize is the size of a frame with empty host, command, domain and payload.
	MinFrameSize = 2*markerSize + // begin and end markers
		4 + // body length
		8 + // alive time
		4 + 4 + 4 + // tcp, secure and udp ports
		1 + // host length
		4 + // command length
		4 + // domain length
		16 + // unique id
		4 // payload length
)

var (
	beginMarker = []byte{'T', 'R', 'I', 'B', 'E', 'S', '-', 'B', 1, 0}
	endMarker   = []byte{'T', 'R', 'I', 'B', 'E', 'S', '-', 'E', 1, 0}
)

var (
	ErrFrameTooLarge = errors.New("member frame exceeds max datagram size")
	ErrHostTooLong   = errors.New("member host is longer than 255 bytes")
)

// FormatError is returned by Decode when the input is not a valid member frame.
type FormatError struct {
	Offset int
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed member frame at offset %d: %s: %v", e.Offset, e.Reason, e.Err)
	}

	return fmt.Sprintf("malformed member frame at offset %d: %s", e.Offset, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// IsHeartbeat reports whether the datagram carries a member frame, as opposed
// to a bundle of application messages.
func IsHeartbeat(data []byte) bool {
	return bytes.HasPrefix(data, beginMarker)
}

func (m *Member) bodySize() int {
	return 8 + 4 + 4 + 4 +
		1 + len(m.host) +
		4 + len(m.command) +
		4 + len(m.domain) +
		16 +
		4 + len(m.payload)
}

// Encode returns the wire representation of the member. The result is cached
// and shared between callers, so it must not be modified.
func (m *Member) Encode() ([]byte, error) {
	if data := m.encoded.Load(); data != nil {
		return *data, nil
	}

	if len(m.host) > 255 {
		return nil, ErrHostTooLong
	}

	bodySize := m.bodySize()
	frameSize := 2*markerSize + 4 + bodySize

	if frameSize > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	buf := bytes.NewBuffer(make([]byte, 0, frameSize))
	w := binario.NewWriter(buf, binary.BigEndian)

	steps := []func() error{
		func() error { return w.WriteFixed(beginMarker) },
		func() error { return w.WriteUint32(uint32(bodySize)) },
		func() error { return w.WriteUint64(uint64(m.aliveTime.Milliseconds())) },
		func() error { return w.WriteUint32(uint32(int32(m.port))) },
		func() error { return w.WriteUint32(uint32(int32(m.securePort))) },
		func() error { return w.WriteUint32(uint32(int32(m.udpPort))) },
		func() error { return w.WriteShortBytes(m.host) },
		func() error { return w.WriteBytes(m.command) },
		func() error { return w.WriteBytes(m.domain) },
		func() error { return w.WriteFixed(m.uniqueID[:]) },
		func() error { return w.WriteBytes(m.payload) },
		func() error { return w.WriteFixed(endMarker) },
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return nil, fmt.Errorf("encode member: %w", err)
		}
	}

	data := buf.Bytes()
	m.encoded.Store(&data)

	return data, nil
}

// Decode parses the member frame found in data[offset:offset+length]. The frame
// bytes are copied and kept as the encoded form of the returned member.
func Decode(data []byte, offset, length int) (*Member, error) {
	if offset < 0 || length < 0 || offset+length > len(data) {
		return nil, &FormatError{Offset: offset, Reason: "frame is out of buffer bounds"}
	}

	frame := data[offset : offset+length]

	if !bytes.HasPrefix(frame, beginMarker) {
		return nil, &FormatError{Offset: offset, Reason: "begin marker not found"}
	}

	if length < MinFrameSize {
		return nil, &FormatError{Offset: offset, Reason: fmt.Sprintf("frame is too short (%d bytes)", length)}
	}

	bodySize := int64(binary.BigEndian.Uint32(frame[markerSize:]))
	bodyEnd := int64(markerSize+4) + bodySize

	if bodyEnd+markerSize > int64(length) {
		return nil, &FormatError{Offset: offset, Reason: fmt.Sprintf("body length %d does not fit into the frame", bodySize)}
	}

	if !bytes.Equal(frame[bodyEnd:bodyEnd+markerSize], endMarker) {
		return nil, &FormatError{Offset: offset, Reason: "end marker not found"}
	}

	body := bytes.NewReader(frame[markerSize+4 : bodyEnd])
	m, err := decodeBody(binario.NewReader(body, binary.BigEndian), int(bodySize))

	if err != nil {
		return nil, &FormatError{Offset: offset, Reason: "invalid body", Err: err}
	}

	if body.Len() != 0 {
		return nil, &FormatError{Offset: offset, Reason: fmt.Sprintf("%d unread bytes in body", body.Len())}
	}

	encoded := make([]byte, bodyEnd+markerSize)
	copy(encoded, frame)
	m.encoded.Store(&encoded)

	return m, nil
}

func decodeBody(r *binario.Reader, maxLen int) (*Member, error) {
	m := &Member{}

	alive, err := r.ReadUint64()
	if err != nil {
		return nil, fmt.Errorf("alive time: %w", err)
	}

	m.aliveTime = time.Duration(int64(alive)) * time.Millisecond

	ports := []*int{&m.port, &m.securePort, &m.udpPort}
	for _, port := range ports {
		v, err := r.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("port: %w", err)
		}

		*port = int(int32(v))
	}

	if m.host, err = r.ReadShortBytes(); err != nil {
		return nil, fmt.Errorf("host: %w", err)
	}

	if m.command, err = r.ReadBytes(maxLen); err != nil {
		return nil, fmt.Errorf("command: %w", err)
	}

	if m.domain, err = r.ReadBytes(maxLen); err != nil {
		return nil, fmt.Errorf("domain: %w", err)
	}

	id, err := r.ReadFixed(len(uuid.UUID{}))
	if err != nil {
		return nil, fmt.Errorf("unique id: %w", err)
	}

	copy(m.uniqueID[:], id)

	if m.payload, err = r.ReadBytes(maxLen); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}

	return m, nil
}
