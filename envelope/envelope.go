// Package envelope implements the framing of application messages that are
// broadcast over the multicast channel next to heartbeats. A single datagram
// may carry several messages, each wrapped into a package:
//
//	start marker (7) | body length (4) | body | end marker (7)
//
// where the body is the member frame of the sender, prefixed with its length,
// followed by the opaque application payload.
package envelope

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/maxpoletaev/beacon/internal/binario"
	"github.com/maxpoletaev/beacon/member"
)

const markerSize = 7

var (
	startMarker = []byte("FLT2002")
	endMarker   = []byte("TLF2003")
)

// ErrMalformed is returned when a datagram does not consist of valid packages.
var ErrMalformed = errors.New("malformed message bundle")

// Message is a single application message together with its sender.
type Message struct {
	Source  *member.Member
	Payload []byte
}

// Encode wraps the messages into packages and concatenates them.
func Encode(msgs ...*Message) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := binario.NewWriter(buf, binary.BigEndian)

	for _, msg := range msgs {
		source, err := msg.Source.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode source: %w", err)
		}

		bodySize := 4 + len(source) + len(msg.Payload)

		steps := []func() error{
			func() error { return w.WriteFixed(startMarker) },
			func() error { return w.WriteUint32(uint32(bodySize)) },
			func() error { return w.WriteBytes(source) },
			func() error { return w.WriteFixed(msg.Payload) },
			func() error { return w.WriteFixed(endMarker) },
		}

		for _, step := range steps {
			if err := step(); err != nil {
				return nil, err
			}
		}
	}

	return buf.Bytes(), nil
}

// Decode extracts all messages from the datagram. Payloads are copied, so the
// input buffer may be reused once Decode returns.
func Decode(data []byte) ([]*Message, error) {
	var msgs []*Message

	for offset := 0; offset < len(data); {
		msg, size, err := decodePackage(data[offset:])
		if err != nil {
			return nil, fmt.Errorf("%w: package at offset %d: %v", ErrMalformed, offset, err)
		}

		msgs = append(msgs, msg)
		offset += size
	}

	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: empty datagram", ErrMalformed)
	}

	return msgs, nil
}

func decodePackage(data []byte) (*Message, int, error) {
	if !bytes.HasPrefix(data, startMarker) {
		return nil, 0, errors.New("start marker not found")
	}

	if len(data) < 2*markerSize+4 {
		return nil, 0, errors.New("package is too short")
	}

	bodySize := int64(binary.BigEndian.Uint32(data[markerSize:]))
	bodyEnd := int64(markerSize+4) + bodySize

	if bodyEnd+markerSize > int64(len(data)) {
		return nil, 0, fmt.Errorf("body length %d exceeds datagram", bodySize)
	}

	if !bytes.Equal(data[bodyEnd:bodyEnd+markerSize], endMarker) {
		return nil, 0, errors.New("end marker not found")
	}

	body := data[markerSize+4 : bodyEnd]
	r := binario.NewReader(bytes.NewReader(body), binary.BigEndian)

	source, err := r.ReadBytes(len(body))
	if err != nil {
		return nil, 0, fmt.Errorf("source: %w", err)
	}

	sender, err := member.Decode(source, 0, len(source))
	if err != nil {
		return nil, 0, err
	}

	payload := bytes.Clone(body[4+len(source):])

	return &Message{Source: sender, Payload: payload}, int(bodyEnd + markerSize), nil
}
