// Copyright 2024 The rovhub Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package codec implements the hub wire format: length-prefixed frames
// carrying an ordered sequence of NUL-terminated string components plus a
// 16-bit request correlation id.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the size of the fixed frame header:
// [2 bytes payload length][2 bytes request id][2 bytes component count].
const HeaderLen = 6

// MaxPayload is the largest payload a frame can carry. The payload length
// field is 16 bits and excludes the header.
const MaxPayload = 0xffff

var (
	// ErrFraming is returned when a frame cannot be decoded: the peer
	// closed mid-frame, the declared length is inconsistent with the
	// component count, or the last component is not NUL-terminated.
	ErrFraming = errors.New("malformed frame")

	// ErrMessageTooLarge is returned by Encode when the packed payload
	// does not fit in the 16-bit length field. The hub treats this as a
	// programmer error.
	ErrMessageTooLarge = errors.New("message exceeds maximum payload size")
)

// Message is an ordered sequence of UTF-8 string components. Component 0 is
// the namespace (COMM, NOTIFY, VAR, WATCH, LOG), component 1 the verb, and
// the remainder arguments. A RequestID of 0 means no reply is expected.
type Message struct {
	RequestID  uint16
	Components []string
}

// NewMessage builds an unsolicited message (request id 0) from components.
func NewMessage(components ...string) *Message {
	return &Message{Components: components}
}

// NewReply builds a message carrying the same request id as the request it
// answers.
func NewReply(requestID uint16, components ...string) *Message {
	return &Message{RequestID: requestID, Components: components}
}

// Encode packs a message into its wire form. Any message is encodable
// provided the total payload fits in 16 bits.
func Encode(msg *Message) ([]byte, error) {
	total := 0
	for _, c := range msg.Components {
		total += len(c) + 1
	}
	if total > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, total)
	}

	buf := make([]byte, HeaderLen+total)
	binary.BigEndian.PutUint16(buf[0:2], uint16(total))
	binary.BigEndian.PutUint16(buf[2:4], msg.RequestID)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(msg.Components)))

	off := HeaderLen
	for _, c := range msg.Components {
		copy(buf[off:], c)
		off += len(c)
		buf[off] = 0
		off++
	}
	return buf, nil
}

// Decode reads exactly one frame from r and unpacks it. The read is two
// bounded phases: the fixed header, then the declared payload. A short read
// in either phase yields ErrFraming wrapping the underlying cause.
func Decode(r io.Reader) (*Message, error) {
	var header [HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrFraming, err)
	}

	total := binary.BigEndian.Uint16(header[0:2])
	requestID := binary.BigEndian.Uint16(header[2:4])
	count := binary.BigEndian.Uint16(header[4:6])

	payload := make([]byte, total)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: reading payload: %w", ErrFraming, err)
	}

	msg := &Message{RequestID: requestID}
	if count == 0 {
		if total != 0 {
			return nil, fmt.Errorf("%w: %d payload bytes but no components", ErrFraming, total)
		}
		return msg, nil
	}

	msg.Components = make([]string, 0, count)
	off := 0
	for i := 0; i < int(count); i++ {
		end := off
		for end < len(payload) && payload[end] != 0 {
			end++
		}
		if end == len(payload) {
			return nil, fmt.Errorf("%w: component %d not NUL-terminated", ErrFraming, i)
		}
		msg.Components = append(msg.Components, string(payload[off:end]))
		off = end + 1
	}
	if off != len(payload) {
		return nil, fmt.Errorf("%w: %d trailing payload bytes", ErrFraming, len(payload)-off)
	}
	return msg, nil
}
