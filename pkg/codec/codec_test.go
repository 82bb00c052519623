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

package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := NewReply(42, "COMM", "AUTH", "secret")

	data, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestEncodeWireLayout(t *testing.T) {
	data, err := Encode(NewReply(1, "COMM", "SUCCESS"))
	require.NoError(t, err)

	// [len=13][req=1][count=2] "COMM\0SUCCESS\0"
	assert.Equal(t, []byte{0x00, 0x0d, 0x00, 0x01, 0x00, 0x02}, data[:HeaderLen])
	assert.Equal(t, []byte("COMM\x00SUCCESS\x00"), data[HeaderLen:])
}

func TestEncodeEmptyMessage(t *testing.T) {
	data, err := Encode(&Message{})
	require.NoError(t, err)

	decoded, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Empty(t, decoded.Components)
	assert.Equal(t, uint16(0), decoded.RequestID)
}

func TestEncodeTooLarge(t *testing.T) {
	_, err := Encode(NewMessage(strings.Repeat("x", MaxPayload)))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestDecodeShortHeader(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{0x00, 0x05}))
	assert.ErrorIs(t, err, ErrFraming)
}

func TestDecodeShortPayload(t *testing.T) {
	data, err := Encode(NewMessage("NOTIFY", "OUT", "PING"))
	require.NoError(t, err)

	_, err = Decode(bytes.NewReader(data[:len(data)-3]))
	assert.ErrorIs(t, err, ErrFraming)
}

func TestDecodeMissingTerminator(t *testing.T) {
	// Declared one component of four bytes with no trailing NUL.
	frame := []byte{0x00, 0x04, 0x00, 0x00, 0x00, 0x01, 'P', 'I', 'N', 'G'}
	_, err := Decode(bytes.NewReader(frame))
	assert.ErrorIs(t, err, ErrFraming)
}

func TestDecodeCountPayloadMismatch(t *testing.T) {
	// Two components declared, one present.
	frame := []byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x02, 'C', 'O', 'M', 'M', 0x00}
	_, err := Decode(bytes.NewReader(frame))
	assert.ErrorIs(t, err, ErrFraming)

	// Zero components declared but payload present.
	frame = []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}
	_, err = Decode(bytes.NewReader(frame))
	assert.ErrorIs(t, err, ErrFraming)

	// Trailing bytes beyond the last component.
	frame = []byte{0x00, 0x06, 0x00, 0x00, 0x00, 0x01, 'C', 'O', 'M', 'M', 0x00, 0x00}
	_, err = Decode(bytes.NewReader(frame))
	assert.ErrorIs(t, err, ErrFraming)
}

func TestDecodeEmptyComponents(t *testing.T) {
	msg := NewMessage("", "", "")
	data, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []string{"", "", ""}, decoded.Components)
}

func TestDecodeFromStream(t *testing.T) {
	// Two frames back to back on one stream decode independently.
	var stream bytes.Buffer
	first, err := Encode(NewMessage("VAR", "GET", "Depth"))
	require.NoError(t, err)
	second, err := Encode(NewReply(7, "VAR", "SET", "Depth", "1.5"))
	require.NoError(t, err)
	stream.Write(first)
	stream.Write(second)

	m1, err := Decode(&stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"VAR", "GET", "Depth"}, m1.Components)

	m2, err := Decode(&stream)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), m2.RequestID)
	assert.Equal(t, []string{"VAR", "SET", "Depth", "1.5"}, m2.Components)
}
