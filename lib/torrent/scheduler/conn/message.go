// Copyright (c) 2016-2019 Uber Technologies, Inc.
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
package conn

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageID enumerates peer wire message types.
type MessageID byte

// Standard BitTorrent wire message ids.
const (
	MsgChoke         MessageID = 0
	MsgUnchoke       MessageID = 1
	MsgInterested    MessageID = 2
	MsgNotInterested MessageID = 3
	MsgHave          MessageID = 4
	MsgBitfield      MessageID = 5
	MsgRequest       MessageID = 6
	MsgPiece         MessageID = 7
	MsgCancel        MessageID = 8
)

func (id MessageID) String() string {
	switch id {
	case MsgChoke:
		return "CHOKE"
	case MsgUnchoke:
		return "UNCHOKE"
	case MsgInterested:
		return "INTERESTED"
	case MsgNotInterested:
		return "NOT_INTERESTED"
	case MsgHave:
		return "HAVE"
	case MsgBitfield:
		return "BITFIELD"
	case MsgRequest:
		return "REQUEST"
	case MsgPiece:
		return "PIECE"
	case MsgCancel:
		return "CANCEL"
	}
	return fmt.Sprintf("UNKNOWN(%d)", byte(id))
}

// maxMessageLength bounds a single frame so a hostile peer cannot force a
// huge allocation. Largest legitimate frame is a PIECE carrying a 16 KiB
// block, or a bitfield for a very large torrent.
const maxMessageLength = 1 << 20

// Message is a single non-handshake peer wire message. A nil Message on the
// wire (length prefix zero) is a keep-alive.
type Message struct {
	ID MessageID

	// Index is set for HAVE, REQUEST, PIECE and CANCEL.
	Index uint32

	// Begin and Length are set for REQUEST and CANCEL. Begin is also set
	// for PIECE.
	Begin  uint32
	Length uint32

	// Bitfield is the raw wire bitfield for BITFIELD messages.
	Bitfield []byte

	// Block is the payload of a PIECE message.
	Block []byte
}

// NewHaveMessage announces ownership of piece i.
func NewHaveMessage(i int) *Message {
	return &Message{ID: MsgHave, Index: uint32(i)}
}

// NewBitfieldMessage carries the wire-serialized bitfield b.
func NewBitfieldMessage(b []byte) *Message {
	return &Message{ID: MsgBitfield, Bitfield: b}
}

// NewRequestMessage requests length bytes at begin within piece i.
func NewRequestMessage(i int, begin, length int) *Message {
	return &Message{ID: MsgRequest, Index: uint32(i), Begin: uint32(begin), Length: uint32(length)}
}

// NewCancelMessage cancels the matching request.
func NewCancelMessage(i int, begin, length int) *Message {
	return &Message{ID: MsgCancel, Index: uint32(i), Begin: uint32(begin), Length: uint32(length)}
}

// NewPieceMessage carries block at begin within piece i.
func NewPieceMessage(i int, begin int, block []byte) *Message {
	return &Message{ID: MsgPiece, Index: uint32(i), Begin: uint32(begin), Block: block}
}

func (m *Message) String() string {
	switch m.ID {
	case MsgHave:
		return fmt.Sprintf("HAVE(%d)", m.Index)
	case MsgRequest, MsgCancel:
		return fmt.Sprintf("%s(%d, %d, %d)", m.ID, m.Index, m.Begin, m.Length)
	case MsgPiece:
		return fmt.Sprintf("PIECE(%d, %d, %d bytes)", m.Index, m.Begin, len(m.Block))
	}
	return m.ID.String()
}

// EncodeMessage frames m onto w. A nil m encodes a keep-alive.
func EncodeMessage(w io.Writer, m *Message) error {
	if m == nil {
		_, err := w.Write([]byte{0, 0, 0, 0})
		return err
	}
	var payload []byte
	switch m.ID {
	case MsgChoke, MsgUnchoke, MsgInterested, MsgNotInterested:
	case MsgHave:
		payload = make([]byte, 4)
		binary.BigEndian.PutUint32(payload, m.Index)
	case MsgBitfield:
		payload = m.Bitfield
	case MsgRequest, MsgCancel:
		payload = make([]byte, 12)
		binary.BigEndian.PutUint32(payload[0:4], m.Index)
		binary.BigEndian.PutUint32(payload[4:8], m.Begin)
		binary.BigEndian.PutUint32(payload[8:12], m.Length)
	case MsgPiece:
		payload = make([]byte, 8+len(m.Block))
		binary.BigEndian.PutUint32(payload[0:4], m.Index)
		binary.BigEndian.PutUint32(payload[4:8], m.Begin)
		copy(payload[8:], m.Block)
	default:
		return fmt.Errorf("cannot encode message id %d", m.ID)
	}
	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(1+len(payload)))
	frame[4] = byte(m.ID)
	copy(frame[5:], payload)
	_, err := w.Write(frame)
	return err
}

// DecodeMessage reads a single framed message from r. Returns (nil, nil) for
// keep-alives.
func DecodeMessage(r io.Reader) (*Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 {
		// Keep-alive.
		return nil, nil
	}
	if n > maxMessageLength {
		return nil, fmt.Errorf("message length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	m := &Message{ID: MessageID(buf[0])}
	payload := buf[1:]
	switch m.ID {
	case MsgChoke, MsgUnchoke, MsgInterested, MsgNotInterested:
		if len(payload) != 0 {
			return nil, fmt.Errorf("unexpected payload for %s", m.ID)
		}
	case MsgHave:
		if len(payload) != 4 {
			return nil, fmt.Errorf("invalid HAVE payload length %d", len(payload))
		}
		m.Index = binary.BigEndian.Uint32(payload)
	case MsgBitfield:
		m.Bitfield = payload
	case MsgRequest, MsgCancel:
		if len(payload) != 12 {
			return nil, fmt.Errorf("invalid %s payload length %d", m.ID, len(payload))
		}
		m.Index = binary.BigEndian.Uint32(payload[0:4])
		m.Begin = binary.BigEndian.Uint32(payload[4:8])
		m.Length = binary.BigEndian.Uint32(payload[8:12])
	case MsgPiece:
		if len(payload) < 8 {
			return nil, fmt.Errorf("invalid PIECE payload length %d", len(payload))
		}
		m.Index = binary.BigEndian.Uint32(payload[0:4])
		m.Begin = binary.BigEndian.Uint32(payload[4:8])
		m.Block = payload[8:]
	default:
		return nil, fmt.Errorf("unknown message id %d", byte(m.ID))
	}
	return m, nil
}
