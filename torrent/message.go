package torrent

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageID identifies the type of a post-handshake message. The core
// understands the nine IDs below; a frame with any other ID is returned to
// the caller with its raw ID and otherwise ignored.
type MessageID uint8

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

const (
	// MaxBlockSize is the largest block size the core will request.
	// Protocol convention, not a tunable: larger requests get many real
	// peers to disconnect.
	MaxBlockSize = 16 * 1024
	// MaxBacklog is the number of unfulfilled block requests kept in
	// flight per piece.
	MaxBacklog = 5
)

// Message is a generic post-handshake frame: <len><id><payload>.
type Message struct {
	ID      MessageID
	Payload []byte
}

// Serialize encodes m as <length prefix><id><payload>. Empty-payload
// messages (choke/unchoke/interested/not_interested) serialize to 5 bytes.
func (m *Message) Serialize() []byte {
	length := uint32(1 + len(m.Payload))
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// ReadMessage reads one frame from r. It returns (nil, nil) for a
// keep-alive frame (length 0) — callers that want keep-alives consumed
// silently should loop until they get a non-nil message or an error.
func ReadMessage(r io.Reader) (*Message, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf)
	if length == 0 {
		return nil, nil
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return &Message{ID: MessageID(buf[0]), Payload: buf[1:]}, nil
}

// FormatRequest builds a request message with its 12-byte payload
// (index, begin, length).
func FormatRequest(index, begin, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &Message{ID: MsgRequest, Payload: payload}
}

// FormatHave builds the 4-byte payload of a have message.
func FormatHave(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{ID: MsgHave, Payload: payload}
}

// ParseHave extracts the piece index from a have message's payload.
func ParseHave(msg *Message) (int, error) {
	if msg.ID != MsgHave {
		return 0, fmt.Errorf("%w: expected have, got id %d", ErrProtocolViolation, msg.ID)
	}
	if len(msg.Payload) != 4 {
		return 0, fmt.Errorf("%w: have payload length %d, want 4", ErrProtocolViolation, len(msg.Payload))
	}
	return int(binary.BigEndian.Uint32(msg.Payload)), nil
}

// ParsePiece copies the block carried by a piece message into dst at the
// offset the message specifies, and returns the number of bytes copied.
// It fails if the payload is short, the index doesn't match expectedIndex,
// or the block would write outside dst.
func ParsePiece(expectedIndex int, dst []byte, msg *Message) (int, error) {
	if msg.ID != MsgPiece {
		return 0, fmt.Errorf("%w: expected piece, got id %d", ErrProtocolViolation, msg.ID)
	}
	if len(msg.Payload) < 8 {
		return 0, fmt.Errorf("%w: piece payload length %d, want >= 8", ErrProtocolViolation, len(msg.Payload))
	}
	index := int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	if index != expectedIndex {
		return 0, fmt.Errorf("%w: piece index %d, want %d", ErrProtocolViolation, index, expectedIndex)
	}
	begin := int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	if begin >= len(dst) {
		return 0, fmt.Errorf("%w: begin %d >= dst length %d", ErrProtocolViolation, begin, len(dst))
	}
	data := msg.Payload[8:]
	if begin+len(data) > len(dst) {
		return 0, fmt.Errorf("%w: begin %d + len %d exceeds dst length %d", ErrProtocolViolation, begin, len(data), len(dst))
	}
	copy(dst[begin:], data)
	return len(data), nil
}
