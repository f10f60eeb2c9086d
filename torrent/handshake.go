package torrent

import (
	"fmt"
	"io"
)

// ProtocolIdentifier is the fixed pstr sent in every handshake.
const ProtocolIdentifier = "BitTorrent protocol"

// Handshake is the 68-byte fixed preamble exchanged before any message.
type Handshake struct {
	Pstr     string
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake builds a handshake for the given swarm and peer identity.
func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{
		Pstr:     ProtocolIdentifier,
		InfoHash: infoHash,
		PeerID:   peerID,
	}
}

// Serialize lays out the handshake exactly as the wire format requires:
// pstrlen, pstr, 8 reserved zero bytes, info_hash, peer_id.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, 49+len(h.Pstr))
	buf[0] = byte(len(h.Pstr))
	cursor := 1
	cursor += copy(buf[cursor:], h.Pstr)
	cursor += 8 // reserved, left zero
	cursor += copy(buf[cursor:], h.InfoHash[:])
	copy(buf[cursor:], h.PeerID[:])
	return buf
}

// ReadHandshake reads and parses a 68-byte handshake frame from r.
// A parse is considered successful iff the pstrlen byte is 19 and the
// following bytes spell ProtocolIdentifier; any other prefix is
// ErrHandshakeMismatch.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	lengthBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return nil, err
	}
	pstrlen := int(lengthBuf[0])
	if pstrlen != len(ProtocolIdentifier) {
		return nil, fmt.Errorf("%w: pstrlen %d", ErrHandshakeMismatch, pstrlen)
	}

	body := make([]byte, pstrlen+8+20+20)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	pstr := string(body[:pstrlen])
	if pstr != ProtocolIdentifier {
		return nil, fmt.Errorf("%w: pstr %q", ErrHandshakeMismatch, pstr)
	}

	h := &Handshake{Pstr: pstr}
	cursor := pstrlen + 8
	copy(h.InfoHash[:], body[cursor:cursor+20])
	cursor += 20
	copy(h.PeerID[:], body[cursor:cursor+20])
	return h, nil
}
