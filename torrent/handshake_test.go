package torrent

import (
	"bytes"
	"errors"
	"testing"
)

func TestHandshakeSerializeParseRoundTrip(t *testing.T) {
	var infoHash, peerID [20]byte
	copy(infoHash[:], []byte("aaaaaaaaaaaaaaaaaaaa"))
	copy(peerID[:], []byte("-BS0001-abcdefghijkl"))

	hs := NewHandshake(infoHash, peerID)
	raw := hs.Serialize()
	if len(raw) != 68 {
		t.Fatalf("serialized handshake length = %d, want 68", len(raw))
	}

	parsed, err := ReadHandshake(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if parsed.Pstr != ProtocolIdentifier {
		t.Errorf("Pstr = %q, want %q", parsed.Pstr, ProtocolIdentifier)
	}
	if parsed.InfoHash != infoHash {
		t.Errorf("InfoHash mismatch")
	}
	if parsed.PeerID != peerID {
		t.Errorf("PeerID mismatch")
	}
}

func TestReadHandshakeKnownBytes(t *testing.T) {
	infoHash := []byte{0x5A, 0x80, 0x62, 0xC0, 0x76, 0xFA, 0x85, 0xE8, 0x05, 0x64, 0x51, 0xC0, 0xD9, 0xAA, 0x04, 0x34, 0x9A, 0xE2, 0x79, 0x09}
	peerID := []byte("-TR2940-bf428k4hqkc5")

	raw := make([]byte, 0, 68)
	raw = append(raw, 19)
	raw = append(raw, []byte(ProtocolIdentifier)...)
	raw = append(raw, make([]byte, 8)...)
	raw = append(raw, infoHash...)
	raw = append(raw, peerID...)

	parsed, err := ReadHandshake(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if parsed.Pstr != "BitTorrent protocol" {
		t.Errorf("Pstr = %q", parsed.Pstr)
	}
	if !bytes.Equal(parsed.InfoHash[:], infoHash) {
		t.Errorf("InfoHash = %x, want %x", parsed.InfoHash, infoHash)
	}
	if string(parsed.PeerID[:]) != string(peerID) {
		t.Errorf("PeerID = %q, want %q", parsed.PeerID, peerID)
	}
}

func TestReadHandshakeBadPstrlen(t *testing.T) {
	raw := make([]byte, 68)
	raw[0] = 20
	_, err := ReadHandshake(bytes.NewReader(raw))
	if !errors.Is(err, ErrHandshakeMismatch) {
		t.Fatalf("err = %v, want ErrHandshakeMismatch", err)
	}
}

func TestReadHandshakeBadProtocolString(t *testing.T) {
	raw := make([]byte, 68)
	raw[0] = 19
	copy(raw[1:], "NotBitTorrent proto")
	_, err := ReadHandshake(bytes.NewReader(raw))
	if !errors.Is(err, ErrHandshakeMismatch) {
		t.Fatalf("err = %v, want ErrHandshakeMismatch", err)
	}
}
