package torrent

import (
	"crypto/sha1"
	"net"
	"testing"
	"time"
)

// mockPeer serves one TCP connection: it performs the handshake, announces
// every piece via bitfield, unchokes the client once it is interested, then
// answers every request with the matching slice of pieceData, one piece
// message per request.
func mockPeer(t *testing.T, infoHash [20]byte, pieceData [][]byte) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		if _, err := ReadHandshake(conn); err != nil {
			return
		}
		resp := NewHandshake(infoHash, [20]byte{'m', 'o', 'c', 'k'})
		if _, err := conn.Write(resp.Serialize()); err != nil {
			return
		}

		bitfield := make(Bitfield, (len(pieceData)+7)/8)
		for i := range pieceData {
			bitfield.SetPiece(i)
		}
		if _, err := conn.Write((&Message{ID: MsgBitfield, Payload: bitfield}).Serialize()); err != nil {
			return
		}

		for {
			msg, err := ReadMessage(conn)
			if err != nil {
				return
			}
			if msg == nil {
				continue
			}
			switch msg.ID {
			case MsgInterested:
				if _, err := conn.Write((&Message{ID: MsgUnchoke}).Serialize()); err != nil {
					return
				}
			case MsgUnchoke, MsgNotInterested, MsgHave:
				// nothing to do
			case MsgRequest:
				index := int(beUint32(msg.Payload[0:4]))
				begin := int(beUint32(msg.Payload[4:8]))
				length := int(beUint32(msg.Payload[8:12]))
				payload := make([]byte, 8+length)
				putBeUint32(payload[0:4], uint32(index))
				putBeUint32(payload[4:8], uint32(begin))
				copy(payload[8:], pieceData[index][begin:begin+length])
				if _, err := conn.Write((&Message{ID: MsgPiece, Payload: payload}).Serialize()); err != nil {
					return
				}
			}
		}
	}()

	return ln.Addr().String()
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBeUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func splitHostPort(addr string) (string, string) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:]
		}
	}
	return addr, ""
}

func TestSwarmDownloadFromMockPeer(t *testing.T) {
	pieceLen := 16
	piece0 := []byte("0123456789abcdef")
	piece1 := []byte("fedcba9876543210")
	pieceData := [][]byte{piece0, piece1}

	var infoHash [20]byte
	copy(infoHash[:], "swarm-test-info-hash")

	var hashes [][20]byte
	for _, p := range pieceData {
		hashes = append(hashes, sha1.Sum(p))
	}

	addr := mockPeer(t, infoHash, pieceData)
	host, portStr := splitHostPort(addr)
	var port uint16
	for _, c := range portStr {
		port = port*10 + uint16(c-'0')
	}

	tor := &Torrent{
		Name:        "mock.bin",
		PieceLen:    int64(pieceLen),
		PieceHashes: hashes,
		InfoHash:    infoHash,
		Length:      int64(len(piece0) + len(piece1)),
	}

	swarm := &Swarm{
		Torrent: tor,
		Peers:   []Peer{{IP: host, Port: port}},
		PeerID:  [20]byte{'s', 'e', 'l', 'f'},
		Timeouts: Timeouts{
			Connect:       2 * time.Second,
			Handshake:     2 * time.Second,
			PieceDownload: 2 * time.Second,
		},
	}

	var progressCalls int
	buf, err := swarm.Download(func(index, done, total int) {
		progressCalls++
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(buf) != string(piece0)+string(piece1) {
		t.Errorf("assembled buffer = %q, want %q", buf, string(piece0)+string(piece1))
	}
	if progressCalls != 2 {
		t.Errorf("progress callback invoked %d times, want 2", progressCalls)
	}
}
