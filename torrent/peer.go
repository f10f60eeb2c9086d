package torrent

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Peer is a remote peer address as delivered by a tracker: an IP (v4 or
// v6) and a port (spec.md §3).
type Peer struct {
	IP   string
	Port uint16
}

func (p Peer) String() string {
	return net.JoinHostPort(p.IP, fmt.Sprintf("%d", p.Port))
}

// UnmarshalCompactPeers decodes a tracker's compact peer list: 6 bytes per
// peer, 4-byte IPv4 followed by a 2-byte big-endian port (spec.md §6).
func UnmarshalCompactPeers(data []byte) ([]Peer, error) {
	const peerSize = 6
	if len(data)%peerSize != 0 {
		return nil, fmt.Errorf("%w: compact peer list length %d not a multiple of %d", ErrInvalidPeerResponse, len(data), peerSize)
	}
	peers := make([]Peer, len(data)/peerSize)
	for i := range peers {
		offset := i * peerSize
		peers[i] = Peer{
			IP:   net.IP(data[offset : offset+4]).String(),
			Port: binary.BigEndian.Uint16(data[offset+4 : offset+6]),
		}
	}
	return peers, nil
}

// Identity is this client's own peer identity: the 20-byte peer ID sent in
// every handshake and tracker request, plus the IP/port we advertise to
// trackers (spec.md §6).
type Identity struct {
	ID   [20]byte
	IP   string
	Port uint16
}

// NewPeerID generates a fresh 20-byte ASCII peer ID, Azureus-style
// (a short client tag followed by random lowercase alphanumerics), matching
// the convention spec.md §6 shows by example.
func NewPeerID() [20]byte {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	var id [20]byte
	copy(id[:], "-BS0001-")
	tail := make([]byte, 20-len("-BS0001-"))
	rand.Read(tail)
	for i, b := range tail {
		tail[i] = alphabet[int(b)%len(alphabet)]
	}
	copy(id[len("-BS0001-"):], tail)
	return id
}

// NewIdentity builds the local identity advertised to trackers and peers,
// best-effort resolving our external IP (failures leave IP empty; trackers
// tolerate this and infer the source address from the connection).
func NewIdentity(port uint16) *Identity {
	return &Identity{
		ID:   NewPeerID(),
		IP:   externalIP(),
		Port: port,
	}
}

func externalIP() string {
	resp, err := http.Get("https://api.ipify.org/")
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	return string(body)
}
