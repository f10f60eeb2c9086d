package torrent

import (
	"bitswarm/bencode"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPTrackerGetPeersCompact(t *testing.T) {
	var gotInfoHash, gotPeerID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotInfoHash = r.URL.Query().Get("info_hash")
		gotPeerID = r.URL.Query().Get("peer_id")

		compactPeers := []byte{127, 0, 0, 1, 0x1A, 0xE1} // 127.0.0.1:6881
		resp := bencode.NewData(map[string]interface{}{
			"interval": int64(1800),
			"complete": int64(3),
			"peers":    compactPeers,
		})
		w.Write(bencode.Encode(resp))
	}))
	defer srv.Close()

	tr := NewHTTPTracker(srv.URL)
	var infoHash [20]byte
	copy(infoHash[:], "http-tracker-testing")
	tor := &Torrent{InfoHash: infoHash, Length: 1024}
	me := &Identity{ID: [20]byte{'s', 'e', 'l', 'f'}, Port: 6882}

	peers, err := tr.GetPeers(tor, me)
	if err != nil {
		t.Fatalf("GetPeers: %v", err)
	}
	if len(peers) != 1 || peers[0].IP != "127.0.0.1" || peers[0].Port != 6881 {
		t.Errorf("peers = %+v, want one peer at 127.0.0.1:6881", peers)
	}
	if tr.Seeders() != 3 {
		t.Errorf("Seeders() = %d, want 3", tr.Seeders())
	}
	// info_hash and peer_id must reach the tracker raw-byte percent-encoded,
	// never mangled by string-based query escaping.
	if gotInfoHash != string(infoHash[:]) || gotPeerID != string(me.ID[:]) {
		t.Errorf("tracker received info_hash=%q peer_id=%q, want %q and %q", gotInfoHash, gotPeerID, infoHash[:], me.ID[:])
	}
}

func TestHTTPTrackerFailureReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := bencode.NewData(map[string]interface{}{
			"failure reason": "torrent not registered",
		})
		w.Write(bencode.Encode(resp))
	}))
	defer srv.Close()

	tr := NewHTTPTracker(srv.URL)
	var infoHash [20]byte
	tor := &Torrent{InfoHash: infoHash, Length: 1024}
	me := &Identity{ID: [20]byte{}, Port: 6882}

	_, err := tr.GetPeers(tor, me)
	if err == nil {
		t.Fatal("expected an error for a tracker failure reason")
	}
}
