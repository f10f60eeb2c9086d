package db

import (
	"bitswarm/db/models"
	"bitswarm/torrent"
	"path/filepath"
	"testing"
)

func testTorrent() *torrent.Torrent {
	return &torrent.Torrent{
		Name:         "fixture.bin",
		AnnounceList: []string{"http://tracker.example/announce"},
		PieceLen:     16,
		PieceHashes:  [][20]byte{{1}, {2}, {3}},
		InfoHash:     [20]byte{0xaa, 0xbb},
		Length:       48,
	}
}

func TestCreateDownloadIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	database, err := Init(dbPath)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer database.Close()

	tor := testTorrent()
	first, err := database.CreateDownload(tor, "/tmp/fixture.torrent")
	if err != nil {
		t.Fatalf("CreateDownload: %v", err)
	}
	if len(first.Pieces) != len(tor.PieceHashes) {
		t.Errorf("Pieces = %d rows, want %d", len(first.Pieces), len(tor.PieceHashes))
	}
	if len(first.Trackers) != len(tor.AnnounceList) {
		t.Errorf("Trackers = %d rows, want %d", len(first.Trackers), len(tor.AnnounceList))
	}

	second, err := database.CreateDownload(tor, "/tmp/fixture.torrent")
	if err != nil {
		t.Fatalf("CreateDownload (second call): %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("CreateDownload created a duplicate row: got ID %d, want %d", second.ID, first.ID)
	}
}

func TestMarkPieceDownloaded(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	database, err := Init(dbPath)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer database.Close()

	tor := testTorrent()
	download, err := database.CreateDownload(tor, "/tmp/fixture.torrent")
	if err != nil {
		t.Fatalf("CreateDownload: %v", err)
	}

	if err := database.MarkPieceDownloaded(download.ID, 1); err != nil {
		t.Fatalf("MarkPieceDownloaded: %v", err)
	}

	refreshed, err := database.CreateDownload(tor, "/tmp/fixture.torrent")
	if err != nil {
		t.Fatalf("CreateDownload (reload): %v", err)
	}
	var found bool
	for _, p := range refreshed.Pieces {
		if p.Index == 1 {
			found = true
			if !p.IsDownloaded {
				t.Error("piece 1 should be marked downloaded")
			}
		}
	}
	if !found {
		t.Fatal("piece index 1 not found")
	}
}

func TestCreatePeerUpsertsByIPPort(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	database, err := Init(dbPath)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer database.Close()

	tor := testTorrent()
	download, err := database.CreateDownload(tor, "/tmp/fixture.torrent")
	if err != nil {
		t.Fatalf("CreateDownload: %v", err)
	}
	tracker := &download.Trackers[0]

	peer := torrent.Peer{IP: "203.0.113.5", Port: 51413}
	if err := database.CreatePeer(tracker, peer); err != nil {
		t.Fatalf("CreatePeer: %v", err)
	}
	if err := database.CreatePeer(tracker, peer); err != nil {
		t.Fatalf("CreatePeer (second call): %v", err)
	}

	var rows int64
	if err := database.db.Model(&models.Peer{}).Count(&rows).Error; err != nil {
		t.Fatalf("count peers: %v", err)
	}
	if rows != 1 {
		t.Errorf("peer rows = %d, want 1 after two CreatePeer calls for the same ip/port", rows)
	}
}
