package db

import (
	"bitswarm/config"
	"bitswarm/db/models"
	"bitswarm/torrent"
	"encoding/hex"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Database is the progress ledger described in SPEC_FULL.md §8.1: one row
// per download/tracker/peer/piece, for operator visibility. It is never
// read back into the swarm scheduler's work queue — a re-run always starts
// from piece zero, per spec.md's "resume from partial download" Non-goal.
type Database struct {
	db *gorm.DB
}

// Init opens (creating if absent) the sqlite database at path and
// migrates the schema.
func Init(path string) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&models.Download{}, &models.Peer{}, &models.Piece{}, &models.Tracker{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateDownload records a new download, or returns the existing one if a
// download with the same info hash was already recorded.
func (d *Database) CreateDownload(tor *torrent.Torrent, torrentPath string) (*models.Download, error) {
	existing := &models.Download{}
	if tx := d.db.Preload("Trackers").Preload("Pieces").Where("info_hash = ?", tor.InfoHashString()).First(existing); tx.Error == nil {
		return existing, nil
	}

	download := &models.Download{
		InfoHash:        tor.InfoHashString(),
		Name:            tor.Name,
		TorrentFilename: torrentPath,
		Status:          models.Downloading,
		DownloadDir:     config.Main.DownloadDir,
		TotalSize:       tor.Length,
	}
	if err := d.db.Create(download).Error; err != nil {
		return nil, err
	}

	for i, pieceHash := range tor.PieceHashes {
		piece := &models.Piece{
			DownloadID: download.ID,
			Index:      i,
			Hash:       hex.EncodeToString(pieceHash[:]),
		}
		if err := d.db.Create(piece).Error; err != nil {
			return nil, err
		}
	}

	for _, announce := range tor.AnnounceList {
		tr := &models.Tracker{
			DownloadID: download.ID,
			Announce:   announce,
			Status:     models.TrackerAnnouncing,
		}
		if err := d.db.Create(tr).Error; err != nil {
			return nil, err
		}
	}

	if err := d.db.Preload("Trackers").Preload("Pieces").First(download, download.ID).Error; err != nil {
		return nil, err
	}
	return download, nil
}

func (d *Database) UpdateDownload(download *models.Download) error {
	return d.db.Save(download).Error
}

func (d *Database) UpdateTracker(tracker *models.Tracker) error {
	return d.db.Save(tracker).Error
}

// MarkPieceDownloaded flips Piece.IsDownloaded for the progress callback
// the swarm scheduler invokes once per completed piece.
func (d *Database) MarkPieceDownloaded(downloadID uint, index int) error {
	return d.db.Model(&models.Piece{}).
		Where("download_id = ? AND \"index\" = ?", downloadID, index).
		Update("is_downloaded", true).Error
}

func (d *Database) CreatePeers(tracker *models.Tracker, peers []torrent.Peer) error {
	for _, peer := range peers {
		if err := d.CreatePeer(tracker, peer); err != nil {
			return err
		}
	}
	return nil
}

// CreatePeer upserts a peer row keyed by (download, ip, port).
func (d *Database) CreatePeer(tracker *models.Tracker, peer torrent.Peer) error {
	newPeer := &models.Peer{
		DownloadID: tracker.DownloadID,
		TrackerID:  tracker.ID,
		IP:         peer.IP,
		Port:       peer.Port,
	}

	existingPeer := &models.Peer{}
	result := d.db.Where("download_id = ? AND ip = ? AND port = ?", tracker.DownloadID, peer.IP, peer.Port).First(existingPeer)
	if result.Error == nil {
		newPeer.ID = existingPeer.ID
		return d.db.Save(newPeer).Error
	}
	return d.db.Create(newPeer).Error
}
