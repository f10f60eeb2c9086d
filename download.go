package main

import (
	"bitswarm/config"
	"bitswarm/db/models"
	"bitswarm/torrent"
	"bitswarm/utils"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DownloadTorrent initiates the download of content defined in a torrent file.
// It reads the torrent file, parses its contents, copies it to the cache directory,
// creates a database entry for the download, contacts trackers to find peers, and
// runs the swarm scheduler to fetch every piece.
// Parameters:
//   - torrentFile: Path to the .torrent file to be downloaded
//
// Returns an error if any step of the process fails, or nil on success.
func DownloadTorrent(torrentFile string) error {
	log.Info().Msg("Downloading torrent: " + torrentFile)

	content, err := os.ReadFile(torrentFile)
	if err != nil {
		return err
	}
	tor, err := torrent.TorrentFromBytes(content)
	if err != nil {
		return err
	}
	if !tor.IsSingleFile() {
		return fmt.Errorf("%w: %s", torrent.ErrMultiFileUnsupported, tor.Name)
	}

	// copy the torrent file into cacheDir
	torrentFilename := filepath.Base(torrentFile)
	cachePath := filepath.Join(config.Main.CacheDir, torrentFilename)
	if err := utils.CopyFile(torrentFile, cachePath); err != nil {
		return err
	}

	dlModel, err := mainDB.CreateDownload(tor, cachePath)
	if err != nil {
		return err
	}

	trackers := make([]torrent.ITracker, 0)
	for _, announce := range tor.AnnounceList {
		tracker, err := torrent.NewTracker(announce)
		if err != nil {
			log.Warn().Err(err).Str("tracker", announce).Msg("Failed to create tracker, skipping")
			continue
		}
		trackers = append(trackers, tracker)
	}
	if len(trackers) == 0 {
		return fmt.Errorf("no valid trackers found")
	}

	me := torrent.NewIdentity(config.Main.ListenPort)
	peers := make(map[string]torrent.Peer)

	wg := sync.WaitGroup{}
	var peersMu sync.Mutex
	for trackerIndex, tracker := range trackers {
		wg.Add(1)
		go func(trIndex int, tr torrent.ITracker) {
			defer wg.Done()
			log.Info().Msg("Getting peers from tracker: " + tr.Announce())
			tPeers, err := tr.GetPeers(tor, me)
			trackerModel := &dlModel.Trackers[trIndex]
			if err != nil {
				log.Error().Err(err).Msg("Error getting peers from tracker")
				trackerModel.Status = models.TrackerError
				trackerModel.LastError = err.Error()
				mainDB.UpdateTracker(trackerModel)
				return
			}
			log.Info().Msgf("Got %d peers from tracker", len(tPeers))
			trackerModel.Status = models.TrackerComplete
			trackerModel.Seeders = tr.Seeders()
			trackerModel.Leechers = tr.Leechers()

			peersMu.Lock()
			for _, peer := range tPeers {
				if peer.IP == "0.0.0.0" || peer.IP == "" {
					continue
				}
				if _, ok := peers[peer.String()]; !ok {
					peers[peer.String()] = peer
					mainDB.CreatePeer(trackerModel, peer)
				}
			}
			peersMu.Unlock()

			trackerModel.LastCheck = time.Now().Unix()
			mainDB.UpdateTracker(trackerModel)
		}(trackerIndex, tracker)
	}
	wg.Wait()

	dlModel.Status = models.Downloading
	mainDB.UpdateDownload(dlModel)

	log.Info().Msgf("Found %d peers for download", len(peers))
	if len(peers) == 0 {
		err := fmt.Errorf("no peers found for download")
		dlModel.Status = models.Error
		dlModel.LastError = err.Error()
		mainDB.UpdateDownload(dlModel)
		return err
	}

	peerList := make([]torrent.Peer, 0, len(peers))
	for _, p := range peers {
		peerList = append(peerList, p)
	}

	downloadPath := filepath.Join(config.Main.DownloadDir, tor.Name)
	if err := os.MkdirAll(filepath.Dir(downloadPath), os.ModePerm); err != nil {
		dlModel.Status = models.Error
		dlModel.LastError = fmt.Sprintf("Failed to create download directory: %s", err.Error())
		mainDB.UpdateDownload(dlModel)
		return err
	}

	log.Info().Msg("Starting download of pieces")
	swarm := &torrent.Swarm{
		Torrent:  tor,
		Peers:    peerList,
		PeerID:   me.ID,
		Timeouts: torrent.DefaultTimeouts,
	}

	buf, err := swarm.Download(func(index, done, total int) {
		dlModel.Progress = done * 100 / total
		dlModel.DownloadedSize = int64(done) * tor.PieceLen
		mainDB.UpdateDownload(dlModel)
		mainDB.MarkPieceDownloaded(dlModel.ID, index)
	})
	if err != nil {
		dlModel.Status = models.Error
		dlModel.LastError = err.Error()
		mainDB.UpdateDownload(dlModel)
		return err
	}

	if err := os.WriteFile(downloadPath, buf, 0644); err != nil {
		dlModel.Status = models.Error
		dlModel.LastError = err.Error()
		mainDB.UpdateDownload(dlModel)
		return err
	}

	dlModel.Status = models.Complete
	dlModel.Progress = 100
	dlModel.CompletedAt = time.Now().Unix()
	mainDB.UpdateDownload(dlModel)

	log.Info().Str("path", downloadPath).Msg("download complete")
	return nil
}
