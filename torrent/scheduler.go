package torrent

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Swarm holds everything the scheduler needs to drive one download:
// the torrent metadata, the peers to try, and our local identity.
type Swarm struct {
	Torrent  *Torrent
	Peers    []Peer
	PeerID   [20]byte
	Timeouts Timeouts
}

// ProgressFunc is invoked once per completed piece, after it has been
// copied into the assembly buffer. Download reports (index, donePieces,
// totalPieces) so a caller can drive a progress bar or a database update
// (see db.Database in the db package) without the scheduler knowing
// anything about persistence.
type ProgressFunc func(index, done, total int)

// Download runs the swarm scheduler (spec.md §4.4): it seeds one
// PieceWork per piece, spawns one worker goroutine per peer, and collects
// results until every piece has been written into the assembly buffer.
// It returns ErrDownloadFailure wrapping the list of pieces no peer could
// ever deliver, if MaxPieceAttempts gives up on any piece — the buffer
// returned alongside that error is only complete where no failures
// occurred.
func (s *Swarm) Download(onProgress ProgressFunc) ([]byte, error) {
	total := len(s.Torrent.PieceHashes)
	if total == 0 {
		return nil, fmt.Errorf("%w: no pieces", ErrInvalidTorrent)
	}

	workQueue := make(chan *PieceWork, total)
	results := make(chan *PieceResult)
	failed := make(chan *PieceWork, total)

	for index, hash := range s.Torrent.PieceHashes {
		workQueue <- &PieceWork{
			Index:  index,
			Hash:   hash,
			Length: s.Torrent.PieceLength(index),
		}
	}

	for _, peer := range s.Peers {
		go runPeerWorker(peer, s.Torrent.InfoHash, s.PeerID, s.Timeouts, workQueue, results, failed)
	}

	assembly := make([]byte, s.Torrent.Length)
	done := 0
	var failures []*PieceWork

loop:
	for done+len(failures) < total {
		select {
		case res := <-results:
			begin, end := s.Torrent.pieceBounds(res.Index)
			copy(assembly[begin:end], res.Buf)
			done++
			if onProgress != nil {
				onProgress(res.Index, done, total)
			}
		case w := <-failed:
			failures = append(failures, w)
		}
		if done+len(failures) >= total {
			break loop
		}
	}

	close(workQueue)

	if len(failures) > 0 {
		indices := make([]int, len(failures))
		for i, w := range failures {
			indices[i] = w.Index
		}
		log.Error().Ints("pieces", indices).Msg("swarm finished with unrecoverable pieces")
		return assembly, fmt.Errorf("%w: %d piece(s) unrecoverable: %v", ErrDownloadFailure, len(failures), indices)
	}

	log.Info().Str("name", s.Torrent.Name).Int("pieces", total).Msg("download complete")
	return assembly, nil
}
