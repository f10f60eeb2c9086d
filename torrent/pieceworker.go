package torrent

import (
	"bytes"
	"crypto/sha1"
	"fmt"

	"github.com/rs/zerolog/log"
)

// MaxPieceAttempts bounds how many times a piece may be requeued before the
// scheduler gives up on it and reports it as failed. This is the
// liveness extension permitted (not mandated) by SPEC_FULL.md §10: without
// it, a swarm where every peer fails on one piece blocks forever.
const MaxPieceAttempts = 40

// PieceWork is one unit of work: a piece index, its expected digest, and
// its length. Index, Hash and Length never change once created; Attempts
// counts how many times a worker has handed the piece back (see requeue).
type PieceWork struct {
	Index    int
	Hash     [20]byte
	Length   int
	Attempts int
}

// PieceResult is a successfully downloaded and verified piece.
type PieceResult struct {
	Index int
	Buf   []byte
}

// pieceProgress is the transient per-piece, per-worker download state.
type pieceProgress struct {
	index      int
	session    *PeerSession
	buf        []byte
	downloaded int
	requested  int
	backlog    int
}

// downloadPiece runs the per-piece pipelined block-request loop of
// spec.md §4.3: while unchoked, keep up to MaxBacklog requests in flight;
// dispatch every incoming message; stop once the whole piece has arrived.
func downloadPiece(session *PeerSession, work *PieceWork) ([]byte, error) {
	progress := &pieceProgress{
		index:   work.Index,
		session: session,
		buf:     make([]byte, work.Length),
	}

	if err := session.SetPieceDeadline(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailure, err)
	}

	for progress.downloaded < work.Length {
		if !session.Choked {
			for progress.backlog < MaxBacklog && progress.requested < work.Length {
				blockSize := MaxBlockSize
				if work.Length-progress.requested < blockSize {
					blockSize = work.Length - progress.requested
				}
				if err := session.SendRequest(work.Index, progress.requested, blockSize); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrDownloadFailure, err)
				}
				progress.backlog++
				progress.requested += blockSize
			}
		}

		if err := progress.readMessage(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDownloadFailure, err)
		}
	}

	return progress.buf, nil
}

func (p *pieceProgress) readMessage() error {
	msg, err := p.session.ReadMessage()
	if err != nil {
		return err
	}

	switch msg.ID {
	case MsgUnchoke:
		p.session.Choked = false
	case MsgChoke:
		p.session.Choked = true
	case MsgHave:
		index, err := ParseHave(msg)
		if err != nil {
			return err
		}
		p.session.Bitfield.SetPiece(index)
	case MsgPiece:
		n, err := ParsePiece(p.index, p.buf, msg)
		if err != nil {
			return err
		}
		p.downloaded += n
		p.backlog--
	default:
		// everything else the core doesn't act on mid-piece (interested,
		// not_interested, bitfield, request, cancel, unknown IDs) is discarded.
	}
	return nil
}

// checkIntegrity verifies a downloaded piece against its expected SHA-1
// digest (spec.md §4.3 "Integrity check").
func checkIntegrity(work *PieceWork, buf []byte) error {
	sum := sha1.Sum(buf)
	if !bytes.Equal(sum[:], work.Hash[:]) {
		return fmt.Errorf("%w: piece %d", ErrIntegrityFailure, work.Index)
	}
	return nil
}

// runPeerWorker is the per-peer outer loop of spec.md §4.3: open a
// session, then repeatedly dequeue a piece, skip it if the peer doesn't
// have it, download it, verify it, and either hand back a result or
// requeue it. It never drops a dequeued piece without doing one of those
// two things.
func runPeerWorker(peer Peer, infoHash, selfPeerID [20]byte, timeouts Timeouts, workQueue chan *PieceWork, results chan *PieceResult, failed chan *PieceWork) {
	session, err := Connect(peer, infoHash, selfPeerID, timeouts)
	if err != nil {
		log.Debug().Str("peer", peer.String()).Err(err).Msg("could not establish peer session")
		return
	}
	defer session.Close()

	if err := session.SendUnchoke(); err != nil {
		return
	}
	if err := session.SendInterested(); err != nil {
		return
	}

	for work := range workQueue {
		if !session.Bitfield.HasPiece(work.Index) {
			requeue(workQueue, failed, work)
			continue
		}

		buf, err := downloadPiece(session, work)
		if err != nil {
			log.Debug().Str("peer", peer.String()).Int("piece", work.Index).Err(err).Msg("download failed, abandoning peer")
			requeue(workQueue, failed, work)
			return
		}

		if err := checkIntegrity(work, buf); err != nil {
			log.Warn().Str("peer", peer.String()).Int("piece", work.Index).Msg("integrity check failed, requeuing")
			requeue(workQueue, failed, work)
			continue
		}

		if err := session.SendHave(work.Index); err != nil {
			log.Debug().Str("peer", peer.String()).Err(err).Msg("send have failed")
		}
		results <- &PieceResult{Index: work.Index, Buf: buf}
	}
}

// requeue implements the give-up policy of SPEC_FULL.md §10: every call
// counts one attempt, and the piece is put back on the work queue until its
// MaxPieceAttempts-th attempt, which routes it to the failed channel
// instead (so it is requeued at most MaxPieceAttempts-1 times).
func requeue(workQueue chan *PieceWork, failed chan *PieceWork, work *PieceWork) {
	work.Attempts++
	if work.Attempts >= MaxPieceAttempts {
		log.Error().Int("piece", work.Index).Int("attempts", work.Attempts).Msg("piece exceeded max attempts, giving up")
		failed <- work
		return
	}
	workQueue <- work
}
