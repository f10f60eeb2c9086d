package torrent

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// Timeouts collects the three network deadlines the protocol fixes
// (spec.md §5): connect, handshake I/O, and piece-download reads. They are
// not meant to be tuned per swarm, but routing them through one struct
// keeps the three durations from drifting out of sync across the
// connect/handshake/download call sites.
type Timeouts struct {
	Connect       time.Duration
	Handshake     time.Duration
	PieceDownload time.Duration
}

// DefaultTimeouts are the durations spec.md §5 fixes: 5s connect, 5s
// handshake, 30s piece download.
var DefaultTimeouts = Timeouts{
	Connect:       5 * time.Second,
	Handshake:     5 * time.Second,
	PieceDownload: 30 * time.Second,
}

// PeerSession owns one TCP connection to one peer for the duration of a
// download attempt. It is created, used, and destroyed by exactly one
// worker goroutine; it is never shared across goroutines.
type PeerSession struct {
	Peer     Peer
	Conn     net.Conn
	Bitfield Bitfield
	Choked   bool

	timeouts Timeouts
}

// Connect dials peer, performs the handshake, and reads the mandatory
// first bitfield message. Any failure closes the connection and returns a
// wrapped ErrConnectFailure, ErrHandshakeMismatch, or ErrProtocolViolation.
func Connect(peer Peer, infoHash, selfPeerID [20]byte, timeouts Timeouts) (*PeerSession, error) {
	conn, err := net.DialTimeout("tcp", peer.String(), timeouts.Connect)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailure, err)
	}

	session := &PeerSession{
		Peer:     peer,
		Conn:     conn,
		Choked:   true,
		timeouts: timeouts,
	}

	if err := session.handshake(infoHash, selfPeerID); err != nil {
		conn.Close()
		return nil, err
	}

	if err := session.readInitialBitfield(); err != nil {
		conn.Close()
		return nil, err
	}

	return session, nil
}

func (s *PeerSession) handshake(infoHash, selfPeerID [20]byte) error {
	if err := s.Conn.SetDeadline(time.Now().Add(s.timeouts.Handshake)); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailure, err)
	}
	defer s.Conn.SetDeadline(time.Time{})

	req := NewHandshake(infoHash, selfPeerID)
	if _, err := s.Conn.Write(req.Serialize()); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailure, err)
	}

	resp, err := ReadHandshake(s.Conn)
	if err != nil {
		if errors.Is(err, ErrHandshakeMismatch) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrConnectFailure, err)
	}
	if resp.InfoHash != infoHash {
		return fmt.Errorf("%w: info hash mismatch", ErrHandshakeMismatch)
	}
	return nil
}

// readInitialBitfield requires the first post-handshake message to be a
// bitfield (spec.md §4.2). Real peers that lead with a have or an extended
// handshake instead are treated as a protocol violation — see
// SPEC_FULL.md §10 "First-message-must-be-bitfield".
func (s *PeerSession) readInitialBitfield() error {
	if err := s.Conn.SetDeadline(time.Now().Add(s.timeouts.Handshake)); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailure, err)
	}
	defer s.Conn.SetDeadline(time.Time{})

	msg, err := ReadMessage(s.Conn)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	if msg == nil || msg.ID != MsgBitfield {
		return fmt.Errorf("%w: expected bitfield as first message", ErrProtocolViolation)
	}
	s.Bitfield = msg.Payload
	return nil
}

// ReadMessage reads one frame, skipping keep-alives, and returns the next
// real message. It returns (nil, err) only on socket error; it never
// returns a keep-alive.
func (s *PeerSession) ReadMessage() (*Message, error) {
	for {
		msg, err := ReadMessage(s.Conn)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}
}

func (s *PeerSession) send(msg *Message) error {
	_, err := s.Conn.Write(msg.Serialize())
	return err
}

func (s *PeerSession) SendChoke() error         { return s.send(&Message{ID: MsgChoke}) }
func (s *PeerSession) SendUnchoke() error       { return s.send(&Message{ID: MsgUnchoke}) }
func (s *PeerSession) SendInterested() error    { return s.send(&Message{ID: MsgInterested}) }
func (s *PeerSession) SendNotInterested() error { return s.send(&Message{ID: MsgNotInterested}) }

func (s *PeerSession) SendHave(index int) error {
	return s.send(FormatHave(index))
}

func (s *PeerSession) SendRequest(index, begin, length int) error {
	return s.send(FormatRequest(index, begin, length))
}

// SetPieceDeadline arms the read deadline used while pipelining block
// requests for one piece (spec.md §4.3 step 2).
func (s *PeerSession) SetPieceDeadline() error {
	return s.Conn.SetReadDeadline(time.Now().Add(s.timeouts.PieceDownload))
}

// Close closes the underlying connection, logging at Debug — a closed
// session is routine (requeue-and-exit), not an error condition.
func (s *PeerSession) Close() {
	log.Debug().Str("peer", s.Peer.String()).Msg("closing peer session")
	s.Conn.Close()
}
