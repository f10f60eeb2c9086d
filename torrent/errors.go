package torrent

import "errors"

// Error kinds, per the taxonomy in SPEC_FULL.md §7.1. Fatal kinds abort the
// whole run; peer-scoped kinds are handled by the affected worker only.
var (
	ErrInvalidTorrent       = errors.New("invalid torrent metainfo")
	ErrTrackerFailure       = errors.New("tracker request failed")
	ErrInvalidPeerResponse  = errors.New("invalid compact peer list")
	ErrConnectFailure       = errors.New("peer connect failed")
	ErrHandshakeMismatch    = errors.New("handshake protocol mismatch")
	ErrProtocolViolation    = errors.New("peer protocol violation")
	ErrDownloadFailure      = errors.New("piece download failed")
	ErrIntegrityFailure     = errors.New("piece integrity check failed")
	ErrMultiFileUnsupported = errors.New("multi-file torrents are unsupported")
)
