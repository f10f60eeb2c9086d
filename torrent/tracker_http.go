package torrent

import (
	"bitswarm/bencode"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type httpTracker struct {
	announceURL string
	lastCheck   int64
	nextCheck   int64
	lastError   error
	lastWarning string
	seeders     int
	leechers    int
}

func NewHTTPTracker(announce string) ITracker {
	return &httpTracker{
		announceURL: announce,
	}
}

func (t *httpTracker) Announce() string {
	return t.announceURL
}

func (t *httpTracker) LastCheck() int64 {
	return t.lastCheck
}

func (t *httpTracker) NextCheck() int64 {
	return t.nextCheck
}

func (t *httpTracker) LastError() error {
	return t.lastError
}

func (t *httpTracker) Seeders() int {
	return t.seeders
}

func (t *httpTracker) Leechers() int {
	return t.leechers
}

// percentEncode raw-byte percent-encodes b, used for info_hash and peer_id:
// both are arbitrary 20-byte sequences, not valid UTF-8 in general, so
// url.QueryEscape (which operates on strings) would mangle them.
func percentEncode(b []byte) string {
	var sb strings.Builder
	for _, v := range b {
		fmt.Fprintf(&sb, "%%%02X", v)
	}
	return sb.String()
}

func (t *httpTracker) GetPeers(tor *Torrent, me *Identity) ([]Peer, error) {
	cli := resty.New()

	query := fmt.Sprintf(
		"info_hash=%s&peer_id=%s&port=%d&uploaded=0&downloaded=0&left=%d&compact=1&event=started",
		percentEncode(tor.InfoHash[:]), percentEncode(me.ID[:]), me.Port, tor.Length,
	)
	url := t.announceURL
	if strings.Contains(url, "?") {
		url += "&" + query
	} else {
		url += "?" + query
	}
	if me.IP != "" {
		url += "&ip=" + me.IP
	}

	resp, err := cli.R().Get(url)
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrTrackerFailure, err.Error())
		t.lastError = err
		return nil, err
	}
	t.lastCheck = time.Now().Unix()
	if resp.StatusCode() != 200 {
		err = fmt.Errorf("%w: status code %d: %s", ErrTrackerFailure, resp.StatusCode(), resp.String())
		t.lastError = err
		return nil, err
	}

	response, _, err := bencode.Decode(resp.Body())
	if err != nil {
		err = fmt.Errorf("%w: decoding tracker response: %s", ErrTrackerFailure, err.Error())
		t.lastError = err
		return nil, err
	}
	respDict := response.AsDict()

	if failureReason, ok := respDict["failure reason"]; ok {
		err = fmt.Errorf("%w: %s", ErrTrackerFailure, failureReason.AsString())
		t.lastError = err
		return nil, err
	}

	if complete, ok := respDict["complete"]; ok {
		t.seeders = int(complete.AsInt())
	}
	if leechers, ok := respDict["incomplete"]; ok {
		t.leechers = int(leechers.AsInt())
	}
	if interval, ok := respDict["interval"]; ok {
		t.nextCheck = time.Now().Unix() + int64(interval.AsInt())
	}

	var peers []Peer
	peersList, ok := respDict["peers"]
	if !ok {
		t.lastWarning = "tracker response carried no peers field"
		return peers, nil
	}

	switch peersList.Type {
	case bencode.STRING:
		peers, err = UnmarshalCompactPeers([]byte(peersList.AsString()))
		if err != nil {
			t.lastError = err
			return nil, err
		}
	case bencode.LIST:
		for _, peerData := range peersList.AsList() {
			peerDict := peerData.AsDict()
			peers = append(peers, Peer{
				IP:   peerDict["ip"].AsString(),
				Port: uint16(peerDict["port"].AsInt()),
			})
		}
	}

	if lastWarning, ok := respDict["warning message"]; ok {
		t.lastWarning = lastWarning.AsString()
	}
	return peers, nil
}
