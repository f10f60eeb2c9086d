package torrent

import (
	"bitswarm/bencode"
	"bitswarm/utils"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Torrent is the immutable, read-only metainfo record the swarm core is
// handed (spec.md §3). FileList/CreatedBy/Comment/UrlList/IsPrivate are
// ambient metadata carried for the CLI's verify path and for display; the
// swarm scheduler only looks at InfoHash, PieceLen, PieceHashes and Length
// (plus Name, for its completion log line).
type Torrent struct {
	AnnounceList []string
	Name         string
	UrlList      []string
	CreatedBy    string
	Comment      string
	CreatedAt    int64
	FileList     []*File
	PieceLen     int64
	PieceHashes  [][20]byte
	InfoHash     [20]byte
	Length       int64
	IsPrivate    bool
}

func NewTorrent() *Torrent {
	return &Torrent{
		AnnounceList: make([]string, 0),
		UrlList:      make([]string, 0),
		FileList:     make([]*File, 0),
		PieceHashes:  make([][20]byte, 0),
	}
}

func (t *Torrent) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  Name: %s\n", t.Name))
	sb.WriteString(fmt.Sprintf("  InfoHash: %s\n", t.InfoHashString()))
	sb.WriteString(fmt.Sprintf("  Length: %s\n", utils.FormatBytes(t.Length)))

	sb.WriteString("  AnnounceList:\n")
	for _, announce := range t.AnnounceList {
		sb.WriteString(fmt.Sprintf("     %s\n", announce))
	}

	sb.WriteString("  UrlList:\n")
	for _, url := range t.UrlList {
		sb.WriteString(fmt.Sprintf("     %s\n", url))
	}
	sb.WriteString(fmt.Sprintf("  CreatedBy: %s\n", t.CreatedBy))
	sb.WriteString(fmt.Sprintf("  Comment: %s\n", t.Comment))
	sb.WriteString(fmt.Sprintf("  CreatedAt: %s\n", time.Unix(t.CreatedAt, 0).String()))
	sb.WriteString("  FileList:\n")
	for _, file := range t.FileList {
		sb.WriteString(fmt.Sprintf("     %s\n", file.String()))
	}
	sb.WriteString(fmt.Sprintf("  PieceLength: %s\n", utils.FormatBytes(t.PieceLen)))

	return sb.String()
}

func (t *Torrent) InfoHashString() string {
	return hex.EncodeToString(t.InfoHash[:])
}

// IsSingleFile reports whether the torrent describes exactly one file,
// which is what the in-memory swarm scheduler (spec.md §4.4) requires;
// the CLI rejects multi-file torrents before starting a download (see
// SPEC_FULL.md §1).
func (t *Torrent) IsSingleFile() bool {
	return len(t.FileList) == 1
}

// pieceBounds returns the [begin, end) byte range of piece index within
// the assembly buffer, per spec.md §4.4 step 4.
func (t *Torrent) pieceBounds(index int) (begin, end int64) {
	begin = int64(index) * t.PieceLen
	end = begin + t.PieceLen
	if end > t.Length {
		end = t.Length
	}
	return begin, end
}

// PieceLength returns the byte length of the piece at index: PieceLen for
// every piece except possibly the last, which may be shorter (spec.md §3).
func (t *Torrent) PieceLength(index int) int {
	begin, end := t.pieceBounds(index)
	return int(end - begin)
}

type File struct {
	Length          int64
	Path            string
	FirstPieceIndex int
	LastPieceIndex  int
}

func NewFile(length int64, path string) *File {
	return &File{
		Length: length,
		Path:   path,
	}
}

func (f *File) String() string {
	return fmt.Sprintf("Path: %s(%s)", f.Path, utils.FormatBytes(f.Length))
}

// TorrentFromBencodeData converts bencode data into a Torrent struct.
// It extracts all torrent metadata including announce lists, file information,
// piece hashes, and other properties from the bencode data.
// Returns nil if the input data is nil.
func TorrentFromBencodeData(data *bencode.Data) *Torrent {
	if data == nil {
		return nil
	}
	torrent := NewTorrent()
	rootDict := data.AsDict()
	infoDict := rootDict["info"].AsDict()

	// announce-list
	if announceList, ok := rootDict["announce-list"]; ok {
		announceListData := announceList.AsList()
		for _, announceData := range announceListData {
			announceList := announceData.AsList()
			for _, announce := range announceList {
				torrent.AnnounceList = append(torrent.AnnounceList, announce.AsString())
			}
		}
	}

	// announce
	if announce, ok := rootDict["announce"]; ok {
		if !slices.Contains(torrent.AnnounceList, announce.AsString()) {
			torrent.AnnounceList = append(torrent.AnnounceList, announce.AsString())
		}
	}

	// name
	if name, ok := infoDict["name"]; ok {
		torrent.Name = name.AsString()
	}

	// url-list
	if urlList, ok := rootDict["url-list"]; ok {
		urlListData := urlList.AsList()
		for _, url := range urlListData {
			torrent.UrlList = append(torrent.UrlList, url.AsString())
		}
	}

	// comment
	if comment, ok := rootDict["comment"]; ok {
		torrent.Comment = comment.AsString()
	}

	// created by
	if createdBy, ok := rootDict["created by"]; ok {
		torrent.CreatedBy = createdBy.AsString()
	}

	// creation date
	if createdAt, ok := rootDict["creation date"]; ok {
		torrent.CreatedAt = createdAt.AsInt()
	}

	// files list
	if files, ok := infoDict["files"]; ok {
		filesData := files.AsList()
		for _, fileData := range filesData {
			fileDict := fileData.AsDict()
			file := NewFile(fileDict["length"].AsInt(), "")

			if filePath, ok := fileDict["path"]; ok {
				pathData := filePath.AsList()
				for i, path := range pathData {
					// join path with "/"
					file.Path += path.AsString()
					if i < len(pathData)-1 {
						file.Path += "/"
					}
				}
			}

			torrent.FileList = append(torrent.FileList, file)
			torrent.Length += file.Length
		}
	} else {
		// single file mode
		torrent.Length = infoDict["length"].AsInt()
		file := NewFile(torrent.Length, torrent.Name)
		torrent.FileList = append(torrent.FileList, file)
	}

	// piece length
	if pieceLength, ok := infoDict["piece length"]; ok {
		torrent.PieceLen = pieceLength.AsInt()
	}

	// pieces
	if pieces, ok := infoDict["pieces"]; ok {
		piecesData := pieces.AsBytes()
		for i := 0; i+20 <= len(piecesData); i += 20 {
			var hash [20]byte
			copy(hash[:], piecesData[i:i+20])
			torrent.PieceHashes = append(torrent.PieceHashes, hash)
		}
	}

	// is private
	if isPrivate, ok := infoDict["private"]; ok {
		torrent.IsPrivate = isPrivate.AsInt() == 1
	}

	// info hash
	infoData := rootDict["info"]
	hash := sha1.Sum(infoData.ToBytes())
	torrent.InfoHash = hash

	// put piece indices in the files
	pieceIndex := 0
	for _, file := range torrent.FileList {
		pieceCount := file.Length / torrent.PieceLen
		if file.Length%torrent.PieceLen != 0 {
			pieceCount++
		}
		file.FirstPieceIndex = pieceIndex
		file.LastPieceIndex = pieceIndex + int(pieceCount) - 1
		pieceIndex += int(pieceCount)
	}

	return torrent
}

// TorrentFromBytes parses a byte slice containing torrent file data and
// converts it to a Torrent struct, validating that the piece-hash string
// is a multiple of 20 bytes (spec.md §6).
func TorrentFromBytes(data []byte) (*Torrent, error) {
	bencodeData, _, err := bencode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTorrent, err)
	}
	rootDict := bencodeData.AsDict()
	infoDict := rootDict["info"].AsDict()
	if pieces, ok := infoDict["pieces"]; ok {
		if len(pieces.AsBytes())%20 != 0 {
			return nil, fmt.Errorf("%w: pieces string length %d not a multiple of 20", ErrInvalidTorrent, len(pieces.AsBytes()))
		}
	}
	return TorrentFromBencodeData(bencodeData), nil
}

// VerifyTorrent checks if the files described in a torrent file exist at the given contentPath
// and validates their integrity by comparing the SHA-1 hashes of each piece with those defined in the torrent.
// This function reads files piece by piece and computes hashes to verify integrity.
// Parameters:
//   - filename: Path to the .torrent file to verify
//   - contentPath: Path to the directory containing the downloaded files
//
// Returns an error if verification fails, or nil if all pieces match their expected hashes.
func VerifyTorrent(filename string, contentPath string) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	torrent, err := TorrentFromBytes(content)
	if err != nil {
		return err
	}

	for _, file := range torrent.FileList {
		filePath := filepath.Join(contentPath, file.Path)
		if _, err := os.Stat(filePath); err != nil {
			return err
		}
	}

	// Note: for piece boundaries in the multi-file case, the file data is
	// treated as one long continuous stream, the concatenation of each
	// file in FileList order. Pieces may overlap file boundaries.
	pieceLength := torrent.PieceLen
	pieceHashes := torrent.PieceHashes
	pieceIndex := 0
	piece := make([]byte, 0, pieceLength)
	pieceBuf := make([]byte, pieceLength)

	for _, file := range torrent.FileList {
		filePath := filepath.Join(contentPath, file.Path)
		f, err := os.Open(filePath)
		if err != nil {
			return err
		}

		fileErr := func() error {
			defer f.Close()
			for {
				n, err := f.Read(pieceBuf)
				if n == 0 {
					if err != nil {
						break
					}
					continue
				}
				piece = append(piece, pieceBuf[:n]...)

				for int64(len(piece)) >= pieceLength {
					chunk := piece[:pieceLength]
					hash := sha1.Sum(chunk)
					if hash != pieceHashes[pieceIndex] {
						return fmt.Errorf("piece %d is corrupted", pieceIndex)
					}
					pieceIndex++
					piece = append([]byte{}, piece[pieceLength:]...)
					if pieceIndex == len(pieceHashes) {
						return nil
					}
				}

				if err != nil {
					break
				}
			}
			return nil
		}()
		if fileErr != nil {
			return fileErr
		}
	}

	if pieceIndex < len(pieceHashes) {
		if len(piece) == 0 {
			return nil
		}
		hash := sha1.Sum(piece)
		if hash != pieceHashes[pieceIndex] {
			return fmt.Errorf("piece %d is corrupted", pieceIndex)
		}
	}

	return nil
}
