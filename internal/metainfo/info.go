package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zeebo/bencode"
)

var errInvalidPieceData = errors.New("invalid piece data")

// Info contains the fields of the info dictionary that are needed to schedule piece requests.
type Info struct {
	PieceLength uint32     `bencode:"piece length"`
	Pieces      []byte     `bencode:"pieces"`
	Name        string     `bencode:"name"`
	Length      int64      `bencode:"length"` // Single File Mode
	Files       []FileDict `bencode:"files"`  // Multiple File mode

	// Calculated fileds
	Hash        [20]byte `bencode:"-"`
	TotalLength int64    `bencode:"-"`
	NumPieces   uint32   `bencode:"-"`
}

// FileDict is a file entry in a multi-file torrent.
type FileDict struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// NewInfo returns info from bencoded bytes in b.
func NewInfo(b []byte) (*Info, error) {
	var i Info
	if err := bencode.DecodeBytes(b, &i); err != nil {
		return nil, err
	}
	if i.PieceLength == 0 {
		return nil, errors.New("zero piece length")
	}
	if uint32(len(i.Pieces))%sha1.Size != 0 {
		return nil, errInvalidPieceData
	}
	// ".." is not allowed in file names
	for _, file := range i.Files {
		for _, path := range file.Path {
			if strings.TrimSpace(path) == ".." {
				return nil, fmt.Errorf("invalid file name: %q", filepath.Join(file.Path...))
			}
		}
	}
	i.NumPieces = uint32(len(i.Pieces)) / sha1.Size
	if !i.MultiFile() {
		i.TotalLength = i.Length
	} else {
		for _, f := range i.Files {
			i.TotalLength += f.Length
		}
	}
	totalPieceDataLength := int64(i.PieceLength) * int64(i.NumPieces)
	delta := totalPieceDataLength - i.TotalLength
	if delta >= int64(i.PieceLength) || delta < 0 {
		return nil, errInvalidPieceData
	}
	hash := sha1.New()   // nolint: gosec
	_, _ = hash.Write(b) // nolint: gosec
	copy(i.Hash[:], hash.Sum(nil))
	return &i, nil
}

// MultiFile returns true if the torrent contains a directory of files.
func (i *Info) MultiFile() bool {
	return len(i.Files) != 0
}
