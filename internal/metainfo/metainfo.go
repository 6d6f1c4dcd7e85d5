// Package metainfo reads torrent files.
package metainfo

import (
	"errors"
	"io"

	"github.com/zeebo/bencode"
)

// MetaInfo file dictionary
type MetaInfo struct {
	Info Info
}

// New returns a torrent from bencoded stream.
func New(r io.Reader) (*MetaInfo, error) {
	var ret MetaInfo
	var t struct {
		Info bencode.RawMessage `bencode:"info"`
	}
	err := bencode.NewDecoder(r).Decode(&t)
	if err != nil {
		return nil, err
	}
	if len(t.Info) == 0 {
		return nil, errors.New("no info dict in torrent file")
	}
	info, err := NewInfo(t.Info)
	if err != nil {
		return nil, err
	}
	ret.Info = *info
	return &ret, nil
}
