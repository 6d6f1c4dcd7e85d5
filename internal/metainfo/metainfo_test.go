package metainfo

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

func encodeTorrent(t *testing.T, info any, announce string) []byte {
	b, err := bencode.EncodeBytes(map[string]any{
		"announce": announce,
		"info":     info,
	})
	require.NoError(t, err)
	return b
}

func TestNew(t *testing.T) {
	info := map[string]any{
		"name":         "sample.iso",
		"piece length": 16384,
		"length":       16384*4 + 100,
		"pieces":       string(make([]byte, sha1.Size*5)),
	}
	mi, err := New(bytes.NewReader(encodeTorrent(t, info, "udp://tracker.example.org:1337/announce")))
	require.NoError(t, err)

	assert.Equal(t, "sample.iso", mi.Info.Name)
	assert.Equal(t, uint32(5), mi.Info.NumPieces)
	assert.Equal(t, int64(16384*4+100), mi.Info.TotalLength)
	assert.Equal(t, uint32(16384), mi.Info.PieceLength)
	assert.False(t, mi.Info.MultiFile())
}

func TestNewMultiFile(t *testing.T) {
	info := map[string]any{
		"name":         "dir",
		"piece length": 32,
		"files": []map[string]any{
			{"length": 40, "path": []string{"a"}},
			{"length": 24, "path": []string{"b", "c"}},
		},
		"pieces": string(make([]byte, sha1.Size*2)),
	}
	mi, err := New(bytes.NewReader(encodeTorrent(t, info, "")))
	require.NoError(t, err)
	assert.True(t, mi.Info.MultiFile())
	assert.Equal(t, int64(64), mi.Info.TotalLength)
	assert.Equal(t, uint32(2), mi.Info.NumPieces)
}

func TestNewInvalid(t *testing.T) {
	_, err := New(bytes.NewReader([]byte("d8:announce3:fooe")))
	assert.Error(t, err)

	info := map[string]any{
		"name":         "x",
		"piece length": 10,
		"length":       100,
		"pieces":       string(make([]byte, sha1.Size*2)),
	}
	_, err = New(bytes.NewReader(encodeTorrent(t, info, "")))
	assert.ErrorIs(t, err, errInvalidPieceData)

	info["files"] = []map[string]any{{"length": 20, "path": []string{".."}}}
	_, err = New(bytes.NewReader(encodeTorrent(t, info, "")))
	assert.Error(t, err)
}
