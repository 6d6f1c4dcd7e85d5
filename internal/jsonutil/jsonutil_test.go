package jsonutil

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCompactPretty(t *testing.T) {
	SetColor(false)
	v := struct {
		Peers    int
		Mode     string
		Progress float64
		Bytes    struct {
			Downloaded int64
		}
		StartedAt time.Time `structs:",omitnested"`
	}{
		Peers:     3,
		Mode:      "aggressive",
		Progress:  0.5,
		StartedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	v.Bytes.Downloaded = 100
	b, err := MarshalCompactPretty(&v)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "Bytes: {"))
	assert.Contains(t, lines[0], "100")
	assert.Equal(t, `Mode: "aggressive"`, lines[1])
	assert.Equal(t, "Peers: 3", lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "Progress: 0.5"))
	assert.Equal(t, `StartedAt: "2024-01-02T03:04:05Z"`, lines[4])
}
