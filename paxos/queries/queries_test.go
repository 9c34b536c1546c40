package queries

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-electorate/paxos/config"
)

func TestNewRecorderDefaultsToNop(t *testing.T) {
	for _, dbType := range []string{"", "none"} {
		r, err := NewRecorder(&config.Conf{DB_TYPE: dbType})
		require.NoError(t, err)
		r.RecordRound("M1", 101, "prepare", "M5")
		r.RecordDecision("M1", "M5")
		assert.NoError(t, r.Close())
	}
}

func TestNewRecorderRejectsUnknownBackend(t *testing.T) {
	_, err := NewRecorder(&config.Conf{DB_TYPE: "parchment"})
	assert.Error(t, err)
}

func TestSqliteRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	r, err := newSqliteRecorder(path)
	require.NoError(t, err)
	defer r.Close()

	r.RecordRound("M1", 101, "prepare", "M5")
	r.RecordRound("M1", 101, "accept", "M5")
	r.RecordRound("M2", 302, "prepare", "M5")

	assert.Equal(t, 2, r.RoundCount("M1"))
	assert.Equal(t, 1, r.RoundCount("M2"))

	_, ok := r.Decision("M1")
	assert.False(t, ok)

	r.RecordDecision("M1", "M5")
	v, ok := r.Decision("M1")
	require.True(t, ok)
	assert.Equal(t, "M5", v)

	// The first decision wins; a member's decision never changes.
	r.RecordDecision("M1", "M8")
	v, _ = r.Decision("M1")
	assert.Equal(t, "M5", v)
}
