package welcomed

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkWelcomedPersistsAcrossLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "welcomed.json")

	s, err := Load(path)
	require.NoError(t, err)
	assert.False(t, s.IsWelcomed(42))

	now := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkWelcomed(42, now))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, reloaded.IsWelcomed(42))
}

func TestRecordAttemptIncrementsWithoutWelcoming(t *testing.T) {
	path := filepath.Join(t.TempDir(), "welcomed.json")
	s, err := Load(path)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, s.RecordAttempt(7, now))
	require.NoError(t, s.RecordAttempt(7, now))

	assert.Equal(t, 2, s.Attempts(7))
	assert.False(t, s.IsWelcomed(7))
}
