package nodecache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertThenSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.json")

	c, err := Load(path)
	require.NoError(t, err)

	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	c.Upsert(0xdeadbeef, "Test Node", "TEST", now)
	require.NoError(t, c.Save(now))

	reloaded, err := Load(path)
	require.NoError(t, err)

	n, ok := reloaded.Get(0xdeadbeef)
	require.True(t, ok)
	assert.Equal(t, "Test Node", n.LongName)
	assert.Equal(t, "TEST", n.ShortName)
	assert.True(t, n.FirstSeen.Equal(now))
	assert.True(t, n.LastSeen.Equal(now))
}

func TestUpsertSecondCallKeepsFirstSeen(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nodes.json"))
	require.NoError(t, err)

	first := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	c.Upsert(1, "Alpha", "A", first)
	c.Upsert(1, "", "", second)

	n, ok := c.Get(1)
	require.True(t, ok)
	assert.True(t, n.FirstSeen.Equal(first))
	assert.True(t, n.LastSeen.Equal(second))
	assert.Equal(t, "Alpha", n.LongName, "empty names on refresh must not clobber the cached value")
}

func TestPruneRemovesStaleNodesOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.json")
	c, err := Load(path)
	require.NoError(t, err)

	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	c.Upsert(1, "Fresh", "F", now.Add(-time.Hour))
	c.Upsert(2, "Stale", "S", now.Add(-48*time.Hour))

	require.NoError(t, c.Prune(now, 24*time.Hour))

	_, ok := c.Get(1)
	assert.True(t, ok)
	_, ok = c.Get(2)
	assert.False(t, ok)
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, c.RecentlySeen(time.Now(), time.Hour))
}
