package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/boltdb/bolt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, path string) *Service {
	t.Helper()
	s := &Service{}
	require.NoError(t, s.Connect(path, 0600, &bolt.Options{Timeout: time.Second}))
	return s
}

func TestNotConnected(t *testing.T) {
	var s Service

	assert.ErrorIs(t, s.Increment("/"), ErrNotConnected)
	_, err := s.Hit("/")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = s.Hits()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, s.Close(), ErrNotConnected)

	// must not panic
	s.Record("/")
}

func TestIncrement(t *testing.T) {
	s := connect(t, filepath.Join(t.TempDir(), "hits.db"))
	defer s.Close()

	require.NoError(t, s.Increment("/a", "/b", "/a"))
	require.NoError(t, s.Increment("/a"))

	n, err := s.Hit("/a")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	n, err = s.Hit("/missing")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	hits, err := s.Hits()
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"/a": 3, "/b": 1}, hits)
}

func TestRecordPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hits.db")

	s := connect(t, path)
	for i := 0; i < 10; i++ {
		s.Record("/index.html")
	}
	s.Record("/style.css")
	require.NoError(t, s.Close())

	// recorded after close: ignored
	s.Record("/late")

	s = connect(t, path)
	defer s.Close()

	hits, err := s.Hits()
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"/index.html": 10, "/style.css": 1}, hits)
}

func TestRecordDropsWhenFull(t *testing.T) {
	s := connect(t, filepath.Join(t.TempDir(), "hits.db"))
	defer s.Close()

	dropped := 0
	s.OnDrop(func() { dropped++ })

	// hold the writer inside a transaction so the queue fills up
	tx, err := s.db.Begin(true)
	require.NoError(t, err)

	for i := 0; i < queueSize+batchSize+10; i++ {
		s.Record("/busy")
	}
	require.NoError(t, tx.Rollback())

	assert.Greater(t, dropped, 0)
}
