package storage

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynakv/internal/record"
)

func TestStore_GetMissing(t *testing.T) {
	s := NewStore(NewMemory())

	rec, err := s.Get([]byte("nonexistent"))
	require.NoError(t, err)
	assert.True(t, rec.IsMissing())
}

func TestStore_UpsertAndRemove(t *testing.T) {
	s := NewStore(NewMemory())
	key := []byte("key1")

	require.NoError(t, s.Upsert(key, []byte("value1"), 100))
	rec, err := s.Get(key)
	require.NoError(t, err)
	assert.True(t, rec.IsValue())
	assert.Equal(t, []byte("value1"), rec.Value())
	assert.Equal(t, int64(100), rec.Timestamp())

	require.NoError(t, s.Remove(key, 200))
	rec, err = s.Get(key)
	require.NoError(t, err)
	assert.True(t, rec.IsDeleted(), "delete must leave a tombstone, got %s", rec)
	assert.Equal(t, int64(200), rec.Timestamp())
}

func TestStore_CorruptEntry(t *testing.T) {
	e := NewMemory()
	s := NewStore(e)
	require.NoError(t, e.Put([]byte("bad"), []byte{0x01, 0x02}))

	_, err := s.Get([]byte("bad"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, record.ErrMalformed))
}

func TestStore_RangeSkipsTombstones(t *testing.T) {
	db, err := OpenLevelDBMemory()
	require.NoError(t, err)
	s := NewStore(db)
	defer s.Close()

	require.NoError(t, s.Upsert([]byte("a"), []byte("1"), 1))
	require.NoError(t, s.Upsert([]byte("b"), []byte("2"), 1))
	require.NoError(t, s.Remove([]byte("b"), 2))
	require.NoError(t, s.Upsert([]byte("c"), []byte("3"), 1))
	require.NoError(t, db.Put([]byte("bb"), []byte{0x09}))

	it, err := s.Range([]byte("a"), nil)
	require.NoError(t, err)
	defer it.Release()

	var keys, values []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
		values = append(values, string(it.Value()))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"a", "c"}, keys)
	assert.Equal(t, []string{"1", "3"}, values)
	assert.Equal(t, 1, it.Skipped())
}

func TestStore_RangeEmptyEndIsUnbounded(t *testing.T) {
	s := NewStore(NewMemory())
	require.NoError(t, s.Upsert([]byte("a"), []byte("1"), 1))
	require.NoError(t, s.Upsert([]byte("z"), []byte("2"), 1))

	it, err := s.Range([]byte("a"), []byte{})
	require.NoError(t, err)
	defer it.Release()

	n := 0
	for it.Next() {
		n++
	}
	assert.Equal(t, 2, n)
}
