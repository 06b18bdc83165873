package storage

import (
	"github.com/pkg/errors"

	"dynakv/internal/record"
)

// Store keeps timestamped records in an Engine. Deletes write tombstones;
// nothing is physically removed at this layer.
type Store struct {
	engine Engine
}

// NewStore wraps an engine.
func NewStore(engine Engine) *Store {
	return &Store{engine: engine}
}

// Get returns the stored record, or Missing when the key was never written.
func (s *Store) Get(key []byte) (record.Record, error) {
	raw, err := s.engine.Get(key)
	if err == ErrNotFound {
		raw = nil
	} else if err != nil {
		return record.Record{}, errors.Wrap(err, "get")
	}

	rec, err := record.Decode(raw)
	if err != nil {
		return record.Record{}, errors.Wrapf(err, "decode stored record for key %q", key)
	}
	return rec, nil
}

// Upsert stores value for key at the given timestamp.
func (s *Store) Upsert(key, value []byte, timestamp int64) error {
	return s.put(key, record.NewValue(value, timestamp))
}

// Remove stores a tombstone for key at the given timestamp.
func (s *Store) Remove(key []byte, timestamp int64) error {
	return s.put(key, record.NewTombstone(timestamp))
}

func (s *Store) put(key []byte, rec record.Record) error {
	return errors.Wrap(s.engine.Put(key, record.Encode(rec)), "put")
}

// Range returns the live entries in [start, end). A nil or empty end means
// no upper bound. The caller must Release the iterator.
func (s *Store) Range(start, end []byte) (*RangeIterator, error) {
	if len(end) == 0 {
		end = nil
	}
	it, err := s.engine.Range(start, end)
	if err != nil {
		return nil, errors.Wrap(err, "range")
	}
	return &RangeIterator{iter: it}, nil
}

// Compact asks the engine to reclaim space.
func (s *Store) Compact() error {
	return s.engine.Compact()
}

// Close closes the engine.
func (s *Store) Close() error {
	return s.engine.Close()
}

// RangeIterator yields live (key, value) pairs, skipping tombstones.
type RangeIterator struct {
	iter    Iterator
	key     []byte
	value   []byte
	skipped int
	err     error
}

// Next advances to the next live entry.
func (r *RangeIterator) Next() bool {
	for r.err == nil && r.iter.Next() {
		rec, err := record.Decode(r.iter.Value())
		if err != nil {
			r.skipped++
			continue
		}
		if !rec.IsValue() {
			continue
		}
		r.key = append(r.key[:0], r.iter.Key()...)
		r.value = rec.Value()
		return true
	}
	if r.err == nil {
		r.err = r.iter.Error()
	}
	return false
}

// Key returns the current key. Valid until the next call to Next.
func (r *RangeIterator) Key() []byte { return r.key }

// Value returns the current value.
func (r *RangeIterator) Value() []byte { return r.value }

// Err returns the first iteration error, if any.
func (r *RangeIterator) Err() error { return r.err }

// Skipped returns how many undecodable entries were passed over.
func (r *RangeIterator) Skipped() int { return r.skipped }

// Release frees the underlying engine iterator.
func (r *RangeIterator) Release() {
	r.iter.Release()
}
