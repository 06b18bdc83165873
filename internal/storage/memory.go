package storage

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

const btreeDegree = 32

type memItem struct {
	key   []byte
	value []byte
}

func (it memItem) Less(than btree.Item) bool {
	return bytes.Compare(it.key, than.(memItem).key) < 0
}

// Memory is an in-memory Engine ordered by a B-tree. Range iterators work on
// a copy-on-write snapshot, so writes never disturb a running scan.
type Memory struct {
	mu     sync.RWMutex
	tree   *btree.BTree
	closed bool
}

// NewMemory creates an empty in-memory engine.
func NewMemory() *Memory {
	return &Memory{tree: btree.New(btreeDegree)}
}

// Get retrieves a value by key.
func (m *Memory) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	item := m.tree.Get(memItem{key: key})
	if item == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), item.(memItem).value...), nil
}

// Put stores a copy of value under a copy of key.
func (m *Memory) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.tree.ReplaceOrInsert(memItem{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
	return nil
}

// Delete removes a key. No error if the key doesn't exist.
func (m *Memory) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.tree.Delete(memItem{key: key})
	return nil
}

// Range iterates a snapshot of [start, end).
func (m *Memory) Range(start, end []byte) (Iterator, error) {
	// Clone must not run concurrently with other tree operations.
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	return &memIterator{
		tree:  m.tree.Clone(),
		next:  append([]byte(nil), start...),
		end:   end,
		first: true,
	}, nil
}

// Compact is a no-op for the in-memory engine.
func (m *Memory) Compact() error {
	return nil
}

// Close drops all data.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.tree = btree.New(btreeDegree)
	return nil
}

// memIterator pulls one item per Next from its snapshot, seeking from the
// last returned key, so nothing is materialized up front.
type memIterator struct {
	tree  *btree.BTree
	next  []byte
	end   []byte
	first bool
	cur   *memItem
}

func (it *memIterator) Next() bool {
	if it.tree == nil {
		return false
	}

	var found *memItem
	it.tree.AscendGreaterOrEqual(memItem{key: it.next}, func(i btree.Item) bool {
		item := i.(memItem)
		if !it.first && bytes.Equal(item.key, it.next) {
			return true
		}
		found = &item
		return false
	})

	if found == nil || (it.end != nil && bytes.Compare(found.key, it.end) >= 0) {
		it.cur = nil
		it.Release()
		return false
	}

	it.first = false
	it.cur = found
	it.next = found.key
	return true
}

func (it *memIterator) Key() []byte {
	if it.cur == nil {
		return nil
	}
	return it.cur.key
}

func (it *memIterator) Value() []byte {
	if it.cur == nil {
		return nil
	}
	return it.cur.value
}

func (it *memIterator) Error() error { return nil }

func (it *memIterator) Release() {
	it.tree = nil
}
