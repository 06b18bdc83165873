package storage

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned by Engine.Get for absent keys.
	ErrNotFound = errors.New("key not found")
	// ErrClosed is returned after the engine has been closed.
	ErrClosed = errors.New("storage closed")
)

// Engine is an ordered byte-key store. Implementations must be safe for
// concurrent use and iterate keys in bytewise order.
type Engine interface {
	// Get returns ErrNotFound when the key is absent.
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// Range iterates keys in [start, end). A nil end means no upper bound.
	// The returned iterator must always be released.
	Range(start, end []byte) (Iterator, error)
	// Compact asks the engine to reclaim space. It may be a no-op.
	Compact() error
	Close() error
}

// Iterator walks a key range forward. Key and Value are only valid until the
// next call to Next.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	// Release frees the iterator's resources. Safe to call more than once.
	Release()
}
