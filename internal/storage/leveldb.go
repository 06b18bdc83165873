package storage

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is an Engine backed by goleveldb. Its default comparator is
// bytewise, so raw keys are stored untransformed.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens or creates a database in dir.
func OpenLevelDB(dir string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{
		Compression: opt.NoCompression,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb at %s", dir)
	}
	return &LevelDB{db: db}, nil
}

// OpenLevelDBMemory opens a database held entirely in memory.
func OpenLevelDBMemory() (*LevelDB, error) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "open in-memory leveldb")
	}
	return &LevelDB{db: db}, nil
}

// Get gets a value for a given key.
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err == leveldb.ErrClosed {
		return nil, ErrClosed
	}
	return v, errors.WithStack(err)
}

// Put stores a key-value pair.
func (l *LevelDB) Put(key, value []byte) error {
	return l.wrap(l.db.Put(key, value, nil))
}

// Delete removes a key-value pair for a given key.
func (l *LevelDB) Delete(key []byte) error {
	return l.wrap(l.db.Delete(key, nil))
}

// Range opens an iterator over [start, end).
func (l *LevelDB) Range(start, end []byte) (Iterator, error) {
	iter := l.db.NewIterator(&util.Range{Start: start, Limit: end}, nil)
	if err := iter.Error(); err != nil {
		iter.Release()
		return nil, l.wrap(err)
	}
	return &levelIterator{iter: iter}, nil
}

// Compact compacts the whole key space.
func (l *LevelDB) Compact() error {
	return l.wrap(l.db.CompactRange(util.Range{}))
}

// Close closes the database.
func (l *LevelDB) Close() error {
	return l.wrap(l.db.Close())
}

func (l *LevelDB) wrap(err error) error {
	if err == leveldb.ErrClosed {
		return ErrClosed
	}
	return errors.WithStack(err)
}

type levelIterator struct {
	iter     iterator.Iterator
	released bool
}

func (it *levelIterator) Next() bool {
	if it.released {
		return false
	}
	return it.iter.Next()
}

func (it *levelIterator) Key() []byte   { return it.iter.Key() }
func (it *levelIterator) Value() []byte { return it.iter.Value() }
func (it *levelIterator) Error() error  { return it.iter.Error() }

func (it *levelIterator) Release() {
	if it.released {
		return
	}
	it.released = true
	it.iter.Release()
}
