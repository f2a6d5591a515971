package cache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	s:<version>              store marker, value is the creation time
//	e:<version>\x00<key>     gob encoded entry
//	a                        name of the active version
var (
	storePrefix = []byte("s:")
	entryPrefix = []byte("e:")
	activeKey   = []byte("a")
)

type levelEntry struct {
	StoredAt int64
	Bytes    []byte
}

type LevelDBCache struct {
	db         *leveldb.DB
	writeMutex *sync.Mutex
}

// NewLevelDBCache opens (or creates) a leveldb database in the given directory.
func NewLevelDBCache(path string) (LevelDBCache, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return LevelDBCache{}, err
	}
	return LevelDBCache{db: db, writeMutex: &sync.Mutex{}}, nil
}

func storeKey(version string) []byte {
	return append(append([]byte{}, storePrefix...), version...)
}

func entryVersionPrefix(version string) []byte {
	k := append(append([]byte{}, entryPrefix...), version...)
	return append(k, 0)
}

func entryKey(version, key string) []byte {
	return append(entryVersionPrefix(version), key...)
}

func (l LevelDBCache) Replace(version string, entries []CacheEntry) error {
	if err := CheckVersion(version); err != nil {
		return err
	}
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()

	batch := new(leveldb.Batch)
	if err := l.deleteEntries(batch, version); err != nil {
		return err
	}
	if ok, err := l.db.Has(storeKey(version), nil); err != nil {
		return err
	} else if !ok {
		batch.Put(storeKey(version), []byte(time.Now().UTC().Format(time.RFC3339)))
	}
	for _, e := range entries {
		b, err := encodeGob(levelEntry{StoredAt: e.StoredAt.Unix(), Bytes: e.Bytes})
		if err != nil {
			return err
		}
		batch.Put(entryKey(version, e.Key), b)
	}
	return l.db.Write(batch, nil)
}

func (l LevelDBCache) Get(version, key string) (CacheEntry, bool, error) {
	b, err := l.db.Get(entryKey(version, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	var le levelEntry
	if err := decodeGob(b, &le); err != nil {
		return CacheEntry{}, false, err
	}
	return CacheEntry{Key: key, StoredAt: time.Unix(le.StoredAt, 0), Bytes: le.Bytes}, true, nil
}

func (l LevelDBCache) Keys(version string, cb func(string)) error {
	prefix := entryVersionPrefix(version)
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	keys := make([]string, 0)
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (l LevelDBCache) Versions() ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix(storePrefix), nil)
	defer it.Release()
	out := make([]string, 0)
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), storePrefix)))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (l LevelDBCache) Delete(version string) error {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()

	batch := new(leveldb.Batch)
	if err := l.deleteEntries(batch, version); err != nil {
		return err
	}
	batch.Delete(storeKey(version))
	if active, err := l.active(); err != nil {
		return err
	} else if active == version {
		batch.Delete(activeKey)
	}
	return l.db.Write(batch, nil)
}

func (l LevelDBCache) SetActive(version string) error {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	ok, err := l.db.Has(storeKey(version), nil)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	return l.db.Put(activeKey, []byte(version), nil)
}

func (l LevelDBCache) Active() (string, error) {
	return l.active()
}

func (l LevelDBCache) Close() error {
	return l.db.Close()
}

func (l LevelDBCache) active() (string, error) {
	b, err := l.db.Get(activeKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// deleteEntries adds deletes for every entry of version to the batch.
func (l LevelDBCache) deleteEntries(batch *leveldb.Batch, version string) error {
	it := l.db.NewIterator(util.BytesPrefix(entryVersionPrefix(version)), nil)
	defer it.Release()
	for it.Next() {
		batch.Delete(append([]byte{}, it.Key()...))
	}
	return it.Error()
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
