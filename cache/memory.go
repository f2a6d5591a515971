package cache

import (
	"fmt"
	"sort"
	"sync"
)

type MemCache struct {
	mutex  *sync.RWMutex
	db     map[string]map[string]CacheEntry
	active *string
}

func NewMemCache() MemCache {
	return MemCache{
		mutex:  &sync.RWMutex{},
		db:     make(map[string]map[string]CacheEntry),
		active: new(string),
	}
}

func (m MemCache) Replace(version string, entries []CacheEntry) error {
	if err := CheckVersion(version); err != nil {
		return err
	}
	store := make(map[string]CacheEntry, len(entries))
	for _, e := range entries {
		e.Bytes = append([]byte{}, e.Bytes...)
		store[e.Key] = e
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[version] = store
	return nil
}

func (m MemCache) Get(version, key string) (CacheEntry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[version][key]
	return entry, ok, nil
}

func (m MemCache) Keys(version string, cb func(string)) error {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.db[version]))
	for key := range m.db[version] {
		keys = append(keys, key)
	}
	m.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (m MemCache) Versions() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]string, 0, len(m.db))
	for version := range m.db {
		out = append(out, version)
	}
	sort.Strings(out)
	return out, nil
}

func (m MemCache) Delete(version string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, version)
	if *m.active == version {
		*m.active = ""
	}
	return nil
}

func (m MemCache) SetActive(version string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.db[version]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	*m.active = version
	return nil
}

func (m MemCache) Active() (string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return *m.active, nil
}

func (m MemCache) Close() error {
	return nil
}
