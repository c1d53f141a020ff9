package cache

import (
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	expires time.Time
	bytes   []byte
}

// MemCache is an in-memory Provider backed by a plain map. It is the
// default store of the middleware and the one to use in tests.
type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]memEntry
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]memEntry),
	}
}

func (m MemCache) Get(key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[key]
	if !ok {
		return nil, false, nil
	}
	if expired(entry.expires, time.Now()) {
		return nil, false, nil
	}
	return entry.bytes, true, nil
}

func (m MemCache) All(prefix string) ([]Entry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	now := time.Now()
	entries := make([]Entry, 0)
	for key, val := range m.db {
		if !strings.HasPrefix(key, prefix) || expired(val.expires, now) {
			continue
		}
		entries = append(entries, Entry{Key: key, Expires: val.expires, Bytes: val.bytes})
	}
	return entries, nil
}

func (m MemCache) Put(key string, expires time.Time, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[key] = memEntry{expires, bytes}
	return nil
}

func (m MemCache) Purge(prefix string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for key := range m.db {
		if strings.HasPrefix(key, prefix) {
			delete(m.db, key)
		}
	}
	return nil
}
