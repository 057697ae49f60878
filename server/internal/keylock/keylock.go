// Package keylock provides a mutex per key so that mutations of one entity
// are serialized while unrelated entities proceed concurrently.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map is a set of mutexes addressed by string key. The zero value is ready
// to use. Entries are freed once no goroutine holds or waits for them.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Lock acquires the mutex for key and returns the function that releases it.
//
//	unlock := locks.Lock("poll:" + id)
//	defer unlock()
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	if m.entries == nil {
		m.entries = make(map[string]*entry)
	}
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			m.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(m.entries, key)
			}
			m.mu.Unlock()
		})
	}
}

// Len returns the number of keys currently held or awaited.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
