package mapfeed

import (
	"sync"
	"time"
)

// Store is a thread-safe holder of the most recently loaded objects.
type Store struct {
	mu       sync.RWMutex
	objects  []Object
	loaded   bool
	loadedAt time.Time
	now      func() time.Time // injectable for deterministic tests
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

// Put replaces the stored objects. Callers must not modify objs afterwards.
func (s *Store) Put(objs []Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = objs
	s.loaded = true
	s.loadedAt = s.now()
}

// List returns a copy of the stored objects, never nil.
func (s *Store) List() []Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Object, len(s.objects))
	copy(out, s.objects)
	return out
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// LoadedAt reports when Put was last called and whether it ever was.
func (s *Store) LoadedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt, s.loaded
}
