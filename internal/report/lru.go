package report

import (
	"fmt"
	"sync"
)

// LRUStore keeps recent records in memory and delegates to a backing Store
// on miss.
type LRUStore struct {
	mu   sync.Mutex
	cap  int
	back Store

	// most recent at head
	head, tail *lruEntry
	items      map[string]*lruEntry
}

type lruEntry struct {
	key  string
	rec  *Record
	prev *lruEntry
	next *lruEntry
}

// NewLRUStore creates a cache holding up to cap records in front of back.
// back may be nil for a memory-only store.
func NewLRUStore(cap int, back Store) *LRUStore {
	if cap < 1 {
		cap = 1
	}
	return &LRUStore{
		cap:   cap,
		back:  back,
		items: make(map[string]*lruEntry, cap),
	}
}

// Save caches rec and writes it through to the backing store.
func (s *LRUStore) Save(rec *Record) error {
	s.mu.Lock()
	s.put(rec.ID, rec)
	s.mu.Unlock()

	if s.back == nil {
		return nil
	}
	return s.back.Save(rec)
}

// Load checks the cache first. On miss it loads from the backing store and
// promotes the record into the cache.
func (s *LRUStore) Load(id string) (*Record, error) {
	s.mu.Lock()
	if e, ok := s.items[id]; ok {
		s.moveToFront(e)
		rec := e.rec
		s.mu.Unlock()
		return rec, nil
	}
	s.mu.Unlock()

	if s.back == nil {
		return nil, fmt.Errorf("run %s not found", id)
	}
	rec, err := s.back.Load(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.put(id, rec)
	s.mu.Unlock()
	return rec, nil
}

// put inserts or refreshes an entry. Caller holds s.mu.
func (s *LRUStore) put(id string, rec *Record) {
	if e, ok := s.items[id]; ok {
		e.rec = rec
		s.moveToFront(e)
		return
	}
	e := &lruEntry{key: id, rec: rec}
	s.items[id] = e
	s.pushFront(e)
	if len(s.items) > s.cap {
		s.evict()
	}
}

func (s *LRUStore) pushFront(e *lruEntry) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (s *LRUStore) moveToFront(e *lruEntry) {
	if s.head == e {
		return
	}
	s.remove(e)
	s.pushFront(e)
}

func (s *LRUStore) remove(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (s *LRUStore) evict() {
	if s.tail == nil {
		return
	}
	e := s.tail
	s.remove(e)
	delete(s.items, e.key)
}
