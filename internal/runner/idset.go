package runner

import (
	"container/list"
	"sync"
)

// idSet remembers dispatched run keys, evicting the oldest once full. A
// Registry shares one set across its sessions so the record survives
// session eviction.
type idSet struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // oldest at front
	maxSize int
}

func newIDSet(maxSize int) *idSet {
	return &idSet{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

func (s *idSet) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[key]
	return ok
}

func (s *idSet) add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return
	}
	if len(s.seen) >= s.maxSize {
		front := s.order.Front()
		if front != nil {
			old, _ := front.Value.(string)
			s.order.Remove(front)
			delete(s.seen, old)
		}
	}
	s.seen[key] = s.order.PushBack(key)
}

func (s *idSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
