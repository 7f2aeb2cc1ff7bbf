package store

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-process Store used by tests and single-node
// deployments without Redis.
type MemoryStore struct {
	mu   sync.Mutex
	kv   map[string]memEntry
	sets map[string]map[string]struct{}
	now  func() time.Time
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:   make(map[string]memEntry),
		sets: make(map[string]map[string]struct{}),
		now:  time.Now,
	}
}

func (s *MemoryStore) get(key string) (string, bool) {
	e, ok := s.kv[key]
	if !ok || e.expired(s.now()) {
		delete(s.kv, key)
		return "", false
	}
	return e.value, true
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.get(key)
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = memEntry{value: value}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.get(key); ok {
		return false, nil
	}
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.kv[key] = e
	return true, nil
}

func (s *MemoryStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

func (s *MemoryStore) CompareAndDelete(_ context.Context, key, expect string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.get(key)
	if !ok || val != expect {
		return false, nil
	}
	delete(s.kv, key)
	return true, nil
}

func (s *MemoryStore) CompareAndExpire(_ context.Context, key, expect string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.get(key)
	if !ok || val != expect {
		return false, nil
	}
	s.kv[key] = memEntry{value: val, expiresAt: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) SAdd(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sadd(key, member)
	return nil
}

func (s *MemoryStore) sadd(key, member string) {
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
}

func (s *MemoryStore) SRem(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.srem(key, member)
	return nil
}

func (s *MemoryStore) srem(key, member string) {
	if set, ok := s.sets[key]; ok {
		delete(set, member)
		if len(set) == 0 {
			delete(s.sets, key)
		}
	}
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}

func (s *MemoryStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return false, nil
	}
	_, ok = set[member]
	return ok, nil
}

type memOp struct {
	kind   int // 0 set, 1 del, 2 sadd, 3 srem
	key    string
	member string
	value  string
}

type memPipeline struct {
	ops []memOp
}

func (p *memPipeline) Set(key, value string)   { p.ops = append(p.ops, memOp{kind: 0, key: key, value: value}) }
func (p *memPipeline) Del(key string)          { p.ops = append(p.ops, memOp{kind: 1, key: key}) }
func (p *memPipeline) SAdd(key, member string) { p.ops = append(p.ops, memOp{kind: 2, key: key, member: member}) }
func (p *memPipeline) SRem(key, member string) { p.ops = append(p.ops, memOp{kind: 3, key: key, member: member}) }

func (s *MemoryStore) Pipeline(_ context.Context, fn func(p Pipeline)) error {
	p := &memPipeline{}
	fn(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range p.ops {
		switch op.kind {
		case 0:
			s.kv[op.key] = memEntry{value: op.value}
		case 1:
			delete(s.kv, op.key)
		case 2:
			s.sadd(op.key, op.member)
		case 3:
			s.srem(op.key, op.member)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
