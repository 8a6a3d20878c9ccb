package audiocache

import (
	"context"
	"sync"
	"sync/atomic"

	"narrator-server-go/internal/domain/audio"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryStore struct {
	mu    sync.RWMutex
	items map[string]*audio.Buffer

	// 非空时启用容量上限
	bounded  *lru.Cache[string, *audio.Buffer]
	capacity int

	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemory builds an in-process store. MaxEntries > 0 bounds it with an LRU.
func NewMemory(cfg Config) (Store, error) {
	s := &memoryStore{capacity: cfg.MaxEntries}
	if cfg.MaxEntries > 0 {
		c, err := lru.New[string, *audio.Buffer](cfg.MaxEntries)
		if err != nil {
			return nil, err
		}
		s.bounded = c
		return s, nil
	}
	s.items = make(map[string]*audio.Buffer)
	return s, nil
}

func (s *memoryStore) Get(_ context.Context, key string) (*audio.Buffer, bool, error) {
	var (
		buf *audio.Buffer
		ok  bool
	)
	if s.bounded != nil {
		buf, ok = s.bounded.Get(key)
	} else {
		s.mu.RLock()
		buf, ok = s.items[key]
		s.mu.RUnlock()
	}
	if ok {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	return buf, ok, nil
}

func (s *memoryStore) Put(_ context.Context, key string, buf *audio.Buffer, _ Meta) error {
	if buf == nil {
		return nil
	}
	if s.bounded != nil {
		s.bounded.ContainsOrAdd(key, buf)
		return nil
	}
	s.mu.Lock()
	if _, exists := s.items[key]; !exists {
		s.items[key] = buf
	}
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	if s.bounded != nil {
		s.bounded.Remove(key)
		return nil
	}
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Len(context.Context) (int, error) {
	if s.bounded != nil {
		return s.bounded.Len(), nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}

func (s *memoryStore) Stats(ctx context.Context) (map[string]any, error) {
	n, _ := s.Len(ctx)
	return map[string]any{
		"type":     DriverMemory,
		"entries":  n,
		"capacity": s.capacity,
		"hits":     s.hits.Load(),
		"misses":   s.misses.Load(),
	}, nil
}

func (s *memoryStore) Close(context.Context) error {
	if s.bounded != nil {
		s.bounded.Purge()
		return nil
	}
	s.mu.Lock()
	s.items = make(map[string]*audio.Buffer)
	s.mu.Unlock()
	return nil
}
