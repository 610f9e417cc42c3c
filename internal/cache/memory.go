package cache

import (
	"context"
	"sort"
	"sync"
)

// NewMemoryStorage 构建进程内存储，主要用于测试与单机临时部署。
func NewMemoryStorage() Storage {
	return &memoryStorage{generations: make(map[string]*memoryCache)}
}

type memoryStorage struct {
	mu          sync.RWMutex
	generations map[string]*memoryCache
}

type memoryCache struct {
	name string

	mu      sync.RWMutex
	entries map[Key]*Entry
}

func (s *memoryStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.generations[name]
	if !ok {
		gen = &memoryCache{name: name, entries: make(map[Key]*Entry)}
		s.generations[name] = gen
	}
	return gen, nil
}

func (s *memoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.generations[name]
	if !ok {
		return false, nil
	}
	delete(s.generations, name)
	// 已发出的句柄与持久化驱动一致：删除后读不到旧条目。
	gen.mu.Lock()
	gen.entries = map[Key]*Entry{}
	gen.mu.Unlock()
	return true, nil
}

func (s *memoryStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.generations))
	for name := range s.generations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memoryStorage) Close() error {
	return nil
}

func (c *memoryCache) Name() string {
	return c.name
}

func (c *memoryCache) Match(ctx context.Context, key Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.Clone(), nil
}

func (c *memoryCache) Put(ctx context.Context, key Key, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEntry(key, entry); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry.Clone()
	return nil
}

func (c *memoryCache) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]Key, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys, nil
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}
