package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryItem stores an encoded value with expiration and insertion order.
type MemoryItem struct {
	Data     []byte
	ExpireAt time.Time
	seq      uint64
}

// MemoryCache implements Service using in-memory storage. When full it
// evicts the item that was stored earliest, regardless of reads.
type MemoryCache struct {
	data          map[string]*MemoryItem
	seq           uint64
	mutex         sync.RWMutex
	maxSize       int
	onEvict       func(string)
	now           func() time.Time
	cleanupTicker *time.Ticker
	done          chan struct{}
	closeOnce     sync.Once
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         100,
		CleanupInterval: 5 * time.Minute,
		Now:             time.Now,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		data:          make(map[string]*MemoryItem),
		maxSize:       cfg.MaxSize,
		onEvict:       cfg.OnEvict,
		now:           cfg.Now,
		cleanupTicker: time.NewTicker(cfg.CleanupInterval),
		done:          make(chan struct{}),
	}

	go mc.cleanupExpired()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	expireAt := mc.now().Add(expiration)
	if expiration <= 0 {
		expireAt = mc.now().Add(7 * 24 * time.Hour) // default 7 days
	}

	var evicted []string
	mc.mutex.Lock()
	if _, exists := mc.data[key]; !exists {
		for len(mc.data) >= mc.maxSize {
			k := mc.evictOldest()
			if k == "" {
				break
			}
			evicted = append(evicted, k)
		}
	}
	mc.seq++
	mc.data[key] = &MemoryItem{
		Data:     data,
		ExpireAt: expireAt,
		seq:      mc.seq,
	}
	mc.mutex.Unlock()

	if mc.onEvict != nil {
		for _, k := range evicted {
			mc.onEvict(k)
		}
	}
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mutex.Lock()
	item, exists := mc.data[key]
	if exists && mc.expired(item) {
		delete(mc.data, key)
		exists = false
	}
	mc.mutex.Unlock()

	if !exists {
		return ErrCacheMiss
	}
	return decode(item.Data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for _, key := range keys {
		delete(mc.data, key)
	}
	return nil
}

func (mc *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if pattern == "" {
		mc.data = make(map[string]*MemoryItem)
		return nil
	}
	for key := range mc.data {
		if matches(key, pattern) {
			delete(mc.data, key)
		}
	}
	return nil
}

// Keys lists live keys containing pattern, oldest stored first.
func (mc *MemoryCache) Keys(_ context.Context, pattern string) ([]string, error) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	type kv struct {
		key string
		seq uint64
	}
	found := make([]kv, 0, len(mc.data))
	for key, item := range mc.data {
		if mc.expired(item) || !matches(key, pattern) {
			continue
		}
		found = append(found, kv{key: key, seq: item.seq})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })

	keys := make([]string, len(found))
	for i, f := range found {
		keys[i] = f.key
	}
	return keys, nil
}

// Len returns the number of stored items, expired ones included.
func (mc *MemoryCache) Len() int {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	return len(mc.data)
}

func (mc *MemoryCache) expired(item *MemoryItem) bool {
	return mc.now().After(item.ExpireAt)
}

// evictOldest removes the earliest stored item. Caller holds the lock.
func (mc *MemoryCache) evictOldest() string {
	var (
		oldestKey string
		oldestSeq uint64
	)
	for key, item := range mc.data {
		if oldestKey == "" || item.seq < oldestSeq {
			oldestKey = key
			oldestSeq = item.seq
		}
	}
	if oldestKey != "" {
		delete(mc.data, oldestKey)
	}
	return oldestKey
}

func (mc *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-mc.done:
			return
		case <-mc.cleanupTicker.C:
			mc.mutex.Lock()
			for key, item := range mc.data {
				if mc.expired(item) {
					delete(mc.data, key)
				}
			}
			mc.mutex.Unlock()
		}
	}
}

// Close stops the cleanup loop.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		mc.cleanupTicker.Stop()
		close(mc.done)
	})
	return nil
}
