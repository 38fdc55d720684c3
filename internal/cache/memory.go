package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

var _ Cache = (*Memory)(nil)

// Memory is an in-process Cache backed by ttlcache.
type Memory struct {
	mu    sync.Mutex
	items *ttlcache.Cache[string, string]
}

// NewMemory creates an empty in-memory cache. Expired entries are dropped
// lazily on access; call Start to also sweep them in the background.
func NewMemory() *Memory {
	return &Memory{
		items: ttlcache.New(
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
	}
}

// Start runs the expiry sweep until Close is called. It blocks.
func (m *Memory) Start() {
	m.items.Start()
}

// Close stops the background sweep started by Start.
func (m *Memory) Close() {
	m.items.Stop()
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	if item := m.items.Get(key); item != nil && !item.IsExpired() {
		return item.Value(), true, nil
	}
	// ttlcache hides expired items but keeps them until the next sweep.
	m.mu.Lock()
	defer m.mu.Unlock()
	if item := m.items.Get(key); item != nil && !item.IsExpired() {
		return item.Value(), true, nil
	}
	m.items.Delete(key)
	return "", false, nil
}

func (m *Memory) Put(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl <= 0 {
		m.items.Delete(key)
		return nil
	}
	m.items.Set(key, value, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.Delete(key)
	return nil
}

func (m *Memory) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("cache: increment %q: ttl must be positive", key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	if item := m.items.Get(key); item != nil && !item.IsExpired() {
		cur, err := strconv.ParseInt(item.Value(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cache: increment %q: value is not an integer", key)
		}
		n = cur
	}
	n++
	m.items.Set(key, strconv.FormatInt(n, 10), ttl)
	return n, nil
}

func (m *Memory) Take(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items.GetAndDelete(key)
	if !ok || item == nil || item.IsExpired() {
		return "", false, nil
	}
	return item.Value(), true, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// Len reports the number of entries, including expired ones not yet swept.
func (m *Memory) Len() int {
	return m.items.Len()
}
