package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// janitorInterval задаёт период фоновой очистки истёкших ключей.
const janitorInterval = 30 * time.Second

// MemoryMeshCache хранит геометрию в памяти процесса.
// Используется в разработке и в тестах, когда Redis недоступен.
type MemoryMeshCache struct {
	mu    sync.RWMutex
	items map[string]memoryCacheItem

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	totalRequests int64
	hits          int64
	misses        int64
}

type memoryCacheItem struct {
	value     []byte
	expiresAt time.Time // нулевое время означает отсутствие истечения
}

// NewMemoryMeshCache создаёт кеш в памяти и запускает фоновую очистку.
func NewMemoryMeshCache() *MemoryMeshCache {
	c := &MemoryMeshCache{
		items:  make(map[string]memoryCacheItem),
		stopCh: make(chan struct{}),
	}

	c.wg.Add(1)
	go c.janitor()

	return c
}

// Get получает значение по ключу. Истёкшие ключи считаются промахом.
func (c *MemoryMeshCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	atomic.AddInt64(&c.totalRequests, 1)

	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || item.expired(time.Now()) {
		atomic.AddInt64(&c.misses, 1)
		return nil, ErrCacheMiss
	}

	atomic.AddInt64(&c.hits, 1)
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

// Set сохраняет значение. TTL = 0 означает отсутствие истечения.
func (c *MemoryMeshCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	item := memoryCacheItem{value: stored}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.items[key] = item
	c.mu.Unlock()
	return nil
}

// Delete удаляет ключ. Отсутствующий ключ не считается ошибкой.
func (c *MemoryMeshCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// Exists проверяет существование ключа.
func (c *MemoryMeshCache) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	return ok && !item.expired(time.Now()), nil
}

// Close останавливает фоновую очистку.
func (c *MemoryMeshCache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	return nil
}

// Metrics возвращает метрики кеша.
func (c *MemoryMeshCache) Metrics() *CacheMetrics {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)

	m := &CacheMetrics{
		TotalRequests: atomic.LoadInt64(&c.totalRequests),
		CacheHits:     hits,
		CacheMisses:   misses,
		LastUpdate:    time.Now(),
	}
	if total := hits + misses; total > 0 {
		m.HitRatio = float64(hits) / float64(total)
	}
	return m
}

// janitor периодически выметает истёкшие ключи.
func (c *MemoryMeshCache) janitor() {
	defer c.wg.Done()

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, item := range c.items {
				if item.expired(now) {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

func (i memoryCacheItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}
