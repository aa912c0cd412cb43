package cache

import (
	"context"
	"time"

	"github.com/annel0/voxelgen/internal/config"
)

// MeshCache определяет интерфейс горячего кеша сериализованной геометрии.
// Ключом служит хеш содержимого воксельного буфера, поэтому повторный
// мешинг идентичного чанка попадает в кеш независимо от координат.
//
// Использование:
//
//	cache, err := NewMeshCache(cfg.Cache, nil)
//	data, err := cache.Get(ctx, MeshKey(hash))
//	err = cache.Set(ctx, MeshKey(hash), data, 5*time.Minute)
type MeshCache interface {
	// Get получает значение по ключу из кеша.
	// Возвращает ErrCacheMiss если ключ не найден.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение в кеше с указанным TTL.
	// TTL = 0 означает отсутствие истечения.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ из кеша и рассылает уведомление об инвалидации.
	Delete(ctx context.Context, key string) error

	// Exists проверяет существование ключа в кеше.
	Exists(ctx context.Context, key string) (bool, error)

	// Close закрывает соединение с кешем.
	Close() error

	// Metrics возвращает метрики кеша.
	Metrics() *CacheMetrics
}

// CacheInvalidator управляет инвалидацией кеша через Pub/Sub.
// Нужен когда несколько узлов генерации делят один Redis.
type CacheInvalidator interface {
	// PublishInvalidation отправляет уведомление об инвалидации.
	PublishInvalidation(ctx context.Context, key string) error

	// SubscribeInvalidations подписывается на уведомления об инвалидации.
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error

	// Close закрывает соединение.
	Close() error
}

// InvalidationHandler обрабатывает уведомления об инвалидации кеша.
type InvalidationHandler func(key string) error

// CacheMetrics содержит метрики производительности кеша.
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	LastUpdate time.Time `json:"last_update"`
}

// MeshKey строит ключ кеша по хешу содержимого чанка.
func MeshKey(contentHash string) string {
	return "mesh:" + contentHash
}

// NewMeshCache создаёт кеш по конфигурации.
// Пустой redis_addr означает кеш в памяти процесса, invalidator может быть nil.
func NewMeshCache(cfg config.CacheConfig, invalidator CacheInvalidator) (MeshCache, error) {
	if cfg.RedisAddr == "" {
		return NewMemoryMeshCache(), nil
	}
	return NewRedisMeshCache(cfg.RedisAddr, cfg.RedisDB, invalidator)
}

// Ошибки кеша
var (
	ErrCacheMiss    = NewCacheError("cache miss")
	ErrCacheTimeout = NewCacheError("cache timeout")
	ErrInvalidKey   = NewCacheError("invalid key")
)

// CacheError представляет ошибку кеша.
type CacheError struct {
	Message string
}

func (e *CacheError) Error() string {
	return e.Message
}

func NewCacheError(message string) *CacheError {
	return &CacheError{Message: message}
}

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return err == ErrCacheMiss
}
