package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/voxelgen/internal/cache"
	"github.com/annel0/voxelgen/internal/eventbus"
	"github.com/annel0/voxelgen/internal/logging"
	"github.com/annel0/voxelgen/internal/mesh"
	"github.com/annel0/voxelgen/internal/storage"
	"github.com/annel0/voxelgen/internal/world"
)

// Источник запроса для журнала генерации и событий.
const (
	OriginREST  = "rest"
	OriginKCP   = "kcp"
	OriginTCP   = "tcp"
	OriginBatch = "batch"
)

// ChunkService связывает пул генерации с хранилищем, журналом, кешем меша
// и шиной событий. REST и KCP/TCP серверы работают только через него.
//
// Любая из зависимостей кроме пула может быть nil: сервис тогда пропускает
// соответствующий шаг. Ошибки персистентности логируются и не прерывают
// запрос, ответ клиенту важнее журнала.
type ChunkService struct {
	pool      *WorkerPool
	pipe      *ChunkPipeline
	store     storage.ChunkStore
	journal   storage.GenerationJournal
	meshCache cache.MeshCache
	bus       eventbus.EventBus
	cacheTTL  time.Duration
	log       *logging.Logger
}

// ServiceOptions перечисляет зависимости ChunkService.
type ServiceOptions struct {
	Pool     *WorkerPool
	Pipeline *ChunkPipeline
	Store    storage.ChunkStore
	Journal  storage.GenerationJournal
	Cache    cache.MeshCache
	Bus      eventbus.EventBus
	CacheTTL time.Duration
}

// NewChunkService создаёт сервис. Pool и Pipeline обязательны.
func NewChunkService(opts ServiceOptions) *ChunkService {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ChunkService{
		pool:      opts.Pool,
		pipe:      opts.Pipeline,
		store:     opts.Store,
		journal:   opts.Journal,
		meshCache: opts.Cache,
		bus:       opts.Bus,
		cacheTTL:  ttl,
		log:       logging.GetPipelineLogger(),
	}
}

// Generate генерирует чанк через пул, сохраняет его и публикует событие.
func (s *ChunkService) Generate(ctx context.Context, chunkX, chunkZ int, seed int64, origin string) (*ChunkResult, error) {
	jobID := uuid.NewString()

	res, err := s.pool.GenerateSync(ctx, chunkX, chunkZ, seed)
	if err != nil {
		return nil, err
	}

	s.persist(ctx, jobID, res, origin)
	return res, nil
}

// BatchCoord - координаты одного чанка в пакетном запросе.
type BatchCoord struct {
	ChunkX int `json:"chunk_x"`
	ChunkZ int `json:"chunk_z"`
}

// BatchItem - результат генерации одного чанка из пакета.
type BatchItem struct {
	ChunkX int
	ChunkZ int
	Result *ChunkResult
	Err    error
}

// GenerateBatch генерирует набор чанков одного мира параллельно.
// Порядок элементов ответа совпадает с порядком координат запроса,
// ошибка одного чанка не отменяет остальные.
func (s *ChunkService) GenerateBatch(ctx context.Context, seed int64, coords []BatchCoord, origin string) []BatchItem {
	items := make([]BatchItem, len(coords))

	var wg sync.WaitGroup
	for i, c := range coords {
		wg.Add(1)
		go func(i int, c BatchCoord) {
			defer wg.Done()
			res, err := s.Generate(ctx, c.ChunkX, c.ChunkZ, seed, origin)
			items[i] = BatchItem{ChunkX: c.ChunkX, ChunkZ: c.ChunkZ, Result: res, Err: err}
		}(i, c)
	}
	wg.Wait()

	return items
}

// RemeshOutcome - результат повторного мешинга готового буфера.
type RemeshOutcome struct {
	Mesh        *mesh.MeshBuffers
	ContentHash string
	FromCache   bool
	Duration    time.Duration
}

// Remesh строит геометрию по буферу вокселей, сперва заглядывая в кеш.
// Промах кеша не является ошибкой.
func (s *ChunkService) Remesh(ctx context.Context, voxels []byte, origin string) (*RemeshOutcome, error) {
	if len(voxels) != world.GridLen {
		return nil, ErrInvalidVoxelBuffer
	}

	hash := ContentHash(voxels)
	key := cache.MeshKey(hash)

	if s.meshCache != nil {
		if data, err := s.meshCache.Get(ctx, key); err == nil {
			var mb mesh.MeshBuffers
			if err := mb.UnmarshalBinary(data); err == nil {
				s.log.Debug("Кеш меша: попадание %s", hash[:12])
				return &RemeshOutcome{Mesh: &mb, ContentHash: hash, FromCache: true}, nil
			}
			// Повреждённая запись: выбрасываем и перестраиваем
			_ = s.meshCache.Delete(ctx, key)
		}
	}

	start := time.Now()
	buffers, err := s.pipe.Remesh(ctx, voxels)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	s.cacheMesh(ctx, hash, buffers)
	s.publish(ctx, eventbus.EventChunkRemeshed, "", eventbus.ChunkEventPayload{
		ContentHash: hash,
		VertexCount: buffers.VertexCount(),
		Origin:      origin,
		DurationMs:  elapsed.Milliseconds(),
	})

	return &RemeshOutcome{Mesh: buffers, ContentHash: hash, Duration: elapsed}, nil
}

// Stored возвращает сохранённый чанк из хранилища.
func (s *ChunkService) Stored(ctx context.Context, key storage.ChunkKey) (*storage.ChunkRecord, error) {
	if s.store == nil {
		return nil, storage.ErrChunkNotFound
	}
	return s.store.Get(ctx, key)
}

// DeleteStored удаляет чанк из хранилища, инвалидирует кеш его меша
// и публикует событие chunk.deleted.
func (s *ChunkService) DeleteStored(ctx context.Context, key storage.ChunkKey) error {
	if s.store == nil {
		return storage.ErrChunkNotFound
	}

	// Хеш нужен до удаления, по нему инвалидируется кеш
	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return err
	}

	if s.meshCache != nil {
		if err := s.meshCache.Delete(ctx, cache.MeshKey(rec.ContentHash)); err != nil {
			s.log.Warn("Не удалось инвалидировать кеш меша %s: %v", rec.ContentHash[:12], err)
		}
	}

	s.publish(ctx, eventbus.EventChunkDeleted, "", eventbus.ChunkEventPayload{
		Seed:        key.Seed,
		ChunkX:      key.ChunkX,
		ChunkZ:      key.ChunkZ,
		ContentHash: rec.ContentHash,
	})
	return nil
}

// PoolStats возвращает статистику пула генерации.
func (s *ChunkService) PoolStats() PoolStats {
	return s.pool.Stats()
}

// StoredChunks возвращает число чанков в хранилище, 0 если хранилища нет.
func (s *ChunkService) StoredChunks(ctx context.Context) (int64, error) {
	if s.store == nil {
		return 0, nil
	}
	return s.store.Count(ctx)
}

// RecentJournal возвращает последние записи журнала генерации.
func (s *ChunkService) RecentJournal(ctx context.Context, limit int) ([]storage.JournalEntry, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.Recent(ctx, limit)
}

// CacheMetrics возвращает метрики кеша меша, nil если кеша нет.
func (s *ChunkService) CacheMetrics() *cache.CacheMetrics {
	if s.meshCache == nil {
		return nil
	}
	return s.meshCache.Metrics()
}

// BusStats возвращает метрики шины событий.
func (s *ChunkService) BusStats() eventbus.Stats {
	if s.bus == nil {
		return eventbus.Stats{}
	}
	return s.bus.Metrics()
}

// persist сохраняет артефакты генерации. Все шаги необязательные.
func (s *ChunkService) persist(ctx context.Context, jobID string, res *ChunkResult, origin string) {
	now := time.Now()
	vertexCount := res.Mesh.VertexCount()

	if s.store != nil {
		rec := &storage.ChunkRecord{
			Key:         storage.ChunkKey{Seed: res.Seed, ChunkX: res.ChunkX, ChunkZ: res.ChunkZ},
			Voxels:      res.Grid.Buffer(),
			ContentHash: res.ContentHash,
			VertexCount: vertexCount,
			CreatedAt:   now,
		}
		if err := s.store.Put(ctx, rec); err != nil {
			s.log.Error("Не удалось сохранить чанк (%d,%d): %v", res.ChunkX, res.ChunkZ, err)
		}
	}

	if s.journal != nil {
		entry := &storage.JournalEntry{
			ID:          jobID,
			Seed:        res.Seed,
			ChunkX:      res.ChunkX,
			ChunkZ:      res.ChunkZ,
			ContentHash: res.ContentHash,
			VertexCount: vertexCount,
			Origin:      origin,
			DurationMs:  (res.GenerateTime + res.MeshTime).Milliseconds(),
			CreatedAt:   now,
		}
		if err := s.journal.Record(ctx, entry); err != nil {
			s.log.Warn("Журнал генерации недоступен: %v", err)
		}
	}

	s.cacheMesh(ctx, res.ContentHash, res.Mesh)
	s.publish(ctx, eventbus.EventChunkGenerated, jobID, eventbus.ChunkEventPayload{
		Seed:        res.Seed,
		ChunkX:      res.ChunkX,
		ChunkZ:      res.ChunkZ,
		ContentHash: res.ContentHash,
		VertexCount: vertexCount,
		Origin:      origin,
		DurationMs:  (res.GenerateTime + res.MeshTime).Milliseconds(),
	})
}

// cacheMesh кладёт сериализованную геометрию в кеш. Ошибки не фатальны.
func (s *ChunkService) cacheMesh(ctx context.Context, hash string, buffers *mesh.MeshBuffers) {
	if s.meshCache == nil {
		return
	}
	data, err := buffers.MarshalBinary()
	if err != nil {
		s.log.Warn("Не удалось сериализовать меш для кеша: %v", err)
		return
	}
	if err := s.meshCache.Set(ctx, cache.MeshKey(hash), data, s.cacheTTL); err != nil {
		s.log.Debug("Кеш меша недоступен: %v", err)
	}
}

// publish отправляет событие в шину. nil шина и ошибки публикации не фатальны.
func (s *ChunkService) publish(ctx context.Context, eventType, correlationID string, p eventbus.ChunkEventPayload) {
	if err := eventbus.PublishChunkEvent(ctx, s.bus, eventType, correlationID, p); err != nil {
		s.log.Warn("Не удалось опубликовать событие %s: %v", eventType, err)
	}
}
