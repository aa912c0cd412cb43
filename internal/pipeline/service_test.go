package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelgen/internal/cache"
	"github.com/annel0/voxelgen/internal/eventbus"
	"github.com/annel0/voxelgen/internal/storage"
	"github.com/annel0/voxelgen/internal/world"
)

type serviceHarness struct {
	svc     *ChunkService
	store   *storage.MemoryChunkStore
	journal *storage.MemoryJournal
	cache   *cache.MemoryMeshCache
	bus     eventbus.EventBus
	pool    *WorkerPool
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()

	p := newTestPipeline()
	pool := NewWorkerPool(p, 2, 16)
	store := storage.NewMemoryChunkStore()
	journal := storage.NewMemoryJournal(32)
	meshCache := cache.NewMemoryMeshCache()
	bus := eventbus.NewMemoryBus(64)

	t.Cleanup(func() {
		pool.Shutdown()
		_ = meshCache.Close()
		if c, ok := bus.(interface{ Close() }); ok {
			c.Close()
		}
	})

	svc := NewChunkService(ServiceOptions{
		Pool:     pool,
		Pipeline: p,
		Store:    store,
		Journal:  journal,
		Cache:    meshCache,
		Bus:      bus,
		CacheTTL: time.Minute,
	})
	return &serviceHarness{svc: svc, store: store, journal: journal, cache: meshCache, bus: bus, pool: pool}
}

func TestChunkService_GeneratePersists(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	events := make(chan *eventbus.Envelope, 4)
	_, err := h.bus.Subscribe(ctx, eventbus.Filter{Types: []string{eventbus.EventChunkGenerated}},
		func(ctx context.Context, ev *eventbus.Envelope) {
			events <- ev
		})
	require.NoError(t, err)

	res, err := h.svc.Generate(ctx, 3, -4, 2024, OriginREST)
	require.NoError(t, err)
	require.NotNil(t, res)

	// Хранилище
	rec, err := h.store.Get(ctx, storage.ChunkKey{Seed: 2024, ChunkX: 3, ChunkZ: -4})
	require.NoError(t, err)
	assert.Equal(t, res.ContentHash, rec.ContentHash)
	assert.Equal(t, res.Grid.Buffer(), rec.Voxels)
	assert.Equal(t, res.Mesh.VertexCount(), rec.VertexCount)

	// Журнал
	entries, err := h.journal.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, OriginREST, entries[0].Origin)
	assert.Equal(t, res.ContentHash, entries[0].ContentHash)

	// Кеш меша
	cached, err := h.cache.Get(ctx, cache.MeshKey(res.ContentHash))
	require.NoError(t, err, "Меш должен попадать в кеш при генерации")
	assert.NotEmpty(t, cached)

	// Событие
	select {
	case ev := <-events:
		payload, err := eventbus.DecodeChunkEvent(ev)
		require.NoError(t, err)
		assert.Equal(t, res.ContentHash, payload.ContentHash)
		assert.Equal(t, OriginREST, payload.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("Событие chunk.generated не пришло")
	}
}

func TestChunkService_RemeshUsesCache(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	res, err := h.svc.Generate(ctx, 0, 0, 7, OriginREST)
	require.NoError(t, err)

	// Меш уже в кеше после генерации
	out, err := h.svc.Remesh(ctx, res.Grid.Buffer(), OriginREST)
	require.NoError(t, err)
	assert.True(t, out.FromCache, "Повторный мешинг известного буфера должен идти из кеша")
	assert.Equal(t, res.ContentHash, out.ContentHash)
	assert.Equal(t, res.Mesh.Positions, out.Mesh.Positions)

	// После инвалидации геометрия перестраивается и совпадает
	require.NoError(t, h.cache.Delete(ctx, cache.MeshKey(res.ContentHash)))
	out2, err := h.svc.Remesh(ctx, res.Grid.Buffer(), OriginREST)
	require.NoError(t, err)
	assert.False(t, out2.FromCache)
	assert.Equal(t, res.Mesh.Positions, out2.Mesh.Positions)
}

func TestChunkService_RemeshCorruptCacheEntry(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	buf := make([]byte, world.GridLen)
	hash := ContentHash(buf)
	require.NoError(t, h.cache.Set(ctx, cache.MeshKey(hash), []byte("мусор"), time.Minute))

	out, err := h.svc.Remesh(ctx, buf, OriginTCP)
	require.NoError(t, err, "Повреждённая запись кеша не должна ломать запрос")
	assert.False(t, out.FromCache)
	require.NotNil(t, out.Mesh)
}

func TestChunkService_RemeshInvalidLength(t *testing.T) {
	h := newServiceHarness(t)

	_, err := h.svc.Remesh(context.Background(), make([]byte, 100), OriginREST)
	assert.ErrorIs(t, err, ErrInvalidVoxelBuffer)
}

func TestChunkService_GenerateBatch(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	coords := []BatchCoord{{0, 0}, {1, 0}, {0, 1}, {-1, -1}}
	items := h.svc.GenerateBatch(ctx, 99, coords, OriginBatch)
	require.Len(t, items, len(coords))

	for i, item := range items {
		assert.Equal(t, coords[i].ChunkX, item.ChunkX, "Порядок ответа должен совпадать с запросом")
		assert.Equal(t, coords[i].ChunkZ, item.ChunkZ)
		require.NoError(t, item.Err)
		require.NotNil(t, item.Result)
	}

	count, err := h.svc.StoredChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(coords)), count)
}

func TestChunkService_DeleteStored(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	deleted := make(chan *eventbus.Envelope, 1)
	_, err := h.bus.Subscribe(ctx, eventbus.Filter{Types: []string{eventbus.EventChunkDeleted}},
		func(ctx context.Context, ev *eventbus.Envelope) {
			deleted <- ev
		})
	require.NoError(t, err)

	res, err := h.svc.Generate(ctx, 5, 5, 1, OriginREST)
	require.NoError(t, err)
	key := storage.ChunkKey{Seed: 1, ChunkX: 5, ChunkZ: 5}

	require.NoError(t, h.svc.DeleteStored(ctx, key))

	_, err = h.svc.Stored(ctx, key)
	assert.ErrorIs(t, err, storage.ErrChunkNotFound)

	exists, err := h.cache.Exists(ctx, cache.MeshKey(res.ContentHash))
	require.NoError(t, err)
	assert.False(t, exists, "Удаление чанка должно инвалидировать кеш меша")

	select {
	case ev := <-deleted:
		payload, err := eventbus.DecodeChunkEvent(ev)
		require.NoError(t, err)
		assert.Equal(t, res.ContentHash, payload.ContentHash)
	case <-time.After(2 * time.Second):
		t.Fatal("Событие chunk.deleted не пришло")
	}

	assert.ErrorIs(t, h.svc.DeleteStored(ctx, key), storage.ErrChunkNotFound)
}

func TestChunkService_OptionalDependencies(t *testing.T) {
	p := newTestPipeline()
	pool := NewWorkerPool(p, 1, 4)
	defer pool.Shutdown()

	svc := NewChunkService(ServiceOptions{Pool: pool, Pipeline: p})

	res, err := svc.Generate(context.Background(), 0, 0, 5, OriginKCP)
	require.NoError(t, err, "Сервис без хранилища и кеша остаётся рабочим")
	require.NotNil(t, res)

	out, err := svc.Remesh(context.Background(), res.Grid.Buffer(), OriginKCP)
	require.NoError(t, err)
	assert.False(t, out.FromCache)

	count, err := svc.StoredChunks(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = svc.Stored(context.Background(), storage.ChunkKey{})
	assert.ErrorIs(t, err, storage.ErrChunkNotFound)
	assert.Nil(t, svc.CacheMetrics())
}
