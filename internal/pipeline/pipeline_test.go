package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelgen/internal/mesh"
	"github.com/annel0/voxelgen/internal/world"
	"github.com/annel0/voxelgen/internal/world/block"
)

func newTestPipeline() *ChunkPipeline {
	gen := world.NewGenerator()
	mesher := mesh.NewFaceCullingMesher(block.DefaultMaterials())
	return NewChunkPipeline(gen, mesher, nil)
}

func TestChunkPipeline_GenerateDeterminism(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()

	a, err := p.Generate(ctx, 2, -5, 9001)
	require.NoError(t, err)
	b, err := p.Generate(ctx, 2, -5, 9001)
	require.NoError(t, err)

	assert.Equal(t, a.Grid.Buffer(), b.Grid.Buffer(), "Воксельные буферы должны совпадать")
	assert.Equal(t, a.Mesh.Positions, b.Mesh.Positions, "Геометрия должна совпадать")
	assert.Equal(t, a.ContentHash, b.ContentHash, "Хеш содержимого должен совпадать")

	c, err := p.Generate(ctx, 2, -5, 9002)
	require.NoError(t, err)
	assert.NotEqual(t, a.ContentHash, c.ContentHash, "Другой seed должен менять хеш")
}

func TestChunkPipeline_GenerateArtifacts(t *testing.T) {
	p := newTestPipeline()

	res, err := p.Generate(context.Background(), 0, 0, 42)
	require.NoError(t, err)

	assert.Equal(t, 0, res.ChunkX)
	assert.Equal(t, 0, res.ChunkZ)
	assert.Equal(t, int64(42), res.Seed)
	require.NotNil(t, res.Grid)
	assert.Len(t, res.Grid.Buffer(), world.GridLen, "Буфер вокселей фиксированной длины")
	require.NotNil(t, res.Mesh)
	assert.Greater(t, res.Mesh.VertexCount(), 0, "Сгенерированный чанк не может быть без геометрии")
	assert.Len(t, res.ContentHash, 64, "BLAKE2b-256 в hex занимает 64 символа")
	assert.Greater(t, res.GenerateTime, time.Duration(0))
}

func TestChunkPipeline_RemeshMatchesGenerate(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()

	res, err := p.Generate(ctx, 7, 3, 555)
	require.NoError(t, err)

	remeshed, err := p.Remesh(ctx, res.Grid.Buffer())
	require.NoError(t, err)

	assert.Equal(t, res.Mesh.Positions, remeshed.Positions,
		"Повторный мешинг того же буфера должен давать ту же геометрию")
	assert.Equal(t, res.Mesh.Normals, remeshed.Normals)
	assert.Equal(t, res.Mesh.Colors, remeshed.Colors)
}

func TestChunkPipeline_RemeshInvalidLength(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()

	cases := [][]byte{
		nil,
		make([]byte, 1),
		make([]byte, world.GridLen-1),
		make([]byte, world.GridLen+1),
	}
	for _, buf := range cases {
		_, err := p.Remesh(ctx, buf)
		assert.ErrorIs(t, err, ErrInvalidVoxelBuffer,
			"Буфер длины %d должен быть отклонён", len(buf))
	}

	_, err := p.Remesh(ctx, make([]byte, world.GridLen))
	assert.NoError(t, err, "Буфер корректной длины должен приниматься")
}

func TestChunkPipeline_GenerateCancelled(t *testing.T) {
	p := newTestPipeline()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.Generate(ctx, 0, 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestContentHash(t *testing.T) {
	buf := make([]byte, world.GridLen)
	h1 := ContentHash(buf)
	h2 := ContentHash(buf)
	assert.Equal(t, h1, h2, "Хеш должен быть детерминированным")
	assert.Len(t, h1, 64)

	buf[0] = 1
	assert.NotEqual(t, h1, ContentHash(buf), "Изменение байта должно менять хеш")
}

func TestWorkerPool_GenerateSync(t *testing.T) {
	p := newTestPipeline()
	pool := NewWorkerPool(p, 2, 8)
	defer pool.Shutdown()

	got, err := pool.GenerateSync(context.Background(), 1, -1, 77)
	require.NoError(t, err)
	require.NotNil(t, got)

	want, err := p.Generate(context.Background(), 1, -1, 77)
	require.NoError(t, err)
	assert.Equal(t, want.ContentHash, got.ContentHash,
		"Пул должен давать тот же результат, что и прямой вызов")
	assert.Equal(t, want.Mesh.Positions, got.Mesh.Positions)
}

func TestWorkerPool_SubmitAndStats(t *testing.T) {
	p := newTestPipeline()
	pool := NewWorkerPool(p, 2, 16)
	defer pool.Shutdown()

	const jobs = 4
	for i := 0; i < jobs; i++ {
		ok := pool.Submit(Job{ID: "job", ChunkX: i, ChunkZ: -i, Seed: 5})
		require.True(t, ok, "Очередь с запасом не должна отклонять задания")
	}

	require.Eventually(t, func() bool {
		return pool.Stats().Completed == jobs
	}, 10*time.Second, 10*time.Millisecond, "Все задания должны быть выполнены")

	stats := pool.Stats()
	assert.Equal(t, uint64(jobs), stats.Accepted)
	assert.Equal(t, uint64(0), stats.Failed)
	assert.Equal(t, 2, stats.Workers)
}

func TestWorkerPool_ShutdownRejects(t *testing.T) {
	p := newTestPipeline()
	pool := NewWorkerPool(p, 1, 4)

	pool.Shutdown()
	pool.Shutdown() // повторный вызов безопасен

	assert.False(t, pool.Submit(Job{ID: "late"}), "Остановленный пул должен отклонять задания")

	_, err := pool.GenerateSync(context.Background(), 0, 0, 1)
	assert.ErrorIs(t, err, ErrPoolClosed)

	assert.Greater(t, pool.Stats().Rejected, uint64(0))
}

func TestWorkerPool_ContextCancel(t *testing.T) {
	p := newTestPipeline()
	pool := NewWorkerPool(p, 1, 4)
	defer pool.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pool.GenerateSync(ctx, 0, 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMetricsSmoke(t *testing.T) {
	// NewMetrics регистрирует коллекторы в глобальном регистре,
	// поэтому вызывается один раз на весь тестовый процесс
	gen := world.NewGenerator()
	mesher := mesh.NewFaceCullingMesher(block.DefaultMaterials())
	p := NewChunkPipeline(gen, mesher, NewMetrics())

	res, err := p.Generate(context.Background(), 0, 0, 3)
	require.NoError(t, err)
	_, err = p.Remesh(context.Background(), res.Grid.Buffer())
	require.NoError(t, err)
}

// --- Benchmarks ---

func BenchmarkChunkPipeline_Generate(b *testing.B) {
	p := newTestPipeline()
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Generate(ctx, i%32, i/32, 1337); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkWorkerPool_GenerateSync(b *testing.B) {
	p := newTestPipeline()
	pool := NewWorkerPool(p, 0, 64)
	defer pool.Shutdown()
	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := pool.GenerateSync(ctx, i%32, i/32%32, 99); err != nil {
				b.Fatal(err)
			}
			i++
		}
	})
}
