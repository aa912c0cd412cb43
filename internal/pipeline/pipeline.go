// Package pipeline связывает генератор рельефа и мешер в единый конвейер
// обработки чанков и предоставляет пул воркеров для фоновой генерации.
package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/blake2b"

	"github.com/annel0/voxelgen/internal/logging"
	"github.com/annel0/voxelgen/internal/mesh"
	"github.com/annel0/voxelgen/internal/world"
)

// ErrInvalidVoxelBuffer возвращается, когда входной буфер вокселей имеет
// неверную длину. Совпадает с world.ErrInvalidBufferLength, чтобы
// errors.Is срабатывал на любом слое.
var ErrInvalidVoxelBuffer = world.ErrInvalidBufferLength

// ChunkResult содержит все артефакты генерации одного чанка.
type ChunkResult struct {
	ChunkX int
	ChunkZ int
	Seed   int64

	Grid *world.VoxelGrid
	Mesh *mesh.MeshBuffers

	// ContentHash - hex от BLAKE2b-256 воксельного буфера. Используется
	// как ключ кеша меша и для проверки целостности при хранении.
	ContentHash string

	GenerateTime time.Duration
	MeshTime     time.Duration
}

// ChunkPipeline выполняет полный цикл: генерация сетки, мешинг, хеш.
// Экземпляр не имеет изменяемого состояния и безопасен для конкурентного
// использования из нескольких воркеров.
type ChunkPipeline struct {
	generator *world.Generator
	mesher    *mesh.FaceCullingMesher
	metrics   *Metrics
	tracer    trace.Tracer
	log       *logging.Logger
}

// NewChunkPipeline создаёт конвейер. metrics может быть nil, тогда
// счётчики Prometheus не обновляются.
func NewChunkPipeline(gen *world.Generator, mesher *mesh.FaceCullingMesher, metrics *Metrics) *ChunkPipeline {
	return &ChunkPipeline{
		generator: gen,
		mesher:    mesher,
		metrics:   metrics,
		tracer:    otel.Tracer("voxelgen/pipeline"),
		log:       logging.GetPipelineLogger(),
	}
}

// Generate генерирует чанк и строит его геометрию. Результат полностью
// детерминирован тройкой (chunkX, chunkZ, seed).
func (p *ChunkPipeline) Generate(ctx context.Context, chunkX, chunkZ int, seed int64) (*ChunkResult, error) {
	ctx, span := p.tracer.Start(ctx, "chunk.generate", trace.WithAttributes(
		attribute.Int("chunk.x", chunkX),
		attribute.Int("chunk.z", chunkZ),
		attribute.Int64("chunk.seed", seed),
	))
	defer span.End()

	genStart := time.Now()
	gridCtx, gridSpan := p.tracer.Start(ctx, "generate.grid")
	grid, err := p.generator.GenerateChunkContext(gridCtx, chunkX, chunkZ, seed)
	gridSpan.End()
	if err != nil {
		p.metrics.incFailures()
		return nil, fmt.Errorf("генерация чанка (%d,%d): %w", chunkX, chunkZ, err)
	}
	genTime := time.Since(genStart)

	meshStart := time.Now()
	_, meshSpan := p.tracer.Start(ctx, "generate.mesh")
	buffers := p.mesher.BuildMesh(grid)
	meshSpan.End()
	meshTime := time.Since(meshStart)

	p.metrics.observeGenerate(genTime.Seconds())
	p.metrics.observeMesh(meshTime.Seconds())
	p.metrics.incGenerated()

	result := &ChunkResult{
		ChunkX:       chunkX,
		ChunkZ:       chunkZ,
		Seed:         seed,
		Grid:         grid,
		Mesh:         buffers,
		ContentHash:  ContentHash(grid.Buffer()),
		GenerateTime: genTime,
		MeshTime:     meshTime,
	}

	span.SetAttributes(attribute.Int("chunk.vertices", buffers.VertexCount()))

	p.log.Debug("Чанк (%d,%d) seed=%d: %d вершин, генерация %v, мешинг %v",
		chunkX, chunkZ, seed, buffers.VertexCount(), genTime, meshTime)
	return result, nil
}

// Remesh строит геометрию по готовому воксельному буферу без генерации.
// Буфер не копируется: сетка работает поверх памяти вызывающего.
func (p *ChunkPipeline) Remesh(ctx context.Context, buffer []byte) (*mesh.MeshBuffers, error) {
	_, span := p.tracer.Start(ctx, "chunk.mesh")
	defer span.End()

	grid, err := world.GridFromBuffer(buffer)
	if err != nil {
		p.metrics.incFailures()
		return nil, fmt.Errorf("повторный мешинг: %w", err)
	}

	start := time.Now()
	buffers := p.mesher.BuildMesh(grid)
	p.metrics.observeMesh(time.Since(start).Seconds())
	p.metrics.incRemeshed()

	p.log.Debug("Повторный мешинг буфера %s: %d вершин",
		ContentHash(buffer)[:12], buffers.VertexCount())
	return buffers, nil
}

// ContentHash возвращает hex BLAKE2b-256 от произвольного буфера.
// Одинаковое содержимое чанка всегда даёт один и тот же ключ.
func ContentHash(buf []byte) string {
	sum := blake2b.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
