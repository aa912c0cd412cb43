package world

import (
	"math"

	"github.com/annel0/voxelgen/internal/noise"
	"github.com/annel0/voxelgen/internal/world/block"
)

// HeightSource источник нормализованного [0,1] высотного шума.
// Реализация обязана быть детерминированной по своим аргументам.
type HeightSource interface {
	HeightNoise(worldX, worldZ float64, seed int64, octaves int, persistence, lacunarity, scale float64) float64
}

// classicHeightSource штатный источник высот на точечном хэш-шуме
type classicHeightSource struct{}

func (classicHeightSource) HeightNoise(worldX, worldZ float64, seed int64, octaves int, persistence, lacunarity, scale float64) float64 {
	return noise.FractalNoise(worldX, worldZ, seed, octaves, persistence, lacunarity, scale)
}

// TerrainColumnBuilder заполняет вертикальные колонки чанка базовым
// материалом по биому и высотному шуму
type TerrainColumnBuilder struct {
	params     GenParams
	classifier *BiomeClassifier
	height     HeightSource
}

// ColumnHeight возвращает высоту рельефа колонки мира для ее биома
func (tb *TerrainColumnBuilder) ColumnHeight(worldX, worldZ int, seed int64) int {
	biome := tb.classifier.Classify(worldX, worldZ, seed)
	return tb.heightFor(biome, worldX, worldZ, seed)
}

// heightFor вычисляет высоту колонки по константам биома
func (tb *TerrainColumnBuilder) heightFor(biome Biome, worldX, worldZ int, seed int64) int {
	bp := tb.params.Biomes[biome]
	n := tb.height.HeightNoise(float64(worldX), float64(worldZ), seed,
		bp.Octaves, bp.Persistence, bp.Lacunarity, bp.Scale)
	return int(math.Floor(bp.BaseHeight + bp.Amplitude*n))
}

// BuildColumn заполняет одну колонку сетки: биом, высота, послойный материал
func (tb *TerrainColumnBuilder) BuildColumn(grid *VoxelGrid, localX, localZ, worldX, worldZ int, seed int64) {
	biome := tb.classifier.Classify(worldX, worldZ, seed)
	surface := tb.heightFor(biome, worldX, worldZ, seed)

	for y := 0; y < ChunkHeight; y++ {
		grid.Set(localX, y, localZ, tb.blockAt(y, surface, biome))
	}
}

// blockAt возвращает материал ячейки по положению относительно поверхности:
// выше поверхности воздух, на поверхности дерн, под ним тонкий рыхлый слой,
// глубже камень.
func (tb *TerrainColumnBuilder) blockAt(y, surface int, biome Biome) block.BlockType {
	switch {
	case y > surface:
		return block.Air
	case y == surface:
		if biome == BiomeDesert {
			return block.Sand
		}
		return block.Grass
	case y > surface-tb.params.SurfaceDepth:
		if biome == BiomeDesert {
			return block.Sand
		}
		return block.Dirt
	default:
		return block.Stone
	}
}
