package world

import (
	"github.com/annel0/voxelgen/internal/noise"
	"github.com/annel0/voxelgen/internal/vec"
	"github.com/annel0/voxelgen/internal/world/block"
)

// FeaturePlacer расставляет поверхностные декорации: деревья в лесу и
// кактусы в пустыне. Работает после вырезания пещер, чтобы поиск
// поверхности видел уже прорезанный рельеф.
type FeaturePlacer struct {
	params     GenParams
	classifier *BiomeClassifier
}

// Place третий проход генерации: обходит все колонки чанка
func (fp *FeaturePlacer) Place(grid *VoxelGrid, originX, originZ int, seed int64) {
	for x := 0; x < ChunkWidth; x++ {
		for z := 0; z < ChunkDepth; z++ {
			fp.placeColumn(grid, x, z, originX+x, originZ+z, seed)
		}
	}
}

// placeColumn решает, появится ли декорация над одной колонкой
func (fp *FeaturePlacer) placeColumn(grid *VoxelGrid, x, z, worldX, worldZ int, seed int64) {
	surfaceY, ok := columnSurface(grid, x, z)
	if !ok {
		// Колонка целиком пустая
		return
	}

	biome := fp.classifier.Classify(worldX, worldZ, seed)
	surface := grid.Get(x, surfaceY, z)
	featureNoise := noise.PointNoise(float64(worldX), 0, float64(worldZ), seed+3)

	switch {
	case biome == BiomeForest && surface == block.Grass:
		// Колонки у границы чанка пропускаются: кроне понадобились бы
		// данные соседнего чанка
		if featureNoise > fp.params.TreeThreshold && !nearChunkEdge(x, z, fp.params.TreeEdgeMargin) {
			fp.placeTree(grid, x, surfaceY, z, worldX, worldZ, seed)
		}

	case biome == BiomeDesert && surface == block.Sand:
		if featureNoise > fp.params.CactusThreshold {
			fp.placeCactus(grid, x, surfaceY, z, worldX, worldZ, seed)
		}
	}
}

// columnSurface ищет сверху вниз самую высокую непустую ячейку колонки
func columnSurface(grid *VoxelGrid, x, z int) (int, bool) {
	for y := ChunkHeight - 1; y >= 0; y-- {
		if grid.Get(x, y, z) != block.Air {
			return y, true
		}
	}
	return 0, false
}

// nearChunkEdge проверяет, лежит ли колонка ближе margin ячеек к
// горизонтальной границе чанка
func nearChunkEdge(x, z, margin int) bool {
	return x < margin || z < margin ||
		x >= ChunkWidth-margin || z >= ChunkDepth-margin
}

// placeTree ставит ствол из бревен и сферическую крону из листвы.
// Дерево целиком пропускается, если ствол не помещается под потолком чанка.
func (fp *FeaturePlacer) placeTree(grid *VoxelGrid, x, surfaceY, z, worldX, worldZ int, seed int64) {
	trunkHeight := fp.params.TreeBaseHeight +
		int(noise.PointNoise(float64(worldX), 1, float64(worldZ), seed+4)*float64(fp.params.TreeHeightRange))

	if surfaceY+trunkHeight >= ChunkHeight {
		return
	}

	for i := 1; i <= trunkHeight; i++ {
		grid.Set(x, surfaceY+i, z, block.Log)
	}

	// Крона: евклидов шар вокруг вершины ствола. Листва пишется только
	// в пустые ячейки: ствол, чужая листва и рельеф не перекрываются.
	topY := surfaceY + trunkHeight
	r := fp.params.CanopyRadius

	for lx := -r; lx <= r; lx++ {
		for ly := -r; ly <= r; ly++ {
			for lz := -r; lz <= r; lz++ {
				offset := vec.Vec3{X: lx, Y: ly, Z: lz}
				if offset.LengthSquared() > r*r {
					continue
				}

				cx, cy, cz := x+lx, topY+ly, z+lz
				if grid.Get(cx, cy, cz) == block.Air {
					grid.Set(cx, cy, cz, block.Leaves)
				}
			}
		}
	}
}

// placeCactus ставит колонну кактуса над песком.
// Пропускается, если колонна вышла бы за потолок чанка.
func (fp *FeaturePlacer) placeCactus(grid *VoxelGrid, x, surfaceY, z, worldX, worldZ int, seed int64) {
	height := fp.params.CactusBaseHeight +
		int(noise.PointNoise(float64(worldX), 1, float64(worldZ), seed+4)*float64(fp.params.CactusHeightRange))

	if surfaceY+height >= ChunkHeight {
		return
	}

	for i := 1; i <= height; i++ {
		grid.Set(x, surfaceY+i, z, block.Cactus)
	}
}
