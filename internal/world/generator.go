package world

import (
	"context"

	"github.com/annel0/voxelgen/internal/vec"
)

// Generator генерирует содержимое чанка за три фиксированных прохода:
// базовый рельеф, пещеры, поверхностные декорации. Порядок проходов
// менять нельзя: поиск поверхности декорациями полагается на уже
// прорезанные пещеры.
//
// Генератор не хранит изменяемого состояния: один экземпляр можно
// использовать из любого числа горутин одновременно.
type Generator struct {
	params     GenParams
	classifier *BiomeClassifier
	terrain    *TerrainColumnBuilder
	caves      *CaveCarver
	features   *FeaturePlacer
}

// NewGenerator создает генератор с параметрами по умолчанию
func NewGenerator() *Generator {
	return NewGeneratorWithParams(DefaultGenParams(), nil)
}

// NewGeneratorWithParams создает генератор с заданными параметрами.
// height == nil означает штатный профиль высот на точечном хэш-шуме.
func NewGeneratorWithParams(params GenParams, height HeightSource) *Generator {
	if height == nil {
		height = classicHeightSource{}
	}

	classifier := NewBiomeClassifier(params)

	return &Generator{
		params:     params,
		classifier: classifier,
		terrain:    &TerrainColumnBuilder{params: params, classifier: classifier, height: height},
		caves:      &CaveCarver{params: params},
		features:   &FeaturePlacer{params: params, classifier: classifier},
	}
}

// Params возвращает параметры генератора
func (g *Generator) Params() GenParams {
	return g.params
}

// Classifier возвращает классификатор биомов генератора
func (g *Generator) Classifier() *BiomeClassifier {
	return g.classifier
}

// Terrain возвращает построитель колонок генератора
func (g *Generator) Terrain() *TerrainColumnBuilder {
	return g.terrain
}

// GenerateChunk генерирует сетку вокселей чанка по его координатам и seed.
// Результат полностью детерминирован аргументами.
func (g *Generator) GenerateChunk(chunkX, chunkZ int, seed int64) *VoxelGrid {
	grid, _ := g.GenerateChunkContext(context.Background(), chunkX, chunkZ, seed)
	return grid
}

// GenerateChunkContext генерирует чанк с проверкой отмены между проходами.
// При отменённом контексте возвращает ошибку контекста и nil вместо сетки.
func (g *Generator) GenerateChunkContext(ctx context.Context, chunkX, chunkZ int, seed int64) (*VoxelGrid, error) {
	grid := NewVoxelGrid()
	origin := vec.ChunkOrigin(chunkX, chunkZ)

	// Проход 1: базовый рельеф по колонкам
	for x := 0; x < ChunkWidth; x++ {
		for z := 0; z < ChunkDepth; z++ {
			g.terrain.BuildColumn(grid, x, z, origin.X+x, origin.Z+z, seed)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Проход 2: пещеры
	g.caves.Carve(grid, origin.X, origin.Z, seed)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Проход 3: поверхностные декорации
	g.features.Place(grid, origin.X, origin.Z, seed)

	return grid, nil
}
