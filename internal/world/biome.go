package world

import (
	"github.com/annel0/voxelgen/internal/noise"
)

// Biome представляет крупномасштабную классификацию рельефа.
// Биом всегда вычисляется заново по координатам колонки и seed,
// нигде не хранится.
type Biome int

const (
	BiomeDesert Biome = iota
	BiomePlains
	BiomeForest

	// BiomeCount количество биомов
	BiomeCount
)

// String возвращает строковое представление биома
func (b Biome) String() string {
	switch b {
	case BiomeDesert:
		return "desert"
	case BiomePlains:
		return "plains"
	case BiomeForest:
		return "forest"
	default:
		return "unknown"
	}
}

// BiomeClassifier определяет биом колонки мира по фрактальному шуму.
// Смещение seed+1 разводит поле биомов с полем высот, которое использует
// тот же базовый seed.
type BiomeClassifier struct {
	scale       float64
	octaves     int
	persistence float64
	lacunarity  float64
	desertMax   float64
	plainsMax   float64
}

// NewBiomeClassifier создает классификатор с параметрами генерации
func NewBiomeClassifier(params GenParams) *BiomeClassifier {
	return &BiomeClassifier{
		scale:       params.BiomeScale,
		octaves:     params.BiomeOctaves,
		persistence: params.BiomePersistence,
		lacunarity:  params.BiomeLacunarity,
		desertMax:   params.DesertMax,
		plainsMax:   params.PlainsMax,
	}
}

// Classify возвращает биом колонки мира. Функция чистая: одинаковые
// аргументы всегда дают один и тот же биом, на это полагается
// FeaturePlacer, вычисляющий биом повторно.
func (c *BiomeClassifier) Classify(worldX, worldZ int, seed int64) Biome {
	n := noise.FractalNoise(float64(worldX), float64(worldZ), seed+1,
		c.octaves, c.persistence, c.lacunarity, c.scale)

	switch {
	case n < c.desertMax:
		return BiomeDesert
	case n < c.plainsMax:
		return BiomePlains
	default:
		return BiomeForest
	}
}
