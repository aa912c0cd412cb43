package world

// BiomeParams высотные константы одного биома
type BiomeParams struct {
	BaseHeight  float64
	Amplitude   float64
	Octaves     int
	Persistence float64
	Lacunarity  float64
	Scale       float64
}

// GenParams неизменяемый набор параметров генерации. Передается генератору
// при создании, глобального изменяемого состояния нет: несколько миров с
// разными параметрами и зернами могут жить в одном процессе.
type GenParams struct {
	// Поле биомов
	BiomeScale       float64
	BiomeOctaves     int
	BiomePersistence float64
	BiomeLacunarity  float64
	DesertMax        float64 // шум ниже границы: пустыня
	PlainsMax        float64 // шум ниже границы: равнины, выше лес

	// Высотные константы, индекс по Biome
	Biomes [BiomeCount]BiomeParams

	// Толщина приповерхностного слоя между верхним блоком и камнем
	SurfaceDepth int

	// Пещеры
	CaveScale     float64
	CaveThreshold float64

	// Деревья
	TreeThreshold   float64
	TreeEdgeMargin  int
	TreeBaseHeight  int
	TreeHeightRange int
	CanopyRadius    int

	// Кактусы
	CactusThreshold   float64
	CactusBaseHeight  int
	CactusHeightRange int
}

// DefaultGenParams возвращает параметры генерации по умолчанию
func DefaultGenParams() GenParams {
	return GenParams{
		BiomeScale:       0.005,
		BiomeOctaves:     3,
		BiomePersistence: 0.5,
		BiomeLacunarity:  2,
		DesertMax:        0.33,
		PlainsMax:        0.66,

		Biomes: [BiomeCount]BiomeParams{
			BiomeDesert: {BaseHeight: 60, Amplitude: 10, Octaves: 4, Persistence: 0.5, Lacunarity: 2, Scale: 0.02},
			BiomePlains: {BaseHeight: 64, Amplitude: 15, Octaves: 5, Persistence: 0.5, Lacunarity: 2, Scale: 0.02},
			BiomeForest: {BaseHeight: 70, Amplitude: 30, Octaves: 6, Persistence: 0.5, Lacunarity: 2, Scale: 0.015},
		},

		SurfaceDepth: 4,

		CaveScale:     0.08,
		CaveThreshold: 0.75,

		TreeThreshold:   0.95,
		TreeEdgeMargin:  3,
		TreeBaseHeight:  4,
		TreeHeightRange: 3,
		CanopyRadius:    2,

		CactusThreshold:   0.98,
		CactusBaseHeight:  2,
		CactusHeightRange: 2,
	}
}

// MaxFeatureHeight возвращает максимальную высоту декорации над поверхностью
func (p GenParams) MaxFeatureHeight() int {
	tree := p.TreeBaseHeight + p.TreeHeightRange - 1 + p.CanopyRadius
	cactus := p.CactusBaseHeight + p.CactusHeightRange - 1
	if cactus > tree {
		return cactus
	}
	return tree
}
