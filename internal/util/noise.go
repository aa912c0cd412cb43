package util

import (
	"sync"

	"github.com/aquilax/go-perlin"
)

// PerlinSource источник высотного шума на базе шума Перлина (профиль smooth).
// go-perlin связывает seed при создании генератора, поэтому генераторы
// кэшируются по параметрам; сам источник детерминирован и потокобезопасен.
type PerlinSource struct {
	mu    sync.Mutex
	cache map[perlinKey]*perlin.Perlin
}

type perlinKey struct {
	seed    int64
	octaves int32
	alpha   float64
	beta    float64
}

// NewPerlinSource создает пустой источник с кэшем генераторов
func NewPerlinSource() *PerlinSource {
	return &PerlinSource{cache: make(map[perlinKey]*perlin.Perlin)}
}

// HeightNoise возвращает значение высотного шума в [0,1] для колонки мира.
// persistence и lacunarity отображаются на параметры alpha/beta генератора.
func (ps *PerlinSource) HeightNoise(worldX, worldZ float64, seed int64, octaves int, persistence, lacunarity, scale float64) float64 {
	alpha := 2.0 // Сглаживание шума
	if persistence > 0 {
		alpha = 1.0 / persistence
	}

	beta := lacunarity // Множитель частоты между октавами
	if beta <= 0 {
		beta = 2.0
	}

	p := ps.generator(perlinKey{seed: seed, octaves: int32(octaves), alpha: alpha, beta: beta})

	// Noise2D возвращает значение в диапазоне от -1 до 1,
	// приводим его к диапазону от 0 до 1
	n := p.Noise2D(worldX*scale, worldZ*scale)
	return (n + 1.0) / 2.0
}

// generator возвращает кэшированный генератор Перлина для ключа
func (ps *PerlinSource) generator(key perlinKey) *perlin.Perlin {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if p, ok := ps.cache[key]; ok {
		return p
	}

	p := perlin.NewPerlin(key.alpha, key.beta, key.octaves, key.seed)
	ps.cache[key] = p
	return p
}
