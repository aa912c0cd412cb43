package vec

import "math"

// Vec2 представляет координаты колонки в горизонтальной плоскости мира (X, Z)
type Vec2 struct {
	X, Z int
}

// ToChunkCoords преобразует мировые координаты в координаты чанка
func (v Vec2) ToChunkCoords() Vec2 {
	return Vec2{X: v.X >> 4, Z: v.Z >> 4} // Деление на 16
}

// LocalInChunk возвращает локальные координаты внутри чанка
func (v Vec2) LocalInChunk() Vec2 {
	return Vec2{X: v.X & 0xF, Z: v.Z & 0xF} // Модуль 16
}

// DistanceTo вычисляет расстояние до другой точки
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dz := float64(v.Z - other.Z)
	return math.Sqrt(dx*dx + dz*dz)
}

// ChunkOrigin возвращает мировые координаты угла чанка (минимальные X и Z)
func ChunkOrigin(chunkX, chunkZ int) Vec2 {
	return Vec2{X: chunkX << 4, Z: chunkZ << 4} // Умножение на 16
}
