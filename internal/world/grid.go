package world

import (
	"errors"

	"github.com/annel0/voxelgen/internal/world/block"
)

// Размеры чанка. Ширина и глубина фиксированы степенью двойки,
// чтобы координатные сдвиги в vec работали без деления.
const (
	ChunkWidth  = 16
	ChunkHeight = 128
	ChunkDepth  = 16

	// GridLen длина плоского буфера вокселей в байтах
	GridLen = ChunkWidth * ChunkHeight * ChunkDepth
)

// ErrInvalidBufferLength возвращается при попытке обернуть буфер
// неправильной длины
var ErrInvalidBufferLength = errors.New("voxel buffer length must be 32768 bytes")

// VoxelGrid плотная трехмерная сетка блоков одного чанка.
// Хранение: плоский байтовый буфер с индексом y + z*height + x*height*depth
// (X внешний, затем Z, затем Y). Формула индекса является контрактом:
// ей обязаны пользоваться все потребители буфера: коллизии,
// персистентность, повторный мешинг.
type VoxelGrid struct {
	data []byte
}

// NewVoxelGrid создает пустую сетку, все ячейки Air
func NewVoxelGrid() *VoxelGrid {
	return &VoxelGrid{data: make([]byte, GridLen)}
}

// GridFromBuffer оборачивает существующий буфер длиной ровно GridLen байт.
// Буфер не копируется: владение передается сетке.
func GridFromBuffer(buf []byte) (*VoxelGrid, error) {
	if len(buf) != GridLen {
		return nil, ErrInvalidBufferLength
	}
	return &VoxelGrid{data: buf}, nil
}

// gridIndex возвращает смещение ячейки в плоском буфере
func gridIndex(x, y, z int) int {
	return y + z*ChunkHeight + x*ChunkHeight*ChunkDepth
}

// InBounds проверяет, что координаты лежат внутри сетки
func InBounds(x, y, z int) bool {
	return x >= 0 && x < ChunkWidth &&
		y >= 0 && y < ChunkHeight &&
		z >= 0 && z < ChunkDepth
}

// Get возвращает блок в ячейке. Чтение за границами сетки всегда
// возвращает Air, у мешера нет данных соседних чанков.
func (g *VoxelGrid) Get(x, y, z int) block.BlockType {
	if !InBounds(x, y, z) {
		return block.Air
	}
	return block.BlockType(g.data[gridIndex(x, y, z)])
}

// Set записывает блок в ячейку. Запись за границами сетки молча
// игнорируется, это штатная политика границ, а не ошибка.
func (g *VoxelGrid) Set(x, y, z int, t block.BlockType) {
	if !InBounds(x, y, z) {
		return
	}
	g.data[gridIndex(x, y, z)] = byte(t)
}

// Buffer возвращает нижележащий буфер без копирования
func (g *VoxelGrid) Buffer() []byte {
	return g.data
}

// Clone возвращает глубокую копию сетки
func (g *VoxelGrid) Clone() *VoxelGrid {
	data := make([]byte, GridLen)
	copy(data, g.data)
	return &VoxelGrid{data: data}
}
