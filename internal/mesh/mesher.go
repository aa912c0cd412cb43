// Package mesh строит треугольную геометрию чанка по воксельной сетке.
// Используется отсечение невидимых граней без слияния квадов: на выходе
// всегда один и тот же буфер для одной и той же сетки.
package mesh

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxelgen/internal/world"
	"github.com/annel0/voxelgen/internal/world/block"
)

// faceDir описывает одно из шести направлений грани куба: смещение до
// соседа, нормаль и четыре угла квада в локальных координатах ячейки.
// Порядок углов даёт обход против часовой стрелки снаружи куба.
type faceDir struct {
	dx, dy, dz int
	normal     mgl32.Vec3
	corners    [4]mgl32.Vec3
}

// Фиксированный порядок направлений: -Y, +Y, -X, +X, -Z, +Z.
// Порядок входит в контракт детерминизма наравне с порядком обхода ячеек.
var faceDirs = [6]faceDir{
	{0, -1, 0, mgl32.Vec3{0, -1, 0}, [4]mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {1, 0, 1}, {0, 0, 1}}},
	{0, 1, 0, mgl32.Vec3{0, 1, 0}, [4]mgl32.Vec3{{0, 1, 0}, {0, 1, 1}, {1, 1, 1}, {1, 1, 0}}},
	{-1, 0, 0, mgl32.Vec3{-1, 0, 0}, [4]mgl32.Vec3{{0, 0, 1}, {0, 1, 1}, {0, 1, 0}, {0, 0, 0}}},
	{1, 0, 0, mgl32.Vec3{1, 0, 0}, [4]mgl32.Vec3{{1, 0, 0}, {1, 1, 0}, {1, 1, 1}, {1, 0, 1}}},
	{0, 0, -1, mgl32.Vec3{0, 0, -1}, [4]mgl32.Vec3{{0, 0, 0}, {0, 1, 0}, {1, 1, 0}, {1, 0, 0}}},
	{0, 0, 1, mgl32.Vec3{0, 0, 1}, [4]mgl32.Vec3{{1, 0, 1}, {1, 1, 1}, {0, 1, 1}, {0, 0, 1}}},
}

// FaceCullingMesher испускает только грани, граничащие с воздухом.
// Таблица материалов фиксируется при создании и не меняется.
type FaceCullingMesher struct {
	materials block.MaterialTable
}

// NewFaceCullingMesher создаёт мешер с заданной таблицей материалов.
func NewFaceCullingMesher(materials block.MaterialTable) *FaceCullingMesher {
	return &FaceCullingMesher{materials: materials}
}

// BuildMesh обходит сетку в порядке X, Z, Y и испускает грани всех
// непустых ячеек, граничащих с воздухом. Сосед за пределами чанка
// считается воздухом, поэтому граничные грани попадают в буфер всегда.
func (fm *FaceCullingMesher) BuildMesh(grid *world.VoxelGrid) *MeshBuffers {
	buffers := newMeshBuffers()

	for x := 0; x < world.ChunkWidth; x++ {
		for z := 0; z < world.ChunkDepth; z++ {
			for y := 0; y < world.ChunkHeight; y++ {
				t := grid.Get(x, y, z)
				if t == block.Air {
					continue
				}
				mat, ok := fm.materials.Lookup(t)
				if !ok {
					// Ячейка без материала не участвует в геометрии
					continue
				}
				for _, dir := range faceDirs {
					if grid.Get(x+dir.dx, y+dir.dy, z+dir.dz) != block.Air {
						continue
					}
					buffers.addFace(x, y, z, dir, mat.Color)
				}
			}
		}
	}

	return buffers
}
