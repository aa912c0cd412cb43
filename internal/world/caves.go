package world

import (
	"github.com/annel0/voxelgen/internal/noise"
	"github.com/annel0/voxelgen/internal/world/block"
)

// CaveCarver вырезает полости в каменном слое по трехмерному шуму.
// Смещение seed+2 отделяет поле пещер от полей высот и биомов.
type CaveCarver struct {
	params GenParams
}

// Carve второй проход по готовому рельефу. Режется только камень:
// дерн, рыхлый слой и уже пустые ячейки не трогаются, поэтому пещеры
// не прорубают поверхность тем же проходом.
func (cc *CaveCarver) Carve(grid *VoxelGrid, originX, originZ int, seed int64) {
	for x := 0; x < ChunkWidth; x++ {
		for z := 0; z < ChunkDepth; z++ {
			worldX := float64(originX + x)
			worldZ := float64(originZ + z)

			for y := 0; y < ChunkHeight; y++ {
				if grid.Get(x, y, z) != block.Stone {
					continue
				}

				n := noise.PointNoise(worldX*cc.params.CaveScale,
					float64(y)*cc.params.CaveScale,
					worldZ*cc.params.CaveScale,
					seed+2)

				if n > cc.params.CaveThreshold {
					grid.Set(x, y, z, block.Air)
				}
			}
		}
	}
}
