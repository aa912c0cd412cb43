package mesh

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxelgen/internal/world/block"
)

// MeshBuffers хранит готовую геометрию чанка в виде четырёх параллельных
// плоских срезов. Буферы не индексированы: каждая грань занимает шесть
// вершин (два треугольника), атрибуты всех срезов идут в одном порядке.
type MeshBuffers struct {
	Positions []float32 `json:"positions"` // x,y,z на вершину
	Normals   []float32 `json:"normals"`   // nx,ny,nz на вершину
	UVs       []float32 `json:"uvs"`       // u,v на вершину, пока всегда (0,0)
	Colors    []float32 `json:"colors"`    // r,g,b на вершину в диапазоне [0,1]
}

// newMeshBuffers создаёт буферы с запасом ёмкости под типичный чанк.
func newMeshBuffers() *MeshBuffers {
	const vertexHint = 4096
	return &MeshBuffers{
		Positions: make([]float32, 0, vertexHint*3),
		Normals:   make([]float32, 0, vertexHint*3),
		UVs:       make([]float32, 0, vertexHint*2),
		Colors:    make([]float32, 0, vertexHint*3),
	}
}

// VertexCount возвращает число вершин в буферах.
func (m *MeshBuffers) VertexCount() int {
	return len(m.Positions) / 3
}

// TriangleCount возвращает число треугольников.
func (m *MeshBuffers) TriangleCount() int {
	return m.VertexCount() / 3
}

// FaceCount возвращает число испущенных граней.
func (m *MeshBuffers) FaceCount() int {
	return m.VertexCount() / 6
}

// Empty сообщает, пуста ли геометрия.
func (m *MeshBuffers) Empty() bool {
	return len(m.Positions) == 0
}

// Clone делает глубокую копию буферов. Нужна потребителям, которые держат
// геометрию дольше, чем живёт исходный результат: кеш, рассылка событий.
func (m *MeshBuffers) Clone() *MeshBuffers {
	clone := &MeshBuffers{}
	if len(m.Positions) > 0 {
		clone.Positions = make([]float32, len(m.Positions))
		copy(clone.Positions, m.Positions)
	}
	if len(m.Normals) > 0 {
		clone.Normals = make([]float32, len(m.Normals))
		copy(clone.Normals, m.Normals)
	}
	if len(m.UVs) > 0 {
		clone.UVs = make([]float32, len(m.UVs))
		copy(clone.UVs, m.UVs)
	}
	if len(m.Colors) > 0 {
		clone.Colors = make([]float32, len(m.Colors))
		copy(clone.Colors, m.Colors)
	}
	return clone
}

// addFace добавляет квад одной грани двумя треугольниками (v0,v1,v2) и
// (v0,v2,v3). Углы берутся из таблицы направления и сдвигаются в ячейку.
func (m *MeshBuffers) addFace(x, y, z int, dir faceDir, c block.Color) {
	base := mgl32.Vec3{float32(x), float32(y), float32(z)}
	v0 := base.Add(dir.corners[0])
	v1 := base.Add(dir.corners[1])
	v2 := base.Add(dir.corners[2])
	v3 := base.Add(dir.corners[3])

	m.addVertex(v0, dir.normal, c)
	m.addVertex(v1, dir.normal, c)
	m.addVertex(v2, dir.normal, c)

	m.addVertex(v0, dir.normal, c)
	m.addVertex(v2, dir.normal, c)
	m.addVertex(v3, dir.normal, c)
}

func (m *MeshBuffers) addVertex(p, n mgl32.Vec3, c block.Color) {
	m.Positions = append(m.Positions, p.X(), p.Y(), p.Z())
	m.Normals = append(m.Normals, n.X(), n.Y(), n.Z())
	m.UVs = append(m.UVs, 0, 0)
	m.Colors = append(m.Colors, c.R, c.G, c.B)
}
