package mesh

import (
	"encoding/binary"
	"errors"
	"math"
)

// Бинарный формат буферов: little-endian, четыре секции в порядке
// positions, normals, uvs, colors. Каждая секция начинается с uint32
// длины (число float32), дальше идут сырые биты float32.

// ErrCorruptMeshData возвращается при повреждённых или усечённых данных.
var ErrCorruptMeshData = errors.New("повреждённые бинарные данные мешбуферов")

// MarshalBinary сериализует буферы в компактный бинарный вид.
func (m *MeshBuffers) MarshalBinary() ([]byte, error) {
	total := 4*4 + 4*(len(m.Positions)+len(m.Normals)+len(m.UVs)+len(m.Colors))
	out := make([]byte, 0, total)

	out = appendSection(out, m.Positions)
	out = appendSection(out, m.Normals)
	out = appendSection(out, m.UVs)
	out = appendSection(out, m.Colors)
	return out, nil
}

// UnmarshalBinary восстанавливает буферы и проверяет согласованность длин:
// нормали и цвета идут по три числа на вершину, развёртка по два.
func (m *MeshBuffers) UnmarshalBinary(data []byte) error {
	var err error
	if m.Positions, data, err = readSection(data); err != nil {
		return err
	}
	if m.Normals, data, err = readSection(data); err != nil {
		return err
	}
	if m.UVs, data, err = readSection(data); err != nil {
		return err
	}
	if m.Colors, data, err = readSection(data); err != nil {
		return err
	}
	if len(data) != 0 {
		return ErrCorruptMeshData
	}

	n := len(m.Positions)
	if n%3 != 0 || len(m.Normals) != n || len(m.Colors) != n || len(m.UVs) != n/3*2 {
		return ErrCorruptMeshData
	}
	return nil
}

func appendSection(dst []byte, sec []float32) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(sec)))
	for _, f := range sec {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
	}
	return dst
}

func readSection(data []byte) ([]float32, []byte, error) {
	if len(data) < 4 {
		return nil, nil, ErrCorruptMeshData
	}
	count := int(binary.LittleEndian.Uint32(data))
	data = data[4:]
	if len(data) < count*4 {
		return nil, nil, ErrCorruptMeshData
	}
	sec := make([]float32, count)
	for i := range sec {
		sec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return sec, data[count*4:], nil
}
