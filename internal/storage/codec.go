package storage

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/voxelgen/internal/world"
)

// Codec сжимает воксельные буферы перед записью на диск. Буфер чанка
// сильно повторяется по вертикали, zstd ужимает его на порядок.
// EncodeAll и DecodeAll безопасны для конкурентного использования,
// поэтому один Codec делится между всеми воркерами хранилища.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec создаёт кодек с уровнем сжатия по умолчанию.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("инициализация zstd-компрессора: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("инициализация zstd-декомпрессора: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Compress сжимает буфер вокселей.
func (c *Codec) Compress(raw []byte) []byte {
	return c.enc.EncodeAll(raw, nil)
}

// Decompress распаковывает буфер и проверяет, что длина совпадает с
// размером сетки чанка.
func (c *Codec) Decompress(blob []byte) ([]byte, error) {
	raw, err := c.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("распаковка буфера вокселей: %w", err)
	}
	if len(raw) != world.GridLen {
		return nil, fmt.Errorf("повреждённый буфер вокселей: длина %d вместо %d", len(raw), world.GridLen)
	}
	return raw, nil
}
