// Package storage отвечает за персистентность сгенерированных чанков и
// журнал операций генерации. Хранилище чанков переключается конфигом
// между BadgerDB, SQLite и памятью, журнал - между памятью, MariaDB и MongoDB.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/annel0/voxelgen/internal/config"
)

// ErrChunkNotFound возвращается при чтении или удалении отсутствующего чанка.
var ErrChunkNotFound = errors.New("чанк не найден в хранилище")

// ChunkKey уникально идентифицирует чанк в пределах одного мира (seed).
type ChunkKey struct {
	Seed   int64 `json:"seed"`
	ChunkX int   `json:"chunk_x"`
	ChunkZ int   `json:"chunk_z"`
}

// String возвращает ключ в виде "chunk:<seed>:<x>:<z>". Формат используется
// как ключ BadgerDB и в логах, менять его нельзя без миграции данных.
func (k ChunkKey) String() string {
	return fmt.Sprintf("chunk:%d:%d:%d", k.Seed, k.ChunkX, k.ChunkZ)
}

// ChunkRecord - сохранённый чанк: воксели и служебные поля.
type ChunkRecord struct {
	Key         ChunkKey  `json:"key"`
	Voxels      []byte    `json:"-"` // несжатый буфер вокселей
	ContentHash string    `json:"content_hash"`
	VertexCount int       `json:"vertex_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChunkStore - персистентное хранилище сгенерированных чанков.
// Реализации безопасны для конкурентного использования.
type ChunkStore interface {
	// Put сохраняет запись, перезаписывая существующую с тем же ключом.
	Put(ctx context.Context, rec *ChunkRecord) error

	// Get возвращает запись или ErrChunkNotFound.
	Get(ctx context.Context, key ChunkKey) (*ChunkRecord, error)

	// Has проверяет наличие записи без чтения вокселей.
	Has(ctx context.Context, key ChunkKey) (bool, error)

	// Delete удаляет запись, ErrChunkNotFound если её не было.
	Delete(ctx context.Context, key ChunkKey) error

	// Count возвращает число сохранённых чанков.
	Count(ctx context.Context) (int64, error)

	Close() error
}

// NewChunkStore создаёт хранилище по конфигурации.
func NewChunkStore(cfg config.StorageConfig) (ChunkStore, error) {
	switch cfg.Driver {
	case "badger":
		return NewBadgerChunkStore(cfg.Path)
	case "sqlite":
		return NewSQLiteChunkStore(filepath.Join(cfg.Path, "chunks.db"))
	case "memory":
		return NewMemoryChunkStore(), nil
	default:
		return nil, fmt.Errorf("неизвестный драйвер хранилища чанков: %s", cfg.Driver)
	}
}
