package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/voxelgen/internal/config"
)

// JournalEntry - одна запись журнала генерации.
type JournalEntry struct {
	ID          string    `json:"id"` // uuid задания
	Seed        int64     `json:"seed"`
	ChunkX      int       `json:"chunk_x"`
	ChunkZ      int       `json:"chunk_z"`
	ContentHash string    `json:"content_hash"`
	VertexCount int       `json:"vertex_count"`
	Origin      string    `json:"origin"` // rest | kcp | tcp | batch
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// GenerationJournal фиксирует выполненные операции генерации.
// Журнал не участвует в выдаче чанков и может отставать от хранилища,
// его назначение - аудит и статистика.
type GenerationJournal interface {
	// Record добавляет запись в журнал.
	Record(ctx context.Context, entry *JournalEntry) error

	// Recent возвращает последние записи, новые первыми.
	Recent(ctx context.Context, limit int) ([]JournalEntry, error)

	// CountBySeed возвращает число генераций для указанного seed.
	CountBySeed(ctx context.Context, seed int64) (int64, error)

	Close() error
}

// NewGenerationJournal создаёт журнал по конфигурации.
func NewGenerationJournal(cfg config.StorageConfig) (GenerationJournal, error) {
	switch cfg.JournalDriver {
	case "memory":
		return NewMemoryJournal(0), nil
	case "maria":
		return NewMariaJournal(cfg.JournalDSN)
	case "mongo":
		return NewMongoJournal(cfg.JournalDSN)
	default:
		return nil, fmt.Errorf("неизвестный драйвер журнала: %s", cfg.JournalDriver)
	}
}
