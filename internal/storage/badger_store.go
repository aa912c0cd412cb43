package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/voxelgen/internal/logging"
)

// BadgerChunkStore хранит чанки в embedded BadgerDB. Значение - JSON со
// служебными полями и zstd-сжатым буфером вокселей, ключ - ChunkKey.String().
type BadgerChunkStore struct {
	db      *badger.DB
	dbPath  string
	codec   *Codec
	mutex   sync.RWMutex
	isReady bool
	log     *logging.Logger
}

// badgerChunkValue - формат значения в BadgerDB.
type badgerChunkValue struct {
	ContentHash string `json:"content_hash"`
	VertexCount int    `json:"vertex_count"`
	CreatedAt   int64  `json:"created_at"`
	Voxels      []byte `json:"voxels"` // zstd-сжатый буфер
}

// NewBadgerChunkStore открывает BadgerDB в каталоге dataPath/chunks.
func NewBadgerChunkStore(dataPath string) (*BadgerChunkStore, error) {
	dbPath := filepath.Join(dataPath, "chunks")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	codec, err := NewCodec()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &BadgerChunkStore{
		db:      db,
		dbPath:  dbPath,
		codec:   codec,
		isReady: true,
		log:     logging.GetStorageLogger(),
	}
	store.log.Info("Хранилище чанков BadgerDB открыто: %s", dbPath)
	return store, nil
}

// Put сохраняет запись, перезаписывая существующую.
func (s *BadgerChunkStore) Put(ctx context.Context, rec *ChunkRecord) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	value := badgerChunkValue{
		ContentHash: rec.ContentHash,
		VertexCount: rec.VertexCount,
		CreatedAt:   rec.CreatedAt.Unix(),
		Voxels:      s.codec.Compress(rec.Voxels),
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("ошибка сериализации чанка: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(rec.Key.String()), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// Get возвращает запись или ErrChunkNotFound.
func (s *BadgerChunkStore) Get(ctx context.Context, key ChunkKey) (*ChunkRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key.String()))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	var value badgerChunkValue
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("ошибка десериализации чанка: %w", err)
	}

	voxels, err := s.codec.Decompress(value.Voxels)
	if err != nil {
		return nil, err
	}

	return &ChunkRecord{
		Key:         key,
		Voxels:      voxels,
		ContentHash: value.ContentHash,
		VertexCount: value.VertexCount,
		CreatedAt:   time.Unix(value.CreatedAt, 0),
	}, nil
}

// Has проверяет наличие записи без чтения значения.
func (s *BadgerChunkStore) Has(ctx context.Context, key ChunkKey) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return false, fmt.Errorf("хранилище не готово")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key.String()))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка проверки ключа в BadgerDB: %w", err)
	}
	return true, nil
}

// Delete удаляет запись, ErrChunkNotFound если ключа не было.
func (s *BadgerChunkStore) Delete(ctx context.Context, key ChunkKey) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		// BadgerDB молча удаляет несуществующие ключи, поэтому
		// существование проверяется в той же транзакции
		if _, err := txn.Get([]byte(key.String())); err != nil {
			return err
		}
		return txn.Delete([]byte(key.String()))
	})
	if err == badger.ErrKeyNotFound {
		return ErrChunkNotFound
	}
	if err != nil {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}
	return nil
}

// Count возвращает число сохранённых чанков.
func (s *BadgerChunkStore) Count(ctx context.Context) (int64, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return 0, fmt.Errorf("хранилище не готово")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var count int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("chunk:")

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта чанков: %w", err)
	}
	return count, nil
}

// Close закрывает базу. Повторный вызов безопасен.
func (s *BadgerChunkStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isReady {
		return nil
	}
	s.isReady = false
	return s.db.Close()
}
