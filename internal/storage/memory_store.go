package storage

import (
	"context"
	"sync"
)

// MemoryChunkStore хранит чанки в памяти процесса. Используется в тестах
// и в режиме разработки, когда персистентность не нужна.
type MemoryChunkStore struct {
	mu     sync.RWMutex
	chunks map[ChunkKey]*ChunkRecord
}

// NewMemoryChunkStore создаёт пустое хранилище.
func NewMemoryChunkStore() *MemoryChunkStore {
	return &MemoryChunkStore{
		chunks: make(map[ChunkKey]*ChunkRecord),
	}
}

// Put сохраняет копию записи: вызывающий может свободно менять свою.
func (s *MemoryChunkStore) Put(ctx context.Context, rec *ChunkRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[rec.Key] = copyRecord(rec)
	return nil
}

// Get возвращает копию записи или ErrChunkNotFound.
func (s *MemoryChunkStore) Get(ctx context.Context, key ChunkKey) (*ChunkRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.chunks[key]
	if !ok {
		return nil, ErrChunkNotFound
	}
	return copyRecord(rec), nil
}

// Has проверяет наличие записи.
func (s *MemoryChunkStore) Has(ctx context.Context, key ChunkKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chunks[key]
	return ok, nil
}

// Delete удаляет запись, ErrChunkNotFound если её не было.
func (s *MemoryChunkStore) Delete(ctx context.Context, key ChunkKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chunks[key]; !ok {
		return ErrChunkNotFound
	}
	delete(s.chunks, key)
	return nil
}

// Count возвращает число сохранённых чанков.
func (s *MemoryChunkStore) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.chunks)), nil
}

// Close ничего не освобождает, существует ради интерфейса ChunkStore.
func (s *MemoryChunkStore) Close() error {
	return nil
}

func copyRecord(rec *ChunkRecord) *ChunkRecord {
	cp := *rec
	if rec.Voxels != nil {
		cp.Voxels = make([]byte, len(rec.Voxels))
		copy(cp.Voxels, rec.Voxels)
	}
	return &cp
}
