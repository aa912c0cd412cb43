package storage

import (
	"context"
	"sync"
)

// defaultJournalCapacity - сколько последних записей держит журнал в памяти.
const defaultJournalCapacity = 1024

// MemoryJournal - кольцевой журнал в памяти. Старые записи вытесняются,
// счётчики по seed живут до перезапуска процесса.
type MemoryJournal struct {
	mu       sync.RWMutex
	entries  []JournalEntry // кольцевой буфер
	next     int            // позиция следующей записи
	filled   bool           // буфер уже делал полный оборот
	bySeed   map[int64]int64
	capacity int
}

// NewMemoryJournal создаёт журнал. capacity <= 0 означает ёмкость по умолчанию.
func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = defaultJournalCapacity
	}
	return &MemoryJournal{
		entries:  make([]JournalEntry, capacity),
		bySeed:   make(map[int64]int64),
		capacity: capacity,
	}
}

// Record добавляет запись, вытесняя самую старую при переполнении.
func (j *MemoryJournal) Record(ctx context.Context, entry *JournalEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries[j.next] = *entry
	j.next++
	if j.next == j.capacity {
		j.next = 0
		j.filled = true
	}
	j.bySeed[entry.Seed]++
	return nil
}

// Recent возвращает последние записи, новые первыми.
func (j *MemoryJournal) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	size := j.next
	if j.filled {
		size = j.capacity
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]JournalEntry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := j.next - 1 - i
		if idx < 0 {
			idx += j.capacity
		}
		out = append(out, j.entries[idx])
	}
	return out, nil
}

// CountBySeed возвращает число генераций для seed с момента запуска.
func (j *MemoryJournal) CountBySeed(ctx context.Context, seed int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.bySeed[seed], nil
}

// Close ничего не делает, существует ради интерфейса GenerationJournal.
func (j *MemoryJournal) Close() error {
	return nil
}
