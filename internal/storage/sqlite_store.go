package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/annel0/voxelgen/internal/logging"
)

// SQLiteChunkStore хранит чанки в одной таблице SQLite. Подходит для
// односерверных установок без внешних зависимостей, файл базы легко
// переносить и инспектировать.
type SQLiteChunkStore struct {
	db    *sql.DB
	codec *Codec
	log   *logging.Logger
}

// NewSQLiteChunkStore открывает (или создаёт) файл базы по пути path.
func NewSQLiteChunkStore(path string) (*SQLiteChunkStore, error) {
	if path == "" {
		return nil, fmt.Errorf("пустой путь к базе SQLite")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать каталог базы: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть SQLite: %w", err)
	}
	// modernc-драйвер не поддерживает конкурентную запись из нескольких
	// соединений, ограничиваемся одним
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	codec, err := NewCodec()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &SQLiteChunkStore{
		db:    db,
		codec: codec,
		log:   logging.GetStorageLogger(),
	}
	store.log.Info("Хранилище чанков SQLite открыто: %s", path)
	return store, nil
}

func initSQLite(db *sql.DB) error {
	// WAL заметно быстрее для нагрузок с частыми одиночными записями
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("ошибка применения прагмы %q: %w", p, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		seed         INTEGER NOT NULL,
		chunk_x      INTEGER NOT NULL,
		chunk_z      INTEGER NOT NULL,
		content_hash TEXT    NOT NULL,
		vertex_count INTEGER NOT NULL,
		created_at   INTEGER NOT NULL,
		voxels       BLOB    NOT NULL,
		PRIMARY KEY (seed, chunk_x, chunk_z)
	);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("не удалось создать таблицу chunks: %w", err)
	}
	return nil
}

// Put сохраняет запись, перезаписывая существующую.
func (s *SQLiteChunkStore) Put(ctx context.Context, rec *ChunkRecord) error {
	query := `
	INSERT OR REPLACE INTO chunks
		(seed, chunk_x, chunk_z, content_hash, vertex_count, created_at, voxels)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.Key.Seed, rec.Key.ChunkX, rec.Key.ChunkZ,
		rec.ContentHash, rec.VertexCount, rec.CreatedAt.Unix(),
		s.codec.Compress(rec.Voxels))
	if err != nil {
		return fmt.Errorf("ошибка сохранения чанка в SQLite: %w", err)
	}
	return nil
}

// Get возвращает запись или ErrChunkNotFound.
func (s *SQLiteChunkStore) Get(ctx context.Context, key ChunkKey) (*ChunkRecord, error) {
	query := `
	SELECT content_hash, vertex_count, created_at, voxels
	FROM chunks WHERE seed = ? AND chunk_x = ? AND chunk_z = ?`

	var (
		hash      string
		vertices  int
		createdAt int64
		blob      []byte
	)
	err := s.db.QueryRowContext(ctx, query, key.Seed, key.ChunkX, key.ChunkZ).
		Scan(&hash, &vertices, &createdAt, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения чанка из SQLite: %w", err)
	}

	voxels, err := s.codec.Decompress(blob)
	if err != nil {
		return nil, err
	}

	return &ChunkRecord{
		Key:         key,
		Voxels:      voxels,
		ContentHash: hash,
		VertexCount: vertices,
		CreatedAt:   time.Unix(createdAt, 0),
	}, nil
}

// Has проверяет наличие записи без чтения вокселей.
func (s *SQLiteChunkStore) Has(ctx context.Context, key ChunkKey) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chunks WHERE seed = ? AND chunk_x = ? AND chunk_z = ?`,
		key.Seed, key.ChunkX, key.ChunkZ).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка проверки чанка в SQLite: %w", err)
	}
	return true, nil
}

// Delete удаляет запись, ErrChunkNotFound если строки не было.
func (s *SQLiteChunkStore) Delete(ctx context.Context, key ChunkKey) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE seed = ? AND chunk_x = ? AND chunk_z = ?`,
		key.Seed, key.ChunkX, key.ChunkZ)
	if err != nil {
		return fmt.Errorf("ошибка удаления чанка из SQLite: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения числа удалённых строк: %w", err)
	}
	if affected == 0 {
		return ErrChunkNotFound
	}
	return nil
}

// Count возвращает число сохранённых чанков.
func (s *SQLiteChunkStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта чанков: %w", err)
	}
	return count, nil
}

// Close закрывает базу.
func (s *SQLiteChunkStore) Close() error {
	return s.db.Close()
}
