package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/annel0/voxelgen/internal/logging"
)

// MariaJournal пишет журнал генерации в MariaDB/MySQL. Подходит, когда
// журнал нужно переживать перезапуски и агрегировать со стороны SQL.
type MariaJournal struct {
	db  *sql.DB
	log *logging.Logger
}

// NewMariaJournal подключается по DSN вида
// user:pass@tcp(host:3306)/voxelgen?parseTime=True и создаёт таблицу.
func NewMariaJournal(dsn string) (*MariaJournal, error) {
	if dsn == "" {
		return nil, fmt.Errorf("пустой DSN для MariaDB-журнала")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть подключение к MariaDB: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	j := &MariaJournal{db: db, log: logging.GetStorageLogger()}
	if err := j.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("не удалось создать таблицы журнала: %w", err)
	}

	j.log.Info("Журнал генерации MariaDB подключен")
	return j, nil
}

func (j *MariaJournal) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS generation_log (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		job_id VARCHAR(36) NOT NULL,
		seed BIGINT NOT NULL,
		chunk_x INT NOT NULL,
		chunk_z INT NOT NULL,
		content_hash CHAR(64) NOT NULL,
		vertex_count INT NOT NULL,
		origin VARCHAR(16) NOT NULL,
		duration_ms BIGINT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_seed (seed),
		INDEX idx_created (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`

	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("не удалось создать таблицу generation_log: %w", err)
	}
	return nil
}

// Record добавляет запись в журнал.
func (j *MariaJournal) Record(ctx context.Context, entry *JournalEntry) error {
	query := `
	INSERT INTO generation_log
		(job_id, seed, chunk_x, chunk_z, content_hash, vertex_count, origin, duration_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		entry.ID, entry.Seed, entry.ChunkX, entry.ChunkZ,
		entry.ContentHash, entry.VertexCount, entry.Origin,
		entry.DurationMs, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи в журнал MariaDB: %w", err)
	}
	return nil
}

// Recent возвращает последние записи, новые первыми.
func (j *MariaJournal) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
	SELECT job_id, seed, chunk_x, chunk_z, content_hash, vertex_count, origin, duration_ms, created_at
	FROM generation_log ORDER BY id DESC LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала MariaDB: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.Seed, &e.ChunkX, &e.ChunkZ,
			&e.ContentHash, &e.VertexCount, &e.Origin, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка разбора строки журнала: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountBySeed возвращает число генераций для seed.
func (j *MariaJournal) CountBySeed(ctx context.Context, seed int64) (int64, error) {
	var count int64
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM generation_log WHERE seed = ?`, seed).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей журнала: %w", err)
	}
	return count, nil
}

// Close закрывает подключение к базе.
func (j *MariaJournal) Close() error {
	return j.db.Close()
}
