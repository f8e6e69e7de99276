package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/makeastory/api/internal/model"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite stores stories in a local database file.
type SQLite struct {
	conn   *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens or creates the database at path and applies migrations.
func OpenSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	db := &SQLite{conn: conn, logger: logger}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// Close closes the database.
func (d *SQLite) Close() error {
	return d.conn.Close()
}

func (d *SQLite) migrate() error {
	migrations, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range migrations {
		if m.IsDir() {
			continue
		}
		name := m.Name()
		if d.isMigrationApplied(name) {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := d.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		if _, err := d.conn.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}
		if d.logger != nil {
			d.logger.Info("applied migration", "name", name)
		}
	}
	return nil
}

func (d *SQLite) isMigrationApplied(name string) bool {
	var exists int
	if err := d.conn.QueryRow("SELECT 1 FROM sqlite_master WHERE type='table' AND name='_migrations'").Scan(&exists); err != nil {
		return false
	}
	var applied int
	err := d.conn.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
	return err == nil && applied == 1
}

func (d *SQLite) Save(ctx context.Context, s *model.Story) error {
	if err := touch(s, time.Now().UTC()); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	sum := Summarize(s)

	_, err = d.conn.ExecContext(ctx, `
		INSERT INTO stories (id, title, theme, beat_count, cover, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			theme = excluded.theme,
			beat_count = excluded.beat_count,
			cover = excluded.cover,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, s.ID, s.Title, s.Theme, sum.BeatCount, sum.Cover, string(data),
		s.CreatedAt.Format(timeLayout), s.UpdatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save story: %w", err)
	}
	return nil
}

func (d *SQLite) Get(ctx context.Context, id string) (*model.Story, error) {
	var data string
	err := d.conn.QueryRowContext(ctx, `SELECT data FROM stories WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load story: %w", err)
	}

	var s model.Story
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("failed to decode story %s: %w", id, err)
	}
	return &s, nil
}

func (d *SQLite) List(ctx context.Context) ([]model.StorySummary, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, title, theme, beat_count, cover, updated_at
		FROM stories ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	defer rows.Close()

	list := []model.StorySummary{}
	for rows.Next() {
		var sum model.StorySummary
		var updatedAt string
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Theme, &sum.BeatCount, &sum.Cover, &updatedAt); err != nil {
			return nil, err
		}
		sum.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		list = append(list, sum)
	}
	return list, rows.Err()
}

func (d *SQLite) Delete(ctx context.Context, id string) error {
	res, err := d.conn.ExecContext(ctx, `DELETE FROM stories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete story: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
