package buffer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chunkpipe/internal/client/buffer/migrations"
	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/dmitrijs2005/chunkpipe/internal/dbx"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps chunks in a single table of a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
	q  dbx.DBTX
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// OpenSQLite opens (creating if needed) the database at dsn and migrates it.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer keeps SQLITE_BUSY away from the producer/consumer pair
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate chunk buffer: %w", err)
	}
	return &SQLiteStore{db: db, q: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, id string, value []byte) error {
	query := `
		INSERT INTO chunks (id, value) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET value = excluded.value`
	_, err := s.q.ExecContext(ctx, query, id, value)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) ([]byte, error) {
	var v []byte
	err := s.q.QueryRowContext(ctx, `SELECT value FROM chunks WHERE id = ?`, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	return v, err
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) List(ctx context.Context) ([][]byte, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT value FROM chunks ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM chunks`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
