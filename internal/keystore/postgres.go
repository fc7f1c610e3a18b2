package keystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chunkpipe/internal/dbx"
	"github.com/dmitrijs2005/chunkpipe/internal/keystore/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Postgres stores each KeyRecord as a JSONB document keyed by kid, with the
// active flag and creation time lifted into indexed columns.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres opens a pgx-backed connection pool for dsn.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	return NewPostgres(db), nil
}

// Initialize applies the embedded migrations.
func (p *Postgres) Initialize(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, p.db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

func upsert(ctx context.Context, db dbx.DBTX, rec *KeyRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO key_documents (kid, document, active, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kid)
		DO UPDATE SET
			document = EXCLUDED.document,
			active = EXCLUDED.active`

	n, err := dbx.RowsAffected(ctx, db, query, rec.Kid, doc, rec.Active, rec.CreatedAt)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

func (p *Postgres) Save(ctx context.Context, kid string, rec *KeyRecord) error {
	if err := checkRecord(kid, rec); err != nil {
		return err
	}
	return upsert(ctx, p.db, rec)
}

func (p *Postgres) Load(ctx context.Context, kid string) (*KeyRecord, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT document FROM key_documents WHERE kid = $1`, kid).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select key: %w", err)
	}
	return decodeDocument(doc)
}

func (p *Postgres) LoadAll(ctx context.Context) ([]*KeyRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT document FROM key_documents ORDER BY created_at, kid`)
	if err != nil {
		return nil, fmt.Errorf("failed to select keys: %w", err)
	}
	defer rows.Close()

	var out []*KeyRecord
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		rec, err := decodeDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) Delete(ctx context.Context, kid string) (bool, error) {
	n, err := dbx.RowsAffected(ctx, p.db, `DELETE FROM key_documents WHERE kid = $1`, kid)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *Postgres) Exists(ctx context.Context, kid string) (bool, error) {
	var ok bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM key_documents WHERE kid = $1)`, kid).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check key: %w", err)
	}
	return ok, nil
}

func (p *Postgres) List(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT kid FROM key_documents ORDER BY created_at, kid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var kids []string
	for rows.Next() {
		var kid string
		if err := rows.Scan(&kid); err != nil {
			return nil, err
		}
		kids = append(kids, kid)
	}
	return kids, rows.Err()
}

// Activate clears the active flag on every document and upserts rec as
// active in one transaction.
func (p *Postgres) Activate(ctx context.Context, rec *KeyRecord) error {
	if err := checkRecord(rec.Kid, rec); err != nil {
		return err
	}
	c := rec.clone()
	c.Active = true

	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `
			UPDATE key_documents
			SET active = FALSE,
				document = jsonb_set(document, '{active}', 'false'::jsonb)
			WHERE active AND kid <> $1`
		if _, err := tx.ExecContext(ctx, query, c.Kid); err != nil {
			return fmt.Errorf("deactivate keys: %w", err)
		}
		return upsert(ctx, tx, c)
	})
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func decodeDocument(doc []byte) (*KeyRecord, error) {
	var rec KeyRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode key document: %w", err)
	}
	return &rec, nil
}
