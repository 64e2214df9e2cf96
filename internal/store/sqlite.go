package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/partstock/internal/model"

	_ "modernc.org/sqlite"
)

const createPartsTable = `
CREATE TABLE IF NOT EXISTS parts (
    id          TEXT PRIMARY KEY,
    sku         TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    quantity    INTEGER NOT NULL DEFAULT 0,
    location    TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL
)`

const partColumns = `id, sku, name, description, quantity, location, created_at, updated_at`

// ErrNotFound is returned when a part is not found.
var ErrNotFound = errors.New("part not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// An in-memory database exists per connection; keep exactly one.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createPartsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create parts table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPart(row scanner) (*model.Part, error) {
	p := &model.Part{}
	if err := row.Scan(
		&p.ID, &p.SKU, &p.Name, &p.Description, &p.Quantity, &p.Location,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return p, nil
}

// UpsertPart inserts a part or, when its SKU already exists, updates the
// existing row in place. The stored part is returned with its id.
func (s *SQLiteStore) UpsertPart(ctx context.Context, p *model.Part) (UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	existing, err := scanPart(tx.QueryRowContext(ctx,
		`SELECT `+partColumns+` FROM parts WHERE sku = ?`, p.SKU,
	))

	var result UpsertResult
	switch {
	case errors.Is(err, sql.ErrNoRows):
		stored := *p
		if stored.ID == "" {
			stored.ID = model.NewID()
		}
		stored.CreatedAt = now
		stored.UpdatedAt = now
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO parts (`+partColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			stored.ID, stored.SKU, stored.Name, stored.Description, stored.Quantity, stored.Location,
			stored.CreatedAt, stored.UpdatedAt,
		); err != nil {
			return UpsertResult{}, fmt.Errorf("insert part: %w", err)
		}
		result = UpsertResult{Part: &stored, Created: true}

	case err != nil:
		return UpsertResult{}, fmt.Errorf("lookup part by sku: %w", err)

	default:
		existing.Name = p.Name
		existing.Description = p.Description
		existing.Quantity = p.Quantity
		existing.Location = p.Location
		existing.UpdatedAt = now
		if _, err := tx.ExecContext(ctx,
			`UPDATE parts SET name = ?, description = ?, quantity = ?, location = ?, updated_at = ?
			WHERE id = ?`,
			existing.Name, existing.Description, existing.Quantity, existing.Location, existing.UpdatedAt,
			existing.ID,
		); err != nil {
			return UpsertResult{}, fmt.Errorf("update part: %w", err)
		}
		result = UpsertResult{Part: existing}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("commit upsert: %w", err)
	}
	return result, nil
}

// GetPart retrieves a part by ID.
func (s *SQLiteStore) GetPart(ctx context.Context, id string) (*model.Part, error) {
	p, err := scanPart(s.db.QueryRowContext(ctx,
		`SELECT `+partColumns+` FROM parts WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get part: %w", err)
	}
	return p, nil
}

// ListParts returns a page of parts ordered by SKU, along with the total count.
func (s *SQLiteStore) ListParts(ctx context.Context, limit, offset int) ([]*model.Part, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM parts").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count parts: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+partColumns+` FROM parts ORDER BY sku LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list parts: %w", err)
	}
	defer rows.Close()

	var parts []*model.Part
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan part: %w", err)
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate parts: %w", err)
	}

	return parts, total, nil
}
