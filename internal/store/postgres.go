package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Postgres stores records in state.records, one JSONB value per key.
// Keys sort with the "C" collation so scans match Memory's byte order.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx, `SELECT value FROM state.records WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (p *Postgres) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	rows, err := p.db.QueryContext(ctx,
		`SELECT key, value FROM state.records WHERE starts_with(key, $1) ORDER BY key COLLATE "C"`, prefix)
	if err != nil {
		return fmt.Errorf("scan %s: %w", prefix, err)
	}
	defer rows.Close()

	// Buffer the page so fn may issue its own queries.
	var out []record
	for rows.Next() {
		var r record
		if err := rows.Scan(&r.key, &r.value); err != nil {
			return err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, r := range out {
		if err := fn(r.key, r.value); err != nil {
			return err
		}
	}
	return nil
}

// Commit applies writes in one transaction: a multi-row upsert for the
// puts and a single array delete for the removals.
func (p *Postgres) Commit(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	var (
		values  []string
		args    []interface{}
		deletes []string
	)
	for _, w := range writes {
		if w.Delete {
			deletes = append(deletes, w.Key)
			continue
		}
		base := len(args)
		values = append(values, fmt.Sprintf("($%d, $%d, NOW())", base+1, base+2))
		args = append(args, w.Key, string(w.Value))
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	if len(values) > 0 {
		query := `INSERT INTO state.records (key, value, updated_at) VALUES ` +
			strings.Join(values, ", ") +
			` ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert %d records: %w", len(values), err)
		}
	}
	if len(deletes) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM state.records WHERE key = ANY($1)`, pq.Array(deletes)); err != nil {
			return fmt.Errorf("delete %d records: %w", len(deletes), err)
		}
	}
	return tx.Commit()
}
