package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clucraft/phusage-sub000/internal/store"
	"github.com/clucraft/phusage-sub000/pkg/models"
)

// SaveEstimate inserts or replaces a saved estimate by id.
func (db *DB) SaveEstimate(ctx context.Context, e *models.SavedEstimate) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO saved_estimates (id, name, created_at, input, result)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET name = excluded.name, input = excluded.input, result = excluded.result`,
		e.ID, e.Name, formatTime(e.CreatedAt), string(e.Input), string(e.Result))
	if err != nil {
		return fmt.Errorf("saving estimate %s: %w", e.ID, err)
	}
	return nil
}

// GetEstimate returns a saved estimate by id.
func (db *DB) GetEstimate(ctx context.Context, id string) (*models.SavedEstimate, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, name, created_at, input, result FROM saved_estimates WHERE id = ?`, id)
	e, err := scanEstimate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading estimate %s: %w", id, err)
	}
	return &e, nil
}

// ListEstimates returns every saved estimate, newest first.
func (db *DB) ListEstimates(ctx context.Context) ([]models.SavedEstimate, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, created_at, input, result FROM saved_estimates ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("querying estimates: %w", err)
	}
	defer rows.Close()

	results := make([]models.SavedEstimate, 0)
	for rows.Next() {
		e, err := scanEstimate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning estimate: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// DeleteEstimate removes a saved estimate.
func (db *DB) DeleteEstimate(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM saved_estimates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting estimate %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEstimate(row rowScanner) (models.SavedEstimate, error) {
	var e models.SavedEstimate
	var created, input, result string
	if err := row.Scan(&e.ID, &e.Name, &created, &input, &result); err != nil {
		return e, err
	}
	t, err := parseTime(created)
	if err != nil {
		return e, err
	}
	e.CreatedAt = t
	e.Input = []byte(input)
	e.Result = []byte(result)
	return e, nil
}
