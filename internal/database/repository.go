package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/clucraft/phusage-sub000/internal/engine"
	"github.com/clucraft/phusage-sub000/internal/store"
	"github.com/clucraft/phusage-sub000/pkg/models"
)

const callColumns = `id, user_name, user_email, started_at, duration_seconds, call_type,
	source_number, destination_number, COALESCE(origin_country, ''),
	COALESCE(destination_country, ''), carrier_id`

const rateColumns = `id, origin_country, destination, destination_country, call_type,
	price_per_minute::text, carrier_id, effective_from, effective_to`

// whereBuilder collects SQL conditions with positional arguments.
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// callQuerySQL renders a store.CallQuery into a SELECT over calls.
func callQuerySQL(q store.CallQuery) (string, []any) {
	var w whereBuilder
	if !q.From.IsZero() {
		w.add("started_at >= ?", q.From)
	}
	if !q.To.IsZero() {
		w.add("started_at <= ?", q.To)
	}
	if q.CarrierID != nil {
		w.add("(carrier_id IS NULL OR carrier_id = ?)", *q.CarrierID)
	}
	if q.OriginCountry != "" {
		w.add("origin_country = ?", q.OriginCountry)
	}
	if q.EmailContains != "" {
		w.add("user_email ILIKE ?", "%"+escapeLike(q.EmailContains)+"%")
	}
	return "SELECT " + callColumns + " FROM calls" + w.String() + " ORDER BY started_at, id", w.args
}

func rateQuerySQL(q store.RateQuery) (string, []any) {
	var w whereBuilder
	if q.OriginCountry != "" {
		w.add("origin_country = ?", q.OriginCountry)
	}
	if q.CarrierID != nil {
		w.add("carrier_id = ?", *q.CarrierID)
	}
	return "SELECT " + rateColumns + " FROM rates" + w.String() + " ORDER BY id", w.args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullIfEmpty(s string) any {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return s
}

// ListCalls returns the calls matching q.
func (db *DB) ListCalls(ctx context.Context, q store.CallQuery) ([]models.CallRecord, error) {
	query, args := callQuerySQL(q)
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying calls: %w", err)
	}
	defer rows.Close()

	results := make([]models.CallRecord, 0)
	for rows.Next() {
		var c models.CallRecord
		if err := rows.Scan(
			&c.ID, &c.UserName, &c.UserEmail, &c.StartedAt, &c.DurationSeconds, &c.CallType,
			&c.SourceNumber, &c.DestinationNumber, &c.OriginCountry,
			&c.DestinationCountry, &c.CarrierID,
		); err != nil {
			return nil, fmt.Errorf("scanning call: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// InsertCalls bulk-loads calls with COPY. Ids are assigned by the database.
func (db *DB) InsertCalls(ctx context.Context, calls []models.CallRecord) (int, error) {
	columns := []string{
		"user_name", "user_email", "started_at", "duration_seconds", "call_type",
		"source_number", "destination_number", "origin_country", "destination_country", "carrier_id",
	}
	n, err := db.Pool.CopyFrom(ctx, pgx.Identifier{"calls"}, columns,
		pgx.CopyFromSlice(len(calls), func(i int) ([]any, error) {
			c := calls[i]
			callType := c.CallType
			if callType == "" {
				callType = engine.DefaultCallType
			}
			return []any{
				c.UserName, c.UserEmail, c.StartedAt, c.DurationSeconds, callType,
				c.SourceNumber, c.DestinationNumber, nullIfEmpty(c.OriginCountry),
				nullIfEmpty(c.DestinationCountry), c.CarrierID,
			}, nil
		}))
	if err != nil {
		return 0, fmt.Errorf("copying calls: %w", err)
	}
	return int(n), nil
}

func scanRate(row pgx.Row) (models.RateEntry, error) {
	var (
		r     models.RateEntry
		price string
	)
	if err := row.Scan(
		&r.ID, &r.OriginCountry, &r.DestinationLabel, &r.DestinationCountry, &r.CallType,
		&price, &r.CarrierID, &r.EffectiveFrom, &r.EffectiveTo,
	); err != nil {
		return r, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return r, fmt.Errorf("parsing price %q of rate %d: %w", price, r.ID, err)
	}
	r.PricePerMinute = p
	return r, nil
}

// ListRates returns the rate entries matching q.
func (db *DB) ListRates(ctx context.Context, q store.RateQuery) ([]models.RateEntry, error) {
	query, args := rateQuerySQL(q)
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rates: %w", err)
	}
	defer rows.Close()

	results := make([]models.RateEntry, 0)
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rate: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// UpsertRate creates or replaces the rate of a lane.
func (db *DB) UpsertRate(ctx context.Context, r *models.RateEntry) error {
	if err := store.NormalizeRate(r); err != nil {
		return err
	}
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO rates (
			origin_country, destination, destination_country, call_type,
			price_per_minute, carrier_id, effective_from, effective_to
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)
		ON CONFLICT (origin_country, destination, call_type, (COALESCE(carrier_id, 0))) DO UPDATE
		SET destination_country = EXCLUDED.destination_country,
		    price_per_minute = EXCLUDED.price_per_minute,
		    effective_from = EXCLUDED.effective_from,
		    effective_to = EXCLUDED.effective_to,
		    updated_at = NOW()
		RETURNING id
	`, r.OriginCountry, r.DestinationLabel, r.DestinationCountry, r.CallType,
		r.PricePerMinute.String(), r.CarrierID, r.EffectiveFrom, r.EffectiveTo).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("upserting rate %s: %w", store.LaneKey(*r), err)
	}
	return nil
}

// DeleteRate removes a rate entry by id.
func (db *DB) DeleteRate(ctx context.Context, id int64) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM rates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting rate %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListCarriers returns every carrier ordered by name.
func (db *DB) ListCarriers(ctx context.Context) ([]models.Carrier, error) {
	rows, err := db.Pool.Query(ctx, `SELECT id, name FROM carriers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying carriers: %w", err)
	}
	defer rows.Close()

	results := make([]models.Carrier, 0)
	for rows.Next() {
		var c models.Carrier
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scanning carrier: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// UpsertCarrier inserts a carrier by name, or renames it when c.ID is set.
func (db *DB) UpsertCarrier(ctx context.Context, c *models.Carrier) error {
	if c.ID != 0 {
		tag, err := db.Pool.Exec(ctx, `UPDATE carriers SET name = $1 WHERE id = $2`, c.Name, c.ID)
		if err != nil {
			return fmt.Errorf("updating carrier %d: %w", c.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	}
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO carriers (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, c.Name).Scan(&c.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inserting carrier %q: %w", c.Name, err)
	}
	return nil
}
