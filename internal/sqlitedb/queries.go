package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/clucraft/phusage-sub000/internal/engine"
	"github.com/clucraft/phusage-sub000/internal/store"
	"github.com/clucraft/phusage-sub000/pkg/models"
)

// ListCalls returns the calls matching q ordered by start time.
func (db *DB) ListCalls(ctx context.Context, q store.CallQuery) ([]models.CallRecord, error) {
	var (
		conds []string
		args  []any
	)
	if !q.From.IsZero() {
		conds = append(conds, "started_at >= ?")
		args = append(args, formatTime(q.From))
	}
	if !q.To.IsZero() {
		conds = append(conds, "started_at <= ?")
		args = append(args, formatTime(q.To))
	}
	if q.CarrierID != nil {
		conds = append(conds, "(carrier_id IS NULL OR carrier_id = ?)")
		args = append(args, *q.CarrierID)
	}
	if q.OriginCountry != "" {
		conds = append(conds, "origin_country = ?")
		args = append(args, q.OriginCountry)
	}
	if q.EmailContains != "" {
		conds = append(conds, `LOWER(user_email) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(q.EmailContains))+"%")
	}

	query := `SELECT id, user_name, user_email, started_at, duration_seconds, call_type,
		source_number, destination_number, origin_country, destination_country, carrier_id
		FROM calls`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at, id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying calls: %w", err)
	}
	defer rows.Close()

	results := make([]models.CallRecord, 0)
	for rows.Next() {
		var (
			c       models.CallRecord
			started string
			carrier sql.NullInt64
		)
		if err := rows.Scan(
			&c.ID, &c.UserName, &c.UserEmail, &started, &c.DurationSeconds, &c.CallType,
			&c.SourceNumber, &c.DestinationNumber, &c.OriginCountry, &c.DestinationCountry, &carrier,
		); err != nil {
			return nil, fmt.Errorf("scanning call: %w", err)
		}
		if c.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if carrier.Valid {
			id := carrier.Int64
			c.CarrierID = &id
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// InsertCalls inserts calls in a single transaction. Ids are assigned by
// the database.
func (db *DB) InsertCalls(ctx context.Context, calls []models.CallRecord) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO calls (
		user_name, user_email, started_at, duration_seconds, call_type,
		source_number, destination_number, origin_country, destination_country, carrier_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing call insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range calls {
		callType := c.CallType
		if callType == "" {
			callType = engine.DefaultCallType
		}
		if _, err := stmt.ExecContext(ctx,
			c.UserName, c.UserEmail, formatTime(c.StartedAt), c.DurationSeconds, callType,
			c.SourceNumber, c.DestinationNumber, strings.TrimSpace(c.OriginCountry),
			strings.TrimSpace(c.DestinationCountry), nullableID(c.CarrierID),
		); err != nil {
			return 0, fmt.Errorf("inserting call for %s: %w", c.UserEmail, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing calls: %w", err)
	}
	return len(calls), nil
}

// ListRates returns the rate entries matching q ordered by id.
func (db *DB) ListRates(ctx context.Context, q store.RateQuery) ([]models.RateEntry, error) {
	query := `SELECT id, origin_country, destination, destination_country, call_type,
		price_per_minute, carrier_id, effective_from, effective_to FROM rates`
	var (
		conds []string
		args  []any
	)
	if q.OriginCountry != "" {
		conds = append(conds, "origin_country = ?")
		args = append(args, q.OriginCountry)
	}
	if q.CarrierID != nil {
		conds = append(conds, "carrier_id = ?")
		args = append(args, *q.CarrierID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rates: %w", err)
	}
	defer rows.Close()

	results := make([]models.RateEntry, 0)
	for rows.Next() {
		var (
			r        models.RateEntry
			price    string
			carrier  sql.NullInt64
			from, to sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.OriginCountry, &r.DestinationLabel, &r.DestinationCountry,
			&r.CallType, &price, &carrier, &from, &to); err != nil {
			return nil, fmt.Errorf("scanning rate: %w", err)
		}
		if r.PricePerMinute, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parsing price of rate %d: %w", r.ID, err)
		}
		if carrier.Valid {
			id := carrier.Int64
			r.CarrierID = &id
		}
		if r.EffectiveFrom, err = parseNullTime(from); err != nil {
			return nil, err
		}
		if r.EffectiveTo, err = parseNullTime(to); err != nil {
			return nil, err
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
	var carrierKey int64
	if r.CarrierID != nil {
		carrierKey = *r.CarrierID
	}
	err := db.QueryRowContext(ctx, `
		INSERT INTO rates (
			origin_country, destination, destination_country, call_type,
			price_per_minute, carrier_id, carrier_key, effective_from, effective_to
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (origin_country, destination, call_type, carrier_key) DO UPDATE
		SET destination_country = excluded.destination_country,
		    price_per_minute = excluded.price_per_minute,
		    effective_from = excluded.effective_from,
		    effective_to = excluded.effective_to
		RETURNING id`,
		r.OriginCountry, r.DestinationLabel, r.DestinationCountry, r.CallType,
		r.PricePerMinute.String(), nullableID(r.CarrierID), carrierKey,
		nullableTime(r.EffectiveFrom), nullableTime(r.EffectiveTo),
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("upserting rate %s: %w", store.LaneKey(*r), err)
	}
	return nil
}

// DeleteRate removes a rate entry by id.
func (db *DB) DeleteRate(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM rates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting rate %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListCarriers returns every carrier ordered by name.
func (db *DB) ListCarriers(ctx context.Context) ([]models.Carrier, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name FROM carriers ORDER BY name`)
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
		res, err := db.ExecContext(ctx, `UPDATE carriers SET name = ? WHERE id = ?`, c.Name, c.ID)
		if err != nil {
			return fmt.Errorf("updating carrier %d: %w", c.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return store.ErrNotFound
		}
		return nil
	}
	err := db.QueryRowContext(ctx, `
		INSERT INTO carriers (name) VALUES (?)
		ON CONFLICT (name) DO UPDATE SET name = excluded.name
		RETURNING id`, c.Name).Scan(&c.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inserting carrier %q: %w", c.Name, err)
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
