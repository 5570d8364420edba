// Package store declares the repositories the report service reads call
// records and rate entries through. Implementations live in
// internal/database (PostgreSQL), internal/sqlitedb (SQLite),
// internal/store/memory and pkg/cache (saved estimates on Redis).
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clucraft/phusage-sub000/internal/engine"
	"github.com/clucraft/phusage-sub000/pkg/models"
)

// ErrNotFound is returned when a single entity lookup has no result.
var ErrNotFound = errors.New("not found")

// ErrInvalidRate is returned when a rate entry cannot be stored.
var ErrInvalidRate = errors.New("invalid rate")

// CallQuery narrows the calls a repository returns. Zero values disable a
// condition. The engine re-applies the date and carrier filter, so
// repositories may over-fetch but must never drop a matching record.
type CallQuery struct {
	From          time.Time
	To            time.Time
	CarrierID     *int64
	OriginCountry string
	// EmailContains is a case-insensitive substring of the user email.
	EmailContains string
}

// Matches applies the query to a single record.
func (q CallQuery) Matches(r models.CallRecord) bool {
	if !q.From.IsZero() && r.StartedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && r.StartedAt.After(q.To) {
		return false
	}
	if q.CarrierID != nil && r.CarrierID != nil && *r.CarrierID != *q.CarrierID {
		return false
	}
	if q.OriginCountry != "" && strings.TrimSpace(r.OriginCountry) != q.OriginCountry {
		return false
	}
	if q.EmailContains != "" && !strings.Contains(strings.ToLower(r.UserEmail), strings.ToLower(q.EmailContains)) {
		return false
	}
	return true
}

// RateQuery narrows the rate entries a repository returns.
type RateQuery struct {
	OriginCountry string
	CarrierID     *int64
}

// Matches applies the query to a single rate entry.
func (q RateQuery) Matches(r models.RateEntry) bool {
	if q.OriginCountry != "" && strings.TrimSpace(r.OriginCountry) != q.OriginCountry {
		return false
	}
	if q.CarrierID != nil && (r.CarrierID == nil || *r.CarrierID != *q.CarrierID) {
		return false
	}
	return true
}

// CallRepository stores observed calls.
type CallRepository interface {
	ListCalls(ctx context.Context, q CallQuery) ([]models.CallRecord, error)
	InsertCalls(ctx context.Context, calls []models.CallRecord) (int, error)
}

// RateRepository stores the rate catalog. UpsertRate replaces the entry with
// the same (origin, destination label, call type, carrier) lane.
type RateRepository interface {
	ListRates(ctx context.Context, q RateQuery) ([]models.RateEntry, error)
	UpsertRate(ctx context.Context, r *models.RateEntry) error
	DeleteRate(ctx context.Context, id int64) error
}

// CarrierRepository stores carriers.
type CarrierRepository interface {
	ListCarriers(ctx context.Context) ([]models.Carrier, error)
	UpsertCarrier(ctx context.Context, c *models.Carrier) error
}

// EstimateStore keeps saved scenario estimates.
type EstimateStore interface {
	SaveEstimate(ctx context.Context, e *models.SavedEstimate) error
	GetEstimate(ctx context.Context, id string) (*models.SavedEstimate, error)
	ListEstimates(ctx context.Context) ([]models.SavedEstimate, error)
	DeleteEstimate(ctx context.Context, id string) error
}

// Store is a complete storage backend for calls, rates and carriers.
type Store interface {
	CallRepository
	RateRepository
	CarrierRepository
	Ping(ctx context.Context) error
	Close() error
}

// LaneKey identifies a rate lane for upserts.
func LaneKey(r models.RateEntry) string {
	carrier := "-"
	if r.CarrierID != nil {
		carrier = strconv.FormatInt(*r.CarrierID, 10)
	}
	return strings.Join([]string{
		strings.TrimSpace(r.OriginCountry),
		strings.TrimSpace(r.DestinationLabel),
		callTypeOrDefault(r.CallType),
		carrier,
	}, "|")
}

// NormalizeRate trims the lane fields, defaults the call type, fills the
// derived destination country and rounds the price to catalog precision.
// Every repository calls it before persisting a rate.
func NormalizeRate(r *models.RateEntry) error {
	r.OriginCountry = strings.TrimSpace(r.OriginCountry)
	r.DestinationLabel = strings.TrimSpace(r.DestinationLabel)
	r.CallType = callTypeOrDefault(r.CallType)
	r.DestinationCountry = r.DestCountry()
	if r.OriginCountry == "" {
		return fmt.Errorf("%w: origin_country is required", ErrInvalidRate)
	}
	if r.DestinationLabel == "" {
		return fmt.Errorf("%w: destination is required", ErrInvalidRate)
	}
	if r.PricePerMinute.Sign() < 0 {
		return fmt.Errorf("%w: price_per_minute must be >= 0", ErrInvalidRate)
	}
	r.PricePerMinute = engine.RoundPrice(r.PricePerMinute)
	return nil
}

func callTypeOrDefault(ct string) string {
	if ct = strings.TrimSpace(ct); ct == "" {
		return engine.DefaultCallType
	}
	return ct
}
