// Package models defines the core data structures used across phusage.
package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CallRecord is a single observed outbound Teams PSTN call.
// Records are produced by the ingestion collaborator and are never mutated here.
// Empty OriginCountry / DestinationCountry mean the number could not be classified.
type CallRecord struct {
	ID                 int64     `json:"id" db:"id"`
	UserName           string    `json:"user_name" db:"user_name"`
	UserEmail          string    `json:"user_email" db:"user_email"`
	StartedAt          time.Time `json:"started_at" db:"started_at"`
	DurationSeconds    int64     `json:"duration_seconds" db:"duration_seconds"`
	CallType           string    `json:"call_type" db:"call_type"`
	SourceNumber       string    `json:"source_number" db:"source_number"`
	DestinationNumber  string    `json:"destination_number" db:"destination_number"`
	OriginCountry      string    `json:"origin_country,omitempty" db:"origin_country"`
	DestinationCountry string    `json:"destination_country,omitempty" db:"destination_country"`
	CarrierID          *int64    `json:"carrier_id,omitempty" db:"carrier_id"`
}

// DestinationSeparator splits a refined destination label ("Afghanistan-Mobile")
// from its country ("Afghanistan").
const DestinationSeparator = "-"

// RateEntry is the billing rate for one lane.
// (OriginCountry, DestinationLabel, CallType, CarrierID) is unique.
type RateEntry struct {
	ID                 int64           `json:"id" db:"id"`
	OriginCountry      string          `json:"origin_country" db:"origin_country"`
	DestinationLabel   string          `json:"destination" db:"destination"`
	DestinationCountry string          `json:"destination_country" db:"destination_country"`
	CallType           string          `json:"call_type" db:"call_type"`
	PricePerMinute     decimal.Decimal `json:"price_per_minute" db:"price_per_minute"`
	CarrierID          *int64          `json:"carrier_id,omitempty" db:"carrier_id"`
	EffectiveFrom      *time.Time      `json:"effective_from,omitempty" db:"effective_from"`
	EffectiveTo        *time.Time      `json:"effective_to,omitempty" db:"effective_to"`
}

// DestCountry returns the derived destination country, computing it from the
// label when the ingestion layer left it empty.
func (r RateEntry) DestCountry() string {
	if c := strings.TrimSpace(r.DestinationCountry); c != "" {
		return c
	}
	return DeriveDestinationCountry(r.DestinationLabel)
}

// DeriveDestinationCountry returns the leading segment of a destination label.
func DeriveDestinationCountry(label string) string {
	label = strings.TrimSpace(label)
	if i := strings.Index(label, DestinationSeparator); i >= 0 {
		return strings.TrimSpace(label[:i])
	}
	return label
}

// Carrier is a PSTN carrier whose rate sheet has been imported.
type Carrier struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// SavedEstimate is a scenario the user chose to keep, together with the result
// computed at save time. Input and Result are stored as opaque JSON.
type SavedEstimate struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	CreatedAt time.Time       `json:"created_at"`
	Input     json.RawMessage `json:"input"`
	Result    json.RawMessage `json:"result"`
}
