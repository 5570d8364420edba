package database

import (
	"strings"
	"testing"
	"time"

	"github.com/clucraft/phusage-sub000/internal/store"
)

func TestCallQuerySQL(t *testing.T) {
	carrier := int64(4)
	from := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	query, args := callQuerySQL(store.CallQuery{
		From:          from,
		CarrierID:     &carrier,
		EmailContains: "a_b%",
	})

	for _, want := range []string{
		"started_at >= $1",
		"(carrier_id IS NULL OR carrier_id = $2)",
		"user_email ILIKE $3",
		"ORDER BY started_at, id",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("expected %q in query:\n%s", want, query)
		}
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(args))
	}
	if args[2] != `%a\_b\%%` {
		t.Errorf("expected escaped LIKE pattern, got %v", args[2])
	}
}

func TestCallQuerySQLNoConditions(t *testing.T) {
	query, args := callQuerySQL(store.CallQuery{})
	if strings.Contains(query, "WHERE") || len(args) != 0 {
		t.Errorf("expected an unfiltered query, got %s %v", query, args)
	}
}

func TestRateQuerySQL(t *testing.T) {
	query, args := rateQuerySQL(store.RateQuery{OriginCountry: "USA"})
	if !strings.Contains(query, "origin_country = $1") || len(args) != 1 {
		t.Errorf("unexpected rate query %s %v", query, args)
	}
	if !strings.Contains(query, "price_per_minute::text") {
		t.Error("prices must be read as text to keep decimal precision")
	}
}

func TestNullIfEmpty(t *testing.T) {
	if nullIfEmpty("  ") != nil {
		t.Error("blank strings should be stored as NULL")
	}
	if nullIfEmpty("USA") != "USA" {
		t.Error("non-blank strings should pass through")
	}
}
