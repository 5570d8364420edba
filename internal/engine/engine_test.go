package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/clucraft/phusage-sub000/pkg/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func i64(v int64) *int64 { return &v }

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 12, 0, 0, 0, time.UTC)
}

func rate(id int64, origin, label, callType, price string) models.RateEntry {
	return models.RateEntry{
		ID:               id,
		OriginCountry:    origin,
		DestinationLabel: label,
		CallType:         callType,
		PricePerMinute:   d(price),
	}
}

func call(id int64, email, origin, dest string, seconds int64, at time.Time) models.CallRecord {
	return models.CallRecord{
		ID:                 id,
		UserName:           email,
		UserEmail:          email,
		StartedAt:          at,
		DurationSeconds:    seconds,
		CallType:           DefaultCallType,
		OriginCountry:      origin,
		DestinationCountry: dest,
	}
}

func fixtureRates() []models.RateEntry {
	return []models.RateEntry{
		rate(1, "USA", "Germany", "Outbound", "0.02"),
		rate(2, "USA", "India", "Outbound", "0.05"),
		rate(3, "USA", "Afghanistan-Mobile", "Outbound", "0.30"),
		rate(4, "USA", "Afghanistan", "Outbound", "0.20"),
		rate(5, "Germany", "France", "Inbound", "0.01"),
	}
}
