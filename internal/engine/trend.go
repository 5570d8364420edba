package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/clucraft/phusage-sub000/pkg/models"
)

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ErrTrendSpan is returned when a trend would cover more than MaxTrendMonths.
var ErrTrendSpan = errors.New("trend span too long")

// trendSpan returns the first and last instant the trend covers: the filter
// bounds when set, otherwise the earliest and latest matching call.
func trendSpan(records []models.CallRecord, f Filter) (first, last time.Time) {
	for _, r := range records {
		if r.StartedAt.IsZero() || !f.Matches(r) {
			continue
		}
		if first.IsZero() || r.StartedAt.Before(first) {
			first = r.StartedAt
		}
		if last.IsZero() || r.StartedAt.After(last) {
			last = r.StartedAt
		}
	}
	if !f.From.IsZero() {
		first = f.From
	}
	if !f.To.IsZero() {
		last = f.To
	}
	return first, last
}

// TrendMonths returns how many calendar months MonthlyTrend would emit.
func TrendMonths(records []models.CallRecord, f Filter) int {
	first, last := trendSpan(records, f)
	if first.IsZero() || last.IsZero() || last.Before(first) {
		return 0
	}
	a, b := monthStart(first), monthStart(last)
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month()) + 1
}

// CheckTrendSpan rejects spans longer than MaxTrendMonths.
func CheckTrendSpan(records []models.CallRecord, f Filter) error {
	if n := TrendMonths(records, f); n > MaxTrendMonths {
		return fmt.Errorf("%w: %d months, at most %d", ErrTrendSpan, n, MaxTrendMonths)
	}
	return nil
}

// MonthlyTrend returns one bucket per calendar month (UTC) in chronological
// order. Months without calls are present with zero totals. The span is the
// filter range when set, otherwise the first to last month with data.
// Callers bound the span with CheckTrendSpan first.
func MonthlyTrend(records []models.CallRecord, cat *Catalog, f Filter) []Bucket {
	p := NewPartial(GroupByMonth)
	for _, r := range records {
		if r.StartedAt.IsZero() || !f.Matches(r) {
			continue
		}
		res, cost := RateCall(cat, r, f)
		p.Add(r, cost, res.Found)
	}
	first, last := trendSpan(records, f)
	if first.IsZero() || last.IsZero() || last.Before(first) {
		return []Bucket{}
	}

	var out []Bucket
	for m := monthStart(first); !m.After(monthStart(last)); m = m.AddDate(0, 1, 0) {
		key := m.Format(monthLayout)
		acc, ok := p.buckets[key]
		if !ok {
			acc = newAccumulator()
		}
		b := acc.bucket(key, GroupByMonth)
		b.Label = m.Format("Jan 2006")
		out = append(out, b)
	}
	return out
}
