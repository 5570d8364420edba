package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/clucraft/phusage-sub000/pkg/models"
)

// GroupBy selects the attribute calls are bucketed by.
type GroupBy string

const (
	GroupByUser        GroupBy = "user"
	GroupByDestination GroupBy = "destination"
	GroupByOrigin      GroupBy = "origin"
	GroupByMonth       GroupBy = "month"
)

// ErrInvalidGroupBy is returned by ParseGroupBy for unknown dimensions.
var ErrInvalidGroupBy = errors.New("invalid group_by")

// ParseGroupBy maps a user supplied dimension name onto a GroupBy.
func ParseGroupBy(s string) (GroupBy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "user", "users", "email":
		return GroupByUser, nil
	case "destination", "destcountry", "dest", "destination_country":
		return GroupByDestination, nil
	case "origin", "origincountry", "location", "origin_country":
		return GroupByOrigin, nil
	case "month", "monthly":
		return GroupByMonth, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidGroupBy, s)
}

// Filter narrows the record set before grouping. Zero values disable a bound.
type Filter struct {
	From      time.Time `json:"from,omitempty"`
	To        time.Time `json:"to,omitempty"`
	CarrierID *int64    `json:"carrier_id,omitempty"`
}

// Matches reports whether a record passes the filter. The range is inclusive.
// Records that carry no carrier are kept under a carrier filter.
func (f Filter) Matches(r models.CallRecord) bool {
	if !f.From.IsZero() && r.StartedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.StartedAt.After(f.To) {
		return false
	}
	if f.CarrierID != nil && r.CarrierID != nil && *r.CarrierID != *f.CarrierID {
		return false
	}
	return true
}

func (f Filter) carrierFor(r models.CallRecord) *int64 {
	if f.CarrierID != nil {
		return f.CarrierID
	}
	return r.CarrierID
}

// RateCall resolves the rate of one call and returns its unrounded cost.
func RateCall(cat *Catalog, r models.CallRecord, f Filter) (Resolution, decimal.Decimal) {
	res := cat.Resolve(r.OriginCountry, r.DestinationCountry, r.CallType, f.carrierFor(r))
	if !res.Found {
		return res, decimal.Zero
	}
	return res, Cost(r.DurationSeconds, res.PricePerMinute)
}

// DestinationTotal is one destination inside a location bucket.
type DestinationTotal struct {
	Country    string          `json:"country"`
	TotalCalls int64           `json:"total_calls"`
	TotalCost  decimal.Decimal `json:"total_cost"`
}

// Bucket is one grouped aggregation result.
type Bucket struct {
	Key           string             `json:"key"`
	Label         string             `json:"label"`
	TotalCalls    int64              `json:"total_calls"`
	TotalSeconds  int64              `json:"total_seconds"`
	TotalMinutes  int64              `json:"total_minutes"`
	TotalCost     decimal.Decimal    `json:"total_cost"`
	DistinctUsers int                `json:"distinct_users"`
	UnpricedCalls int64              `json:"unpriced_calls"`
	Destinations  []DestinationTotal `json:"destinations,omitempty"`
}

type destAcc struct {
	calls int64
	cost  decimal.Decimal
}

type accumulator struct {
	label    string
	calls    int64
	seconds  int64
	unpriced int64
	cost     decimal.Decimal
	users    map[string]struct{}
	dests    map[string]*destAcc
}

func newAccumulator() *accumulator {
	return &accumulator{cost: decimal.Zero, users: make(map[string]struct{})}
}

func (a *accumulator) add(r models.CallRecord, cost decimal.Decimal, found bool, trackDest bool) {
	a.calls++
	if r.DurationSeconds > 0 {
		a.seconds += r.DurationSeconds
	}
	if !found {
		a.unpriced++
	}
	a.cost = a.cost.Add(cost)
	a.users[r.UserEmail] = struct{}{}
	a.takeLabel(strings.TrimSpace(r.UserName))
	if trackDest {
		if a.dests == nil {
			a.dests = make(map[string]*destAcc)
		}
		key := orUnknown(r.DestinationCountry)
		d, ok := a.dests[key]
		if !ok {
			d = &destAcc{cost: decimal.Zero}
			a.dests[key] = d
		}
		d.calls++
		d.cost = d.cost.Add(cost)
	}
}

// takeLabel keeps the smallest non-empty display name so merges are order independent.
func (a *accumulator) takeLabel(name string) {
	if name == "" {
		return
	}
	if a.label == "" || name < a.label {
		a.label = name
	}
}

func (a *accumulator) merge(o *accumulator) {
	a.calls += o.calls
	a.seconds += o.seconds
	a.unpriced += o.unpriced
	a.cost = a.cost.Add(o.cost)
	for u := range o.users {
		a.users[u] = struct{}{}
	}
	a.takeLabel(o.label)
	if len(o.dests) > 0 && a.dests == nil {
		a.dests = make(map[string]*destAcc, len(o.dests))
	}
	for k, od := range o.dests {
		d, ok := a.dests[k]
		if !ok {
			d = &destAcc{cost: decimal.Zero}
			a.dests[k] = d
		}
		d.calls += od.calls
		d.cost = d.cost.Add(od.cost)
	}
}

func (a *accumulator) bucket(key string, groupBy GroupBy) Bucket {
	b := Bucket{
		Key:           key,
		Label:         key,
		TotalCalls:    a.calls,
		TotalSeconds:  a.seconds,
		TotalMinutes:  WholeMinutes(a.seconds),
		TotalCost:     RoundMoney(a.cost),
		DistinctUsers: len(a.users),
		UnpricedCalls: a.unpriced,
	}
	if groupBy == GroupByUser && a.label != "" {
		b.Label = a.label
	}
	if len(a.dests) > 0 {
		b.Destinations = make([]DestinationTotal, 0, len(a.dests))
		for country, d := range a.dests {
			b.Destinations = append(b.Destinations, DestinationTotal{
				Country:    country,
				TotalCalls: d.calls,
				TotalCost:  RoundMoney(d.cost),
			})
		}
		sort.Slice(b.Destinations, func(i, j int) bool {
			x, y := b.Destinations[i], b.Destinations[j]
			if c := x.TotalCost.Cmp(y.TotalCost); c != 0 {
				return c > 0
			}
			if x.TotalCalls != y.TotalCalls {
				return x.TotalCalls > y.TotalCalls
			}
			return x.Country < y.Country
		})
	}
	return b
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return UnknownKey
	}
	return s
}

// KeyOf returns the bucket key of a record for the given dimension.
// Emails are used as-is: grouping is case sensitive.
func KeyOf(r models.CallRecord, groupBy GroupBy) string {
	switch groupBy {
	case GroupByDestination:
		return orUnknown(r.DestinationCountry)
	case GroupByOrigin:
		return orUnknown(r.OriginCountry)
	case GroupByMonth:
		if r.StartedAt.IsZero() {
			return UnknownKey
		}
		return r.StartedAt.UTC().Format(monthLayout)
	default:
		if r.UserEmail == "" {
			return UnknownKey
		}
		return r.UserEmail
	}
}

// Partial is a mergeable aggregation state. Combining partials is a straight
// sum plus set union, so Merge(A, B) equals aggregating A and B together.
type Partial struct {
	groupBy   GroupBy
	trackDest bool
	buckets   map[string]*accumulator
}

// NewPartial returns an empty partial for the dimension.
func NewPartial(groupBy GroupBy) *Partial {
	return &Partial{
		groupBy:   groupBy,
		trackDest: groupBy == GroupByOrigin,
		buckets:   make(map[string]*accumulator),
	}
}

// Add folds one already-rated call into the partial.
func (p *Partial) Add(r models.CallRecord, cost decimal.Decimal, found bool) {
	key := KeyOf(r, p.groupBy)
	acc, ok := p.buckets[key]
	if !ok {
		acc = newAccumulator()
		p.buckets[key] = acc
	}
	acc.add(r, cost, found, p.trackDest)
}

// Merge folds o into p. o must not be used afterwards.
func (p *Partial) Merge(o *Partial) {
	for key, oa := range o.buckets {
		acc, ok := p.buckets[key]
		if !ok {
			p.buckets[key] = oa
			continue
		}
		acc.merge(oa)
	}
}

// Buckets materialises the partial in presentation order.
func (p *Partial) Buckets() []Bucket {
	out := make([]Bucket, 0, len(p.buckets))
	for key, acc := range p.buckets {
		out = append(out, acc.bucket(key, p.groupBy))
	}
	SortBuckets(out)
	return out
}

// SortBuckets orders buckets by cost desc, then calls desc, then key asc.
func SortBuckets(b []Bucket) {
	sort.Slice(b, func(i, j int) bool {
		if c := b[i].TotalCost.Cmp(b[j].TotalCost); c != 0 {
			return c > 0
		}
		if b[i].TotalCalls != b[j].TotalCalls {
			return b[i].TotalCalls > b[j].TotalCalls
		}
		return b[i].Key < b[j].Key
	})
}

// TopN returns the first n buckets of an already ordered slice. n <= 0 means all.
func TopN(b []Bucket, n int) []Bucket {
	if n <= 0 || n >= len(b) {
		return b
	}
	return b[:n]
}

func (p *Partial) fold(records []models.CallRecord, cat *Catalog, f Filter) {
	for _, r := range records {
		if !f.Matches(r) {
			continue
		}
		res, cost := RateCall(cat, r, f)
		p.Add(r, cost, res.Found)
	}
}

// Aggregate filters, rates and groups records sequentially.
func Aggregate(records []models.CallRecord, cat *Catalog, groupBy GroupBy, f Filter) []Bucket {
	p := NewPartial(groupBy)
	p.fold(records, cat, f)
	return p.Buckets()
}

// AggregateParallel splits records into contiguous chunks, aggregates each
// on its own goroutine and merges the partials. The result equals Aggregate.
func AggregateParallel(ctx context.Context, records []models.CallRecord, cat *Catalog, groupBy GroupBy, f Filter, workers int) ([]Bucket, error) {
	if workers <= 1 || len(records) < 2*workers {
		return Aggregate(records, cat, groupBy, f), nil
	}

	chunk := (len(records) + workers - 1) / workers
	partials := make([]*Partial, workers)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		lo := i * chunk
		if lo >= len(records) {
			partials[i] = NewPartial(groupBy)
			continue
		}
		hi := lo + chunk
		if hi > len(records) {
			hi = len(records)
		}
		i, part := i, records[lo:hi]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p := NewPartial(groupBy)
			p.fold(part, cat, f)
			partials[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("aggregating calls: %w", err)
	}

	merged := NewPartial(groupBy)
	for _, p := range partials {
		merged.Merge(p)
	}
	return merged.Buckets(), nil
}

// Summary holds overall totals over a filtered record set.
type Summary struct {
	TotalCalls    int64           `json:"total_calls"`
	TotalSeconds  int64           `json:"total_seconds"`
	TotalMinutes  int64           `json:"total_minutes"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	DistinctUsers int             `json:"distinct_users"`
	UnpricedCalls int64           `json:"unpriced_calls"`
}

// Summarize returns the totals of every record that passes the filter.
func Summarize(records []models.CallRecord, cat *Catalog, f Filter) Summary {
	acc := newAccumulator()
	for _, r := range records {
		if !f.Matches(r) {
			continue
		}
		res, cost := RateCall(cat, r, f)
		acc.add(r, cost, res.Found, false)
	}
	return Summary{
		TotalCalls:    acc.calls,
		TotalSeconds:  acc.seconds,
		TotalMinutes:  WholeMinutes(acc.seconds),
		TotalCost:     RoundMoney(acc.cost),
		DistinctUsers: len(acc.users),
		UnpricedCalls: acc.unpriced,
	}
}

// LocationMap groups by origin country; each bucket lists its destinations.
func LocationMap(records []models.CallRecord, cat *Catalog, f Filter) []Bucket {
	return Aggregate(records, cat, GroupByOrigin, f)
}
