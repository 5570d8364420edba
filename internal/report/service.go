// Package report loads a request-scoped snapshot of calls and rates through
// the repositories and runs the engine over it. Nothing is cached between
// calls: every operation sees the store as it is at request time.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clucraft/phusage-sub000/internal/analytics"
	"github.com/clucraft/phusage-sub000/internal/engine"
	"github.com/clucraft/phusage-sub000/internal/logger"
	"github.com/clucraft/phusage-sub000/internal/store"
	"github.com/clucraft/phusage-sub000/pkg/models"
)

var (
	// ErrInvalidYear is returned for template requests outside a sane range.
	ErrInvalidYear = errors.New("invalid year")
	// ErrInvalidCall is returned when an imported call record is unusable.
	ErrInvalidCall = errors.New("invalid call record")
)

// Service answers cost report, lookup and estimate requests.
type Service struct {
	store    store.Store
	workers  int
	insights *analytics.Engine
}

// New creates a report service. workers bounds the parallel aggregation
// fan-out; values below 2 aggregate sequentially.
func New(s store.Store, workers int) *Service {
	return &Service{store: s, workers: workers, insights: analytics.NewEngine(nil)}
}

// CostReport is the answer of a grouped cost query.
type CostReport struct {
	GroupBy engine.GroupBy  `json:"group_by"`
	Filter  engine.Filter   `json:"filter"`
	Summary engine.Summary  `json:"summary"`
	Buckets []engine.Bucket `json:"buckets"`
}

func callQuery(f engine.Filter) store.CallQuery {
	return store.CallQuery{From: f.From, To: f.To, CarrierID: f.CarrierID}
}

// snapshot fetches the calls matching cq and the full rate catalog
// concurrently.
func (s *Service) snapshot(ctx context.Context, cq store.CallQuery, rq store.RateQuery) ([]models.CallRecord, *engine.Catalog, error) {
	var (
		calls []models.CallRecord
		rates []models.RateEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if calls, err = s.store.ListCalls(gctx, cq); err != nil {
			return fmt.Errorf("loading calls: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if rates, err = s.store.ListRates(gctx, rq); err != nil {
			return fmt.Errorf("loading rates: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	cat := engine.NewCatalog(rates)
	logger.EngineLog.Debugf("snapshot: %d calls, %d rates", len(calls), cat.Len())
	return calls, cat, nil
}

func (s *Service) catalog(ctx context.Context, rq store.RateQuery) (*engine.Catalog, error) {
	rates, err := s.store.ListRates(ctx, rq)
	if err != nil {
		return nil, fmt.Errorf("loading rates: %w", err)
	}
	return engine.NewCatalog(rates), nil
}

// Costs aggregates calls by groupBy and returns the buckets in presentation
// order together with the overall summary.
func (s *Service) Costs(ctx context.Context, groupBy engine.GroupBy, f engine.Filter) (*CostReport, error) {
	calls, cat, err := s.snapshot(ctx, callQuery(f), store.RateQuery{})
	if err != nil {
		return nil, err
	}
	buckets, err := engine.AggregateParallel(ctx, calls, cat, groupBy, f, s.workers)
	if err != nil {
		return nil, err
	}
	return &CostReport{
		GroupBy: groupBy,
		Filter:  f,
		Summary: engine.Summarize(calls, cat, f),
		Buckets: buckets,
	}, nil
}

// Top returns the n highest-cost buckets.
func (s *Service) Top(ctx context.Context, groupBy engine.GroupBy, f engine.Filter, n int) ([]engine.Bucket, error) {
	rep, err := s.Costs(ctx, groupBy, f)
	if err != nil {
		return nil, err
	}
	return engine.TopN(rep.Buckets, n), nil
}

// Trend returns the month-by-month series, gap months included.
func (s *Service) Trend(ctx context.Context, f engine.Filter) ([]engine.Bucket, error) {
	calls, cat, err := s.snapshot(ctx, callQuery(f), store.RateQuery{})
	if err != nil {
		return nil, err
	}
	if err := engine.CheckTrendSpan(calls, f); err != nil {
		return nil, err
	}
	return engine.MonthlyTrend(calls, cat, f), nil
}

// Locations returns the per-origin map with each origin's destinations.
func (s *Service) Locations(ctx context.Context, f engine.Filter) ([]engine.Bucket, error) {
	calls, cat, err := s.snapshot(ctx, callQuery(f), store.RateQuery{})
	if err != nil {
		return nil, err
	}
	return engine.LocationMap(calls, cat, f), nil
}

// User looks up the calls of every mailbox whose email contains query.
// The filter narrows the listed calls, not the set of matched mailboxes.
func (s *Service) User(ctx context.Context, query string, f engine.Filter) (*engine.UserDetail, error) {
	if strings.TrimSpace(query) == "" {
		return nil, engine.ErrUserNotFound
	}
	calls, cat, err := s.snapshot(ctx, store.CallQuery{EmailContains: strings.TrimSpace(query)}, store.RateQuery{})
	if err != nil {
		return nil, err
	}
	return engine.FindUser(calls, cat, query, f)
}

// ResolveRate resolves a single lane against the current catalog.
func (s *Service) ResolveRate(ctx context.Context, origin, dest, callType string, carrierID *int64) (engine.Resolution, error) {
	cat, err := s.catalog(ctx, store.RateQuery{OriginCountry: strings.TrimSpace(origin)})
	if err != nil {
		return engine.Resolution{}, err
	}
	return cat.Resolve(origin, dest, callType, carrierID), nil
}

// Estimate projects the monthly and yearly cost of a hypothetical site.
func (s *Service) Estimate(ctx context.Context, in engine.ScenarioInput) (*engine.ScenarioResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	cat, err := s.catalog(ctx, store.RateQuery{OriginCountry: strings.TrimSpace(in.OriginCountry)})
	if err != nil {
		return nil, err
	}
	return engine.Estimate(in, cat)
}

// Template derives a scenario template from a site's history in year.
func (s *Service) Template(ctx context.Context, origin string, year int) (*engine.Template, error) {
	if year < 1970 || year > 9999 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidYear, year)
	}
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return nil, engine.ErrNoHistory
	}
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	calls, err := s.store.ListCalls(ctx, store.CallQuery{
		From:          from,
		To:            from.AddDate(1, 0, 0).Add(-time.Nanosecond),
		OriginCountry: origin,
	})
	if err != nil {
		return nil, fmt.Errorf("loading calls: %w", err)
	}
	return engine.DeriveTemplate(calls, origin, year)
}

// Insights runs the analytics detectors over the filtered snapshot.
func (s *Service) Insights(ctx context.Context, f engine.Filter) ([]analytics.Insight, error) {
	calls, cat, err := s.snapshot(ctx, callQuery(f), store.RateQuery{})
	if err != nil {
		return nil, err
	}
	return s.insights.Generate(calls, cat, f), nil
}

// Rates lists the rate catalog, optionally narrowed to one origin.
func (s *Service) Rates(ctx context.Context, origin string) ([]models.RateEntry, error) {
	return s.store.ListRates(ctx, store.RateQuery{OriginCountry: strings.TrimSpace(origin)})
}

// ImportRates upserts every entry and returns how many were stored. It stops
// at the first invalid entry.
func (s *Service) ImportRates(ctx context.Context, rates []models.RateEntry) (int, error) {
	for i := range rates {
		if err := s.store.UpsertRate(ctx, &rates[i]); err != nil {
			return i, fmt.Errorf("rate %d: %w", i+1, err)
		}
	}
	logger.EngineLog.Infof("imported %d rates", len(rates))
	return len(rates), nil
}

// ImportCalls stores already-classified call records. Zero-length calls were
// never connected and are dropped; the returned count excludes them.
func (s *Service) ImportCalls(ctx context.Context, calls []models.CallRecord) (int, error) {
	kept := make([]models.CallRecord, 0, len(calls))
	for i, c := range calls {
		if c.DurationSeconds < 0 {
			return 0, fmt.Errorf("%w %d: negative duration", ErrInvalidCall, i+1)
		}
		if strings.TrimSpace(c.UserEmail) == "" {
			return 0, fmt.Errorf("%w %d: user_email is required", ErrInvalidCall, i+1)
		}
		if c.DurationSeconds == 0 {
			continue
		}
		kept = append(kept, c)
	}
	if dropped := len(calls) - len(kept); dropped > 0 {
		logger.EngineLog.Debugf("dropped %d zero-duration calls", dropped)
	}
	if len(kept) == 0 {
		return 0, nil
	}
	n, err := s.store.InsertCalls(ctx, kept)
	if err != nil {
		return 0, err
	}
	logger.EngineLog.Infof("imported %d calls", n)
	return n, nil
}
