// Package memory implements the store interfaces on immutable in-memory
// snapshots. Readers load the current snapshot without locking; writers
// copy, modify and swap it under a mutex.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/clucraft/phusage-sub000/internal/store"
	"github.com/clucraft/phusage-sub000/pkg/models"
)

type snapshot struct {
	calls    []models.CallRecord
	rates    []models.RateEntry
	carriers []models.Carrier
	nextCall int64
	nextRate int64
}

// Store is an in-memory store.Store.
type Store struct {
	mu sync.Mutex   // serialises writers
	v  atomic.Value // *snapshot
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	s := &Store{}
	s.v.Store(&snapshot{nextCall: 1, nextRate: 1})
	return s
}

func (s *Store) load() *snapshot {
	return s.v.Load().(*snapshot)
}

// update runs fn on a shallow copy of the current snapshot and publishes it.
func (s *Store) update(fn func(next *snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.load()
	next := &snapshot{
		calls:    cur.calls,
		rates:    append([]models.RateEntry(nil), cur.rates...),
		carriers: append([]models.Carrier(nil), cur.carriers...),
		nextCall: cur.nextCall,
		nextRate: cur.nextRate,
	}
	if err := fn(next); err != nil {
		return err
	}
	s.v.Store(next)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ListCalls returns the calls matching q ordered by start time.
func (s *Store) ListCalls(ctx context.Context, q store.CallQuery) ([]models.CallRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := s.load()
	out := make([]models.CallRecord, 0, len(snap.calls))
	for _, c := range snap.calls {
		if q.Matches(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// InsertCalls appends calls, assigning ids to those without one.
func (s *Store) InsertCalls(ctx context.Context, calls []models.CallRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	err := s.update(func(next *snapshot) error {
		merged := make([]models.CallRecord, 0, len(next.calls)+len(calls))
		merged = append(merged, next.calls...)
		for _, c := range calls {
			if c.ID == 0 {
				c.ID = next.nextCall
			}
			if c.ID >= next.nextCall {
				next.nextCall = c.ID + 1
			}
			merged = append(merged, c)
		}
		sort.SliceStable(merged, func(i, j int) bool {
			if !merged[i].StartedAt.Equal(merged[j].StartedAt) {
				return merged[i].StartedAt.Before(merged[j].StartedAt)
			}
			return merged[i].ID < merged[j].ID
		})
		next.calls = merged
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(calls), nil
}

// ListRates returns the rate entries matching q ordered by id.
func (s *Store) ListRates(ctx context.Context, q store.RateQuery) ([]models.RateEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := s.load()
	out := make([]models.RateEntry, 0, len(snap.rates))
	for _, r := range snap.rates {
		if q.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// UpsertRate inserts r or replaces the entry of the same lane. r.ID is set
// to the stored id.
func (s *Store) UpsertRate(ctx context.Context, r *models.RateEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.NormalizeRate(r); err != nil {
		return err
	}
	return s.update(func(next *snapshot) error {
		key := store.LaneKey(*r)
		for i := range next.rates {
			if store.LaneKey(next.rates[i]) == key {
				r.ID = next.rates[i].ID
				next.rates[i] = *r
				return nil
			}
		}
		r.ID = next.nextRate
		next.nextRate++
		next.rates = append(next.rates, *r)
		return nil
	})
}

// DeleteRate removes a rate entry by id.
func (s *Store) DeleteRate(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(func(next *snapshot) error {
		for i := range next.rates {
			if next.rates[i].ID == id {
				next.rates = append(next.rates[:i], next.rates[i+1:]...)
				return nil
			}
		}
		return store.ErrNotFound
	})
}

// ListCarriers returns carriers ordered by name.
func (s *Store) ListCarriers(ctx context.Context) ([]models.Carrier, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := append([]models.Carrier(nil), s.load().carriers...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpsertCarrier inserts or renames a carrier. A zero id inserts.
func (s *Store) UpsertCarrier(ctx context.Context, c *models.Carrier) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(func(next *snapshot) error {
		var maxID int64
		for i := range next.carriers {
			if c.ID != 0 && next.carriers[i].ID == c.ID {
				next.carriers[i] = *c
				return nil
			}
			if next.carriers[i].ID > maxID {
				maxID = next.carriers[i].ID
			}
		}
		if c.ID == 0 {
			c.ID = maxID + 1
		}
		next.carriers = append(next.carriers, *c)
		return nil
	})
}
