package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/clucraft/phusage-sub000/internal/store"
	"github.com/clucraft/phusage-sub000/pkg/models"
)

// EstimateStore keeps saved estimates in a map. It is used when Redis is
// not configured or unreachable.
type EstimateStore struct {
	mu        sync.RWMutex
	estimates map[string]models.SavedEstimate
}

var _ store.EstimateStore = (*EstimateStore)(nil)

// NewEstimateStore returns an empty estimate store.
func NewEstimateStore() *EstimateStore {
	return &EstimateStore{estimates: make(map[string]models.SavedEstimate)}
}

func (s *EstimateStore) SaveEstimate(ctx context.Context, e *models.SavedEstimate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estimates[e.ID] = *e
	return nil
}

func (s *EstimateStore) GetEstimate(ctx context.Context, id string) (*models.SavedEstimate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.estimates[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

// ListEstimates returns every estimate, newest first.
func (s *EstimateStore) ListEstimates(ctx context.Context) ([]models.SavedEstimate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]models.SavedEstimate, 0, len(s.estimates))
	for _, e := range s.estimates {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *EstimateStore) DeleteEstimate(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.estimates[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.estimates, id)
	return nil
}
