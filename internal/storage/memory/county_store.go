package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// CountyStore serves a fixed set of counties and platforms, useful for
// single-county deployments configured from a file.
type CountyStore struct {
	mu        sync.RWMutex
	counties  map[int64]recorder.County
	platforms map[int64]recorder.Platform
}

// NewCountyStore constructs a store seeded with the given targets.
func NewCountyStore(counties []recorder.County, platforms []recorder.Platform) *CountyStore {
	s := &CountyStore{
		counties:  make(map[int64]recorder.County, len(counties)),
		platforms: make(map[int64]recorder.Platform, len(platforms)),
	}
	for _, c := range counties {
		s.counties[c.ID] = c
	}
	for _, p := range platforms {
		s.platforms[p.ID] = p
	}
	return s
}

// ListActiveCounties returns active counties in name order.
func (s *CountyStore) ListActiveCounties(_ context.Context) ([]recorder.County, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []recorder.County
	for _, county := range s.counties {
		if county.Active {
			out = append(out, county)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetPlatform fetches one platform by id.
func (s *CountyStore) GetPlatform(_ context.Context, id int64) (recorder.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	platform, ok := s.platforms[id]
	if !ok {
		return recorder.Platform{}, recorder.ErrNotFound
	}
	return platform, nil
}

var _ recorder.CountyStore = (*CountyStore)(nil)
