package analysis

import (
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/stagegate/stagegate/api/v1alpha1"
)

// Store retains resolved AnalysisRuns, with their full per-Metric
// measurement history, for audit and debugging. Runs are evicted after a
// retention period; the Store is an observability surface, not the source
// of truth for any in-flight decision.
type Store struct {
	cache *gocache.Cache
}

// NewStore returns a Store that retains runs for the provided duration.
func NewStore(retention time.Duration) *Store {
	return &Store{
		cache: gocache.New(retention, retention),
	}
}

// Put records a run. Recording the same run ID again overwrites the prior
// record.
func (s *Store) Put(run *v1alpha1.AnalysisRun) {
	s.cache.SetDefault(run.ID, run)
}

// Get returns the run with the given ID, or nil if it is unknown or has
// been evicted.
func (s *Store) Get(id string) *v1alpha1.AnalysisRun {
	if entry, ok := s.cache.Get(id); ok {
		return entry.(*v1alpha1.AnalysisRun) // nolint: forcetypeassert
	}
	return nil
}

// List returns all retained runs, ordered by ID. Run IDs are ULIDs, so the
// ordering is chronological.
func (s *Store) List() []*v1alpha1.AnalysisRun {
	items := s.cache.Items()
	runs := make([]*v1alpha1.AnalysisRun, 0, len(items))
	for _, item := range items {
		runs = append(runs, item.Object.(*v1alpha1.AnalysisRun)) // nolint: forcetypeassert
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].ID < runs[j].ID
	})
	return runs
}
