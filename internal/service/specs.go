package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/halcyonsec/OpForge/internal/domain"
	"github.com/halcyonsec/OpForge/internal/domain/sequence"
	"github.com/halcyonsec/OpForge/internal/port/cache"
)

// specCachePrefix namespaces sequence specs in the shared cache.
const specCachePrefix = "seqspec:"

// SpecService resolves sequence specs from the specs directory. Parsed
// specs are cached briefly so starting a run does not re-read the whole
// directory on every request; edits to spec files show up after at most
// one cache TTL.
type SpecService struct {
	dir   string
	cache cache.Cache
	ttl   time.Duration
}

// NewSpecService creates a SpecService reading specs from dir. The
// cache may be nil, in which case every lookup scans the directory.
func NewSpecService(dir string, c cache.Cache, ttl time.Duration) *SpecService {
	return &SpecService{dir: dir, cache: c, ttl: ttl}
}

// List returns a summary of every spec in the directory, bypassing the
// cache. A missing directory yields an empty list.
func (s *SpecService) List(ctx context.Context) ([]sequence.Summary, error) {
	specs, err := sequence.LoadFromDirectory(s.dir)
	if err != nil {
		return nil, err
	}
	summaries := make([]sequence.Summary, 0, len(specs))
	for i := range specs {
		summaries = append(summaries, specs[i].Summarize())
	}
	return summaries, nil
}

// Get resolves one spec by name. A cache miss scans the directory and
// warms the cache with every spec found, since run starts tend to
// arrive in bursts across sequences.
func (s *SpecService) Get(ctx context.Context, name string) (*sequence.Spec, error) {
	key := specCachePrefix + name
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var spec sequence.Spec
			if err := json.Unmarshal(data, &spec); err == nil {
				return &spec, nil
			}
			_ = s.cache.Delete(ctx, key)
		}
	}

	specs, err := sequence.LoadFromDirectory(s.dir)
	if err != nil {
		return nil, err
	}

	var found *sequence.Spec
	for i := range specs {
		if s.cache != nil {
			if data, err := json.Marshal(&specs[i]); err == nil {
				_ = s.cache.Set(ctx, specCachePrefix+specs[i].Name, data, s.ttl)
			}
		}
		if specs[i].Name == name {
			found = &specs[i]
		}
	}
	if found == nil {
		return nil, fmt.Errorf("sequence %q: %w", name, domain.ErrNotFound)
	}
	return found, nil
}
