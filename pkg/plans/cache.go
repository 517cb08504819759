package plans

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedSource memoizes catalog snapshots for a bounded time.
// Invalidate drops every snapshot so the next load reads the backing source.
type CachedSource struct {
	source Source
	cache  *expirable.LRU[bool, *Catalog]
}

// NewCachedSource wraps source with a cache whose entries live for ttl
func NewCachedSource(source Source, ttl time.Duration) *CachedSource {
	return &CachedSource{
		source: source,
		cache:  expirable.NewLRU[bool, *Catalog](2, nil, ttl),
	}
}

// LoadCatalog returns a cached snapshot or loads a new one
func (s *CachedSource) LoadCatalog(ctx context.Context, activeOnly bool) (*Catalog, error) {
	if c, ok := s.cache.Get(activeOnly); ok {
		return c, nil
	}
	c, err := s.source.LoadCatalog(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	s.cache.Add(activeOnly, c)
	return c, nil
}

// Invalidate drops all cached snapshots
func (s *CachedSource) Invalidate() {
	s.cache.Purge()
}
