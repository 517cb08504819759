package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
	"github.com/platinummonkey/tierflow/pkg/observability"
	"github.com/platinummonkey/tierflow/pkg/plans"
)

// DraftStore keeps one Orchestrator per customer. Idle drafts expire and are
// closed on eviction.
type DraftStore struct {
	source  plans.Source
	service PreviewService
	cfg     Config
	clock   clockwork.Clock
	logger  *observability.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	drafts *expirable.LRU[string, *Orchestrator]
}

// NewDraftStore creates a DraftStore holding up to size drafts for ttl each
func NewDraftStore(source plans.Source, service PreviewService, cfg Config, size int, ttl time.Duration,
	clock clockwork.Clock, logger *observability.Logger, metrics *observability.Metrics) *DraftStore {
	if size <= 0 {
		size = 1024
	}
	return &DraftStore{
		source:  source,
		service: service,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		drafts: expirable.NewLRU[string, *Orchestrator](size, func(_ string, o *Orchestrator) {
			o.Close()
		}, ttl),
	}
}

// Get returns the customer's draft, creating it over the active catalog
func (s *DraftStore) Get(ctx context.Context, customerID string) (*Orchestrator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.drafts.Get(customerID); ok {
		return o, nil
	}

	cat, err := s.source.LoadCatalog(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	logger := s.logger
	if logger != nil {
		logger = logger.WithField("customer_id", customerID)
	}
	o := NewOrchestrator(cat, s.service, s.cfg, s.clock, logger, s.metrics)
	s.drafts.Add(customerID, o)
	return o, nil
}

// Peek returns the customer's draft without creating one
func (s *DraftStore) Peek(customerID string) (*Orchestrator, bool) {
	return s.drafts.Peek(customerID)
}

// Remove closes and drops the customer's draft
func (s *DraftStore) Remove(customerID string) {
	s.drafts.Remove(customerID)
}

// Len returns the number of live drafts
func (s *DraftStore) Len() int {
	return s.drafts.Len()
}

// Close closes every draft
func (s *DraftStore) Close() {
	s.drafts.Purge()
}
