package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/platinummonkey/tierflow/pkg/async"
	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/platinummonkey/tierflow/pkg/observability"
	"github.com/platinummonkey/tierflow/pkg/plans"
)

// PreviewStatus is the state of a custom quantity preview
type PreviewStatus string

const (
	PreviewEmpty   PreviewStatus = "empty"
	PreviewPending PreviewStatus = "pending"
	PreviewReady   PreviewStatus = "ready"
	PreviewFailed  PreviewStatus = "failed"
)

// Preview is what a client shows next to the quantity input. Quote is set
// only when Status is PreviewReady.
type Preview struct {
	Status   PreviewStatus `json:"status"`
	Quantity int           `json:"quantity,omitempty"`
	Quote    *Quote        `json:"quote,omitempty"`
	Err      error         `json:"-"`
}

// Config tunes an Orchestrator
type Config struct {
	Debounce     time.Duration
	MaxQuantity  int
	FetchTimeout time.Duration
}

// DefaultConfig returns the default orchestrator settings
func DefaultConfig() Config {
	return Config{
		Debounce:     500 * time.Millisecond,
		MaxQuantity:  1000,
		FetchTimeout: 10 * time.Second,
	}
}

// Orchestrator manages one customer's tier or custom quantity draft
type Orchestrator struct {
	catalog *plans.Catalog
	service PreviewService
	cfg     Config
	clock   clockwork.Clock
	logger  *observability.Logger
	metrics *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	tierID   string
	quantity int
	preview  Preview
	timer    clockwork.Timer
	// generation changes on every edit; a debounce timer only fires for the
	// generation that armed it.
	generation uint64
	issued     uint64
	applied    uint64
	closed     bool
}

// NewOrchestrator creates an Orchestrator over a catalog snapshot
func NewOrchestrator(cat *plans.Catalog, service PreviewService, cfg Config, clock clockwork.Clock,
	logger *observability.Logger, metrics *observability.Metrics) *Orchestrator {
	defaults := DefaultConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaults.Debounce
	}
	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = defaults.MaxQuantity
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaults.FetchTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	ctx, cancel := context.WithCancel(observability.WithLogger(context.Background(), logger))
	return &Orchestrator{
		catalog: cat,
		service: service,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		preview: Preview{Status: PreviewEmpty},
	}
}

// SetInput handles an edit of the custom quantity field. Typing clears any
// selected tier. Invalid input clears the preview immediately and returns the
// validation error; valid input marks the preview pending and re-arms the
// debounce timer.
func (o *Orchestrator) SetInput(text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("pricing draft closed")
	}

	o.generation++
	o.stopTimerLocked()
	o.tierID = ""

	q, err := ParseQuantity(text)
	if err == nil {
		err = ValidateQuantity(o.catalog, q, o.cfg.MaxQuantity)
	}
	if err != nil {
		o.quantity = 0
		o.preview = Preview{Status: PreviewEmpty}
		return err
	}

	if q == o.quantity && o.preview.Status == PreviewReady && o.preview.Quantity == q {
		return nil
	}

	o.quantity = q
	o.preview = Preview{Status: PreviewPending, Quantity: q}
	gen := o.generation
	o.timer = o.clock.AfterFunc(o.cfg.Debounce, func() { o.fire(gen) })
	return nil
}

// SelectTier picks a predefined tier and clears the custom quantity
func (o *Orchestrator) SelectTier(tierID string) error {
	if _, ok := o.catalog.Tier(tierID); !ok {
		return billing.NewValidationError("tier_id", "unknown tier %s", tierID)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("pricing draft closed")
	}

	o.generation++
	o.stopTimerLocked()
	o.tierID = tierID
	o.quantity = 0
	o.preview = Preview{Status: PreviewEmpty}
	return nil
}

// Preview returns the current preview
func (o *Orchestrator) Preview() Preview {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.preview
}

// TierID returns the selected tier, empty when a custom quantity is drafted
func (o *Orchestrator) TierID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tierID
}

// Selection returns the drafted change. A custom quantity is only selectable
// once its preview is ready.
func (o *Orchestrator) Selection() (billing.Selection, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.tierID != "" {
		return billing.SelectTier(o.tierID), nil
	}
	if o.quantity == 0 {
		return billing.Selection{}, billing.NewValidationError("selection", "choose a tier or enter a quantity")
	}
	if o.preview.Status != PreviewReady || o.preview.Quantity != o.quantity || o.preview.Quote == nil {
		return billing.Selection{}, billing.NewValidationError("quantity",
			"price preview for %d passengers is not ready", o.quantity)
	}
	return billing.SelectCustom(o.quantity, o.preview.Quote.Price), nil
}

// Close stops the debounce timer and abandons any fetch in flight
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.stopTimerLocked()
	o.cancel()
}

func (o *Orchestrator) stopTimerLocked() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

func (o *Orchestrator) fire(gen uint64) {
	o.mu.Lock()
	if o.closed || gen != o.generation {
		o.mu.Unlock()
		return
	}
	o.timer = nil
	o.issued++
	seq := o.issued
	q := o.quantity
	o.mu.Unlock()

	async.SafeGo(o.ctx, o.cfg.FetchTimeout, "price preview", func(ctx context.Context) error {
		quote, err := o.service.PreviewPrice(ctx, q)
		if err == nil && quote.Quantity != 0 && quote.Quantity != q {
			err = fmt.Errorf("preview priced %d passengers, asked for %d", quote.Quantity, q)
		}
		o.resolve(q, seq, quote, err)
		return err
	})
}

func (o *Orchestrator) resolve(q int, seq uint64, quote Quote, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || o.tierID != "" || q != o.quantity || seq < o.applied {
		o.metrics.RecordPreview("stale")
		o.logger.WithField("quantity", q).WithField("seq", seq).Debug("dropping superseded price preview")
		return
	}
	o.applied = seq

	if err != nil {
		o.metrics.RecordPreview("failed")
		o.preview = Preview{Status: PreviewFailed, Quantity: q, Err: err}
		return
	}
	o.metrics.RecordPreview("ok")
	quote.Quantity = q
	o.preview = Preview{Status: PreviewReady, Quantity: q, Quote: &quote}
}
