package pricing

import (
	"context"
	"sync"
	"testing"

	"github.com/platinummonkey/tierflow/pkg/plans"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testCatalog(t *testing.T) *plans.Catalog {
	t.Helper()
	cat, err := plans.NewCatalog(
		[]plans.Plan{
			{ID: "essential", Slug: plans.SlugEssential, Name: "Essential", Price: money("25")},
			{ID: "complete", Slug: plans.SlugComplete, Name: "Complete", Price: money("50")},
		},
		[]plans.Tier{
			{ID: "t5", PlanID: "complete", Allowance: 5, Price: money("50")},
			{ID: "t10", PlanID: "complete", Allowance: 10, Price: money("90")},
			{ID: "t20", PlanID: "complete", Allowance: 20, Price: money("160")},
		},
	)
	require.NoError(t, err)
	return cat
}

// mockPreviewService prices quantities at 7 per passenger. Requests for a
// quantity in hold block until released.
type mockPreviewService struct {
	mu       sync.Mutex
	calls    []int
	hold     map[int]chan struct{}
	failures map[int]error
}

func newMockPreviewService() *mockPreviewService {
	return &mockPreviewService{hold: map[int]chan struct{}{}, failures: map[int]error{}}
}

func (m *mockPreviewService) block(q int) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.hold[q] = ch
	return ch
}

func (m *mockPreviewService) PreviewPrice(ctx context.Context, quantity int) (Quote, error) {
	m.mu.Lock()
	m.calls = append(m.calls, quantity)
	ch := m.hold[quantity]
	err := m.failures[quantity]
	m.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return Quote{}, ctx.Err()
		}
	}
	if err != nil {
		return Quote{}, err
	}
	price := decimal.NewFromInt(int64(quantity * 7))
	return Quote{Quantity: quantity, Price: price, PerCharge: money("0.50")}, nil
}

func (m *mockPreviewService) Calls() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.calls...)
}
