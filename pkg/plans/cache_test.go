package plans

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	loadFunc func(ctx context.Context, activeOnly bool) (*Catalog, error)
	calls    int
}

func (m *mockSource) LoadCatalog(ctx context.Context, activeOnly bool) (*Catalog, error) {
	m.calls++
	if m.loadFunc != nil {
		return m.loadFunc(ctx, activeOnly)
	}
	return NewCatalog(samplePlans(), sampleTiers())
}

func TestCachedSource(t *testing.T) {
	source := &mockSource{}
	cached := NewCachedSource(source, time.Minute)
	ctx := context.Background()

	first, err := cached.LoadCatalog(ctx, true)
	require.NoError(t, err)
	second, err := cached.LoadCatalog(ctx, true)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, source.calls)

	_, err = cached.LoadCatalog(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)

	cached.Invalidate()
	third, err := cached.LoadCatalog(ctx, true)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, 3, source.calls)
}

func TestCachedSource_ErrorNotCached(t *testing.T) {
	fail := true
	source := &mockSource{loadFunc: func(ctx context.Context, activeOnly bool) (*Catalog, error) {
		if fail {
			return nil, errors.New("db down")
		}
		return NewCatalog(samplePlans(), sampleTiers())
	}}
	cached := NewCachedSource(source, time.Minute)

	_, err := cached.LoadCatalog(context.Background(), true)
	require.Error(t, err)

	fail = false
	c, err := cached.LoadCatalog(context.Background(), true)
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, 2, source.calls)
}
