package plans

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresSource_LoadCatalog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, slug, name, price, promo_price, benefits, allowance, passenger_limit, active FROM plans").
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "name", "price", "promo_price", "benefits", "allowance", "passenger_limit", "active"}).
			AddRow("free", "free", "Free", "0", nil, []byte(`["5 passengers"]`), 0, 5, true).
			AddRow("complete", "complete", "Complete", "50.00", "39.90", []byte(`[]`), 0, nil, true))

	mock.ExpectQuery("SELECT id, plan_id, allowance, price, promo_price, active FROM plan_tiers").
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "plan_id", "allowance", "price", "promo_price", "active"}).
			AddRow("t5", "complete", 5, "50.00", nil, true).
			AddRow("t10", "complete", 10, "90.00", "85.00", true))

	source := NewPostgresSource(db)
	c, err := source.LoadCatalog(context.Background(), true)
	require.NoError(t, err)

	free, ok := c.Plan("free")
	require.True(t, ok)
	require.NotNil(t, free.PassengerLimit)
	assert.Equal(t, 5, *free.PassengerLimit)
	assert.Equal(t, []string{"5 passengers"}, free.Benefits)

	complete, ok := c.Plan("complete")
	require.True(t, ok)
	require.NotNil(t, complete.PromoPrice)
	assert.True(t, complete.EffectivePrice().Equal(price("39.90")))

	tier, ok := c.Tier("t10")
	require.True(t, ok)
	assert.True(t, tier.EffectivePrice().Equal(price("85")))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_LoadCatalog_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM plans").
		WillReturnError(errors.New("connection reset"))

	_, err = NewPostgresSource(db).LoadCatalog(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query plans")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_LoadCatalog_InvalidData(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM plans").
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "name", "price", "promo_price", "benefits", "allowance", "passenger_limit", "active"}).
			AddRow("complete", "complete", "Complete", "50.00", nil, nil, 0, nil, true))
	mock.ExpectQuery("SELECT (.+) FROM plan_tiers").
		WillReturnRows(sqlmock.NewRows([]string{"id", "plan_id", "allowance", "price", "promo_price", "active"}).
			AddRow("a", "complete", 10, "90.00", nil, true).
			AddRow("b", "complete", 10, "95.00", nil, true))

	_, err = NewPostgresSource(db).LoadCatalog(context.Background(), false)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}
