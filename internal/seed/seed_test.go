package seed_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Betsy/internal/catalog"
	"Betsy/internal/market"
	"Betsy/internal/seed"
)

func TestPopulate(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemStore()
	svc := market.NewService(store, nil, nil)

	res, err := seed.Populate(ctx, svc)
	require.NoError(t, err)

	assert.Len(t, res.UserIDs, 2)
	assert.Len(t, res.ProductIDs, 2)
	assert.Len(t, res.TagIDs, 2)
	assert.Len(t, res.TransactionIDs, 2)

	p1, err := svc.GetProduct(ctx, res.ProductIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 4, p1.QuantityInStock)

	p2, err := svc.GetProduct(ctx, res.ProductIDs[1])
	require.NoError(t, err)
	assert.Equal(t, 8, p2.QuantityInStock)

	txns, err := svc.ListTransactions(ctx, res.UserIDs[0])
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.True(t, decimal.NewFromInt(40).Equal(txns[0].TotalPrice))

	names, err := svc.ListProductsPerTag(ctx, res.TagIDs[1])
	require.NoError(t, err)
	assert.Equal(t, []string{"product2"}, names)
}

func TestPopulate_twiceFailsOnDuplicateUser(t *testing.T) {
	ctx := context.Background()
	svc := market.NewService(catalog.NewMemStore(), nil, nil)

	_, err := seed.Populate(ctx, svc)
	require.NoError(t, err)

	_, err = seed.Populate(ctx, svc)
	require.ErrorIs(t, err, catalog.ErrDuplicate)
}
