package catalog_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Betsy/internal/catalog"
)

func TestMemStore(t *testing.T) {
	testStore(t, func(t *testing.T) catalog.Store { return catalog.NewMemStore() })
}

func TestMemStore_InTxSerializesWriters(t *testing.T) {
	ctx := context.Background()
	s := catalog.NewMemStore()
	seller := mustUser(t, s)
	p := mustProduct(t, s, seller.ID, "counter", 100)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
				cur, err := tx.GetProductForUpdate(ctx, p.ID)
				if err != nil {
					return err
				}
				cur.QuantityInStock--
				_, err = tx.UpdateProduct(ctx, cur)
				return err
			})
		}()
	}
	wg.Wait()

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.QuantityInStock)
}

func TestMemStore_NestedInTxJoinsOuter(t *testing.T) {
	ctx := context.Background()
	s := catalog.NewMemStore()

	var inner catalog.User
	err := s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
		return tx.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
			var err error
			inner, err = tx.CreateUser(ctx, catalog.User{Name: "n", Email: "n@example.com"})
			if err != nil {
				return err
			}
			return errAbort
		})
	})
	require.ErrorIs(t, err, errAbort)

	_, err = s.GetUser(ctx, inner.ID)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}
