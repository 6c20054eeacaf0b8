package catalog_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Betsy/internal/catalog"
)

var errAbort = errors.New("abort")

// uniq returns prefix plus a random suffix, so rows never collide with data
// committed by other tests sharing the database.
func uniq(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func mustUser(t *testing.T, s catalog.Store) catalog.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), catalog.User{
		Name:  uniq("user"),
		Email: uniq("user") + "@example.com",
	})
	require.NoError(t, err)
	return u
}

func mustProduct(t *testing.T, s catalog.Store, owner int64, name string, qty int) catalog.Product {
	t.Helper()
	p, err := s.CreateProduct(context.Background(), catalog.Product{
		UserID:          owner,
		Name:            name,
		Description:     "desc of " + name,
		PricePerUnit:    decimal.RequireFromString("9.99"),
		QuantityInStock: qty,
		IsActive:        true,
	})
	require.NoError(t, err)
	return p
}

// testStore runs the behaviour every Store implementation must share.
// Calls expected to violate a constraint run in their own InTx: on Postgres a
// failed statement aborts the surrounding test transaction otherwise.
func testStore(t *testing.T, newStore func(t *testing.T) catalog.Store) {
	ctx := context.Background()

	t.Run("users", func(t *testing.T) {
		s := newStore(t)
		u := mustUser(t, s)

		got, err := s.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.Email, got.Email)
		assert.False(t, got.CreatedAt.IsZero())

		err = s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
			_, err := tx.CreateUser(ctx, catalog.User{Name: "other", Email: u.Email})
			return err
		})
		require.ErrorIs(t, err, catalog.ErrDuplicate)

		_, err = s.GetUser(ctx, u.ID+1_000_000)
		require.ErrorIs(t, err, catalog.ErrNotFound)
	})

	t.Run("product constraints", func(t *testing.T) {
		s := newStore(t)
		u := mustUser(t, s)
		name := uniq("lamp")
		p := mustProduct(t, s, u.ID, name, 3)

		assert.True(t, decimal.RequireFromString("9.99").Equal(p.PricePerUnit))
		assert.True(t, p.IsActive)

		err := s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
			_, err := tx.CreateProduct(ctx, catalog.Product{UserID: u.ID, Name: name, IsActive: true})
			return err
		})
		require.ErrorIs(t, err, catalog.ErrDuplicate, "second active product with the same name")

		err = s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
			_, err := tx.CreateProduct(ctx, catalog.Product{UserID: u.ID + 1_000_000, Name: uniq("x"), IsActive: true})
			return err
		})
		require.ErrorIs(t, err, catalog.ErrNotFound, "unknown owner")

		err = s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
			_, err := tx.CreateProduct(ctx, catalog.Product{UserID: u.ID, Name: uniq("x"), QuantityInStock: -1, IsActive: true})
			return err
		})
		require.ErrorIs(t, err, catalog.ErrValidation, "negative stock")

		retired := p
		retired.IsActive = false
		_, err = s.UpdateProduct(ctx, retired)
		require.NoError(t, err)

		again := mustProduct(t, s, u.ID, name, 1)
		assert.NotEqual(t, p.ID, again.ID, "a retired name can be listed again")

		found, err := s.FindActiveProduct(ctx, u.ID, name)
		require.NoError(t, err)
		assert.Equal(t, again.ID, found.ID)

		_, err = s.FindActiveProduct(ctx, u.ID, uniq("missing"))
		require.ErrorIs(t, err, catalog.ErrNotFound)
	})

	t.Run("search and listing", func(t *testing.T) {
		s := newStore(t)
		u := mustUser(t, s)
		marker := uniq("Unique")

		byName := mustProduct(t, s, u.ID, marker+" chair", 1)
		byDesc, err := s.CreateProduct(ctx, catalog.Product{
			UserID: u.ID, Name: uniq("table"), Description: "a " + marker + " table",
			PricePerUnit: decimal.NewFromInt(1), QuantityInStock: 1, IsActive: true,
		})
		require.NoError(t, err)
		other := mustProduct(t, s, u.ID, uniq("sofa"), 1)

		got, err := s.SearchProducts(ctx, marker)
		require.NoError(t, err)
		assert.Equal(t, []int64{byName.ID, byDesc.ID}, ids(got))

		got, err = s.SearchProducts(ctx, strings.ToLower(marker))
		require.NoError(t, err)
		assert.Empty(t, got, "search is case-sensitive")

		got, err = s.SearchProducts(ctx, "")
		require.NoError(t, err)
		assert.Subset(t, ids(got), []int64{byName.ID, byDesc.ID, other.ID}, "empty term matches everything")

		got, err = s.ListProductsByUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{byName.ID, byDesc.ID, other.ID}, ids(got))

		got, err = s.ListProductsByUser(ctx, u.ID+1_000_000)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("decrement stock", func(t *testing.T) {
		s := newStore(t)
		u := mustUser(t, s)
		p := mustProduct(t, s, u.ID, uniq("pen"), 5)

		got, err := s.DecrementStock(ctx, p.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, 2, got.QuantityInStock)

		err = s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
			_, err := tx.DecrementStock(ctx, p.ID, 3)
			return err
		})
		require.ErrorIs(t, err, catalog.ErrInsufficientStock)

		err = s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
			_, err := tx.DecrementStock(ctx, p.ID+1_000_000, 1)
			return err
		})
		require.ErrorIs(t, err, catalog.ErrNotFound)

		got, err = s.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.QuantityInStock)
	})

	t.Run("deactivate touches only the active flag", func(t *testing.T) {
		s := newStore(t)
		u := mustUser(t, s)
		p := mustProduct(t, s, u.ID, uniq("lamp"), 10)

		_, err := s.DecrementStock(ctx, p.ID, 4)
		require.NoError(t, err)

		got, err := s.DeactivateProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
		assert.Equal(t, 6, got.QuantityInStock)
		assert.Equal(t, p.Name, got.Name)
		assert.True(t, p.PricePerUnit.Equal(got.PricePerUnit))

		err = s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
			_, err := tx.DeactivateProduct(ctx, p.ID+1_000_000)
			return err
		})
		require.ErrorIs(t, err, catalog.ErrNotFound)

		q := mustProduct(t, s, u.ID, uniq("shade"), 1)
		err = s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
			if _, err := tx.DeactivateProduct(ctx, q.ID); err != nil {
				return err
			}
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		q, err = s.GetProduct(ctx, q.ID)
		require.NoError(t, err)
		assert.True(t, q.IsActive, "rolled back")
	})

	t.Run("tags", func(t *testing.T) {
		s := newStore(t)
		u := mustUser(t, s)
		p1 := mustProduct(t, s, u.ID, uniq("mug"), 1)
		p2 := mustProduct(t, s, u.ID, uniq("cup"), 1)

		tag, err := s.CreateTag(ctx, catalog.Tag{Name: uniq("kitchen")})
		require.NoError(t, err)

		err = s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
			_, err := tx.CreateTag(ctx, catalog.Tag{Name: tag.Name})
			return err
		})
		require.ErrorIs(t, err, catalog.ErrDuplicate)

		first, err := s.AddProductTag(ctx, p1.ID, tag.ID)
		require.NoError(t, err)
		second, err := s.AddProductTag(ctx, p1.ID, tag.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID, "tagging twice returns the existing link")

		_, err = s.AddProductTag(ctx, p2.ID, tag.ID)
		require.NoError(t, err)

		err = s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
			_, err := tx.AddProductTag(ctx, p1.ID, tag.ID+1_000_000)
			return err
		})
		require.ErrorIs(t, err, catalog.ErrNotFound)

		got, err := s.ListProductsByTag(ctx, tag.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{p1.ID, p2.ID}, ids(got))
	})

	t.Run("delete cascades tags and is restricted by transactions", func(t *testing.T) {
		s := newStore(t)
		u := mustUser(t, s)
		tagged := mustProduct(t, s, u.ID, uniq("rug"), 1)
		sold := mustProduct(t, s, u.ID, uniq("vase"), 1)

		tag, err := s.CreateTag(ctx, catalog.Tag{Name: uniq("home")})
		require.NoError(t, err)
		_, err = s.AddProductTag(ctx, tagged.ID, tag.ID)
		require.NoError(t, err)

		require.NoError(t, s.DeleteProduct(ctx, tagged.ID))
		_, err = s.GetProduct(ctx, tagged.ID)
		require.ErrorIs(t, err, catalog.ErrNotFound)

		got, err := s.ListProductsByTag(ctx, tag.ID)
		require.NoError(t, err)
		assert.Empty(t, got)

		_, err = s.CreateTransaction(ctx, catalog.Transaction{
			BuyerID: u.ID, ProductID: sold.ID, Quantity: 1, TotalPrice: sold.PricePerUnit,
		})
		require.NoError(t, err)

		err = s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error { return tx.DeleteProduct(ctx, sold.ID) })
		require.ErrorIs(t, err, catalog.ErrReferenced)

		err = s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error { return tx.DeleteProduct(ctx, sold.ID+1_000_000) })
		require.ErrorIs(t, err, catalog.ErrNotFound)
	})

	t.Run("transactions", func(t *testing.T) {
		s := newStore(t)
		buyer := mustUser(t, s)
		seller := mustUser(t, s)
		p := mustProduct(t, s, seller.ID, uniq("kite"), 10)
		key := uuid.New()

		txn, err := s.CreateTransaction(ctx, catalog.Transaction{
			BuyerID: buyer.ID, ProductID: p.ID, Quantity: 2,
			TotalPrice: decimal.RequireFromString("19.98"), IdempotencyKey: &key,
		})
		require.NoError(t, err)
		assert.False(t, txn.Timestamp.IsZero())

		byID, err := s.GetTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("19.98").Equal(byID.TotalPrice))
		require.NotNil(t, byID.IdempotencyKey)
		assert.Equal(t, key, *byID.IdempotencyKey)

		byKey, err := s.GetTransactionByKey(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, txn.ID, byKey.ID)

		_, err = s.GetTransactionByKey(ctx, uuid.New())
		require.ErrorIs(t, err, catalog.ErrNotFound)

		err = s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
			_, err := tx.CreateTransaction(ctx, catalog.Transaction{
				BuyerID: buyer.ID, ProductID: p.ID, Quantity: 1,
				TotalPrice: p.PricePerUnit, IdempotencyKey: &key,
			})
			return err
		})
		require.ErrorIs(t, err, catalog.ErrDuplicate)

		err = s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
			_, err := tx.CreateTransaction(ctx, catalog.Transaction{
				BuyerID: buyer.ID + 1_000_000, ProductID: p.ID, Quantity: 1, TotalPrice: p.PricePerUnit,
			})
			return err
		})
		require.ErrorIs(t, err, catalog.ErrNotFound)

		err = s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
			_, err := tx.CreateTransaction(ctx, catalog.Transaction{
				BuyerID: buyer.ID, ProductID: p.ID, Quantity: 0, TotalPrice: decimal.Zero,
			})
			return err
		})
		require.ErrorIs(t, err, catalog.ErrValidation)

		list, err := s.ListTransactionsByBuyer(ctx, buyer.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, txn.ID, list[0].ID)
	})

	t.Run("InTx rolls back every write on error", func(t *testing.T) {
		s := newStore(t)
		seller := mustUser(t, s)
		p := mustProduct(t, s, seller.ID, uniq("clock"), 4)

		var created catalog.User
		err := s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
			var err error
			created, err = tx.CreateUser(ctx, catalog.User{Name: "ghost", Email: uniq("ghost") + "@example.com"})
			if err != nil {
				return err
			}
			if _, err := tx.DecrementStock(ctx, p.ID, 4); err != nil {
				return err
			}
			if _, err := tx.CreateTransaction(ctx, catalog.Transaction{
				BuyerID: created.ID, ProductID: p.ID, Quantity: 4, TotalPrice: decimal.NewFromInt(1),
			}); err != nil {
				return err
			}
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		_, err = s.GetUser(ctx, created.ID)
		require.ErrorIs(t, err, catalog.ErrNotFound)

		got, err := s.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, got.QuantityInStock)

		list, err := s.ListTransactionsByBuyer(ctx, created.ID)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("InTx commits on success", func(t *testing.T) {
		s := newStore(t)
		seller := mustUser(t, s)
		p := mustProduct(t, s, seller.ID, uniq("bell"), 4)

		err := s.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
			locked, err := tx.GetProductForUpdate(ctx, p.ID)
			if err != nil {
				return err
			}
			_, err = tx.DecrementStock(ctx, locked.ID, 1)
			return err
		})
		require.NoError(t, err)

		got, err := s.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.QuantityInStock)
	})
}

func ids(products []catalog.Product) []int64 {
	out := make([]int64, 0, len(products))
	for _, p := range products {
		out = append(out, p.ID)
	}
	return out
}
