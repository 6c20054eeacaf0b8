// Package seed fills an empty store with a small demo marketplace.
package seed

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"Betsy/internal/catalog"
	"Betsy/internal/market"
)

// Result holds the ids of everything Populate created.
type Result struct {
	UserIDs        []int64
	ProductIDs     []int64
	TagIDs         []int64
	TransactionIDs []int64
}

// Populate creates two sellers with one product each, two tags, and one
// purchase in each direction. It goes through the Service so the seeded data
// obeys the same rules as live traffic. It fails with catalog.ErrDuplicate
// when the store was already seeded.
func Populate(ctx context.Context, svc *market.Service) (Result, error) {
	var res Result

	users := []catalog.User{
		{Name: "user1", Email: "user1@example.com", Address: "address1", BillingInfo: "card-0001"},
		{Name: "user2", Email: "user2@example.com", Address: "address2", BillingInfo: "card-0002"},
	}
	for _, u := range users {
		created, err := svc.CreateUser(ctx, u)
		if err != nil {
			return Result{}, fmt.Errorf("seed.Populate: user %s: %w", u.Name, err)
		}
		res.UserIDs = append(res.UserIDs, created.ID)
	}

	products := []struct {
		owner       int64
		name, descr string
		price       decimal.Decimal
		qty         int
	}{
		{res.UserIDs[0], "product1", "description1", decimal.NewFromInt(10), 5},
		{res.UserIDs[1], "product2", "description2", decimal.NewFromInt(20), 10},
	}
	for _, p := range products {
		added, err := svc.AddProductToCatalog(ctx, p.owner, p.name, p.descr, p.price, p.qty)
		if err != nil {
			return Result{}, fmt.Errorf("seed.Populate: product %s: %w", p.name, err)
		}
		res.ProductIDs = append(res.ProductIDs, added.ProductID)
	}

	for _, name := range []string{"tag1", "tag2"} {
		tag, err := svc.CreateTag(ctx, name, "")
		if err != nil {
			return Result{}, fmt.Errorf("seed.Populate: tag %s: %w", name, err)
		}
		res.TagIDs = append(res.TagIDs, tag.ID)
	}

	for i := range res.ProductIDs {
		if _, err := svc.TagProduct(ctx, res.ProductIDs[i], res.TagIDs[i], res.UserIDs[i]); err != nil {
			return Result{}, fmt.Errorf("seed.Populate: tag product: %w", err)
		}
	}

	purchases := []market.PurchaseRequest{
		{BuyerID: res.UserIDs[0], ProductID: res.ProductIDs[1], Quantity: 2},
		{BuyerID: res.UserIDs[1], ProductID: res.ProductIDs[0], Quantity: 1},
	}
	for _, pr := range purchases {
		txn, err := svc.PurchaseProduct(ctx, pr)
		if err != nil {
			return Result{}, fmt.Errorf("seed.Populate: purchase: %w", err)
		}
		res.TransactionIDs = append(res.TransactionIDs, txn.ID)
	}

	return res, nil
}
