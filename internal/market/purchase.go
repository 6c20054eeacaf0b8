package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"Betsy/internal/catalog"
)

type PurchaseRequest struct {
	ProductID int64
	BuyerID   int64
	Quantity  int

	// IdempotencyKey makes retries safe: a second purchase with the same key
	// returns the first transaction and leaves stock untouched. Reusing a key
	// for a different product, buyer or quantity is a validation error.
	IdempotencyKey *uuid.UUID
}

var errKeyReused = fmt.Errorf("%w: idempotency key already used for a different purchase", catalog.ErrValidation)

// matches reports whether prev records the same purchase as r.
func (r PurchaseRequest) matches(prev catalog.Transaction) bool {
	return prev.ProductID == r.ProductID && prev.BuyerID == r.BuyerID && prev.Quantity == r.Quantity
}

// PurchaseProduct sells req.Quantity units of a product to a buyer. The stock
// decrement and the transaction record are written in one store transaction
// with the product row locked, so either both exist or neither does and stock
// never goes negative under concurrent buyers.
func (s *Service) PurchaseProduct(ctx context.Context, req PurchaseRequest) (catalog.Transaction, error) {
	const op = "market.Service.PurchaseProduct"

	if req.Quantity <= 0 {
		s.metrics.observePurchase(outcomeInvalid, 0)
		return catalog.Transaction{}, fmt.Errorf("%s: %w: quantity must be positive", op, catalog.ErrValidation)
	}

	var (
		txn      catalog.Transaction
		replayed bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
		p, err := tx.GetProductForUpdate(ctx, req.ProductID)
		if err != nil {
			return err
		}

		// Looked up under the row lock so a committed retry is always visible.
		if req.IdempotencyKey != nil {
			prev, err := tx.GetTransactionByKey(ctx, *req.IdempotencyKey)
			if err == nil {
				if !req.matches(prev) {
					return errKeyReused
				}
				txn, replayed = prev, true
				return nil
			}
			if !errors.Is(err, catalog.ErrNotFound) {
				return err
			}
		}

		if !p.IsActive {
			return catalog.ErrProductUnavailable
		}
		if p.QuantityInStock < req.Quantity {
			return catalog.ErrInsufficientStock
		}

		if _, err := tx.DecrementStock(ctx, p.ID, req.Quantity); err != nil {
			return err
		}

		txn, err = tx.CreateTransaction(ctx, catalog.Transaction{
			BuyerID:        req.BuyerID,
			ProductID:      p.ID,
			Quantity:       req.Quantity,
			TotalPrice:     p.PricePerUnit.Mul(decimal.NewFromInt(int64(req.Quantity))),
			IdempotencyKey: req.IdempotencyKey,
		})
		return err
	})

	if errors.Is(err, catalog.ErrDuplicate) && req.IdempotencyKey != nil {
		// Another request with the same key committed between our lookup and insert.
		prev, getErr := s.store.GetTransactionByKey(ctx, *req.IdempotencyKey)
		switch {
		case getErr != nil:
		case !req.matches(prev):
			err = errKeyReused
		default:
			txn, replayed, err = prev, true, nil
		}
	}

	if err != nil {
		s.metrics.observePurchase(purchaseOutcome(err), 0)
		return catalog.Transaction{}, s.boundary(op, err)
	}

	if replayed {
		s.metrics.observePurchase(outcomeReplayed, 0)
		s.log.Info("purchase replayed",
			zap.Int64("transaction_id", txn.ID),
			zap.Stringer("idempotency_key", req.IdempotencyKey),
		)
		return txn, nil
	}

	s.metrics.observePurchase(outcomeOK, txn.Quantity)
	s.log.Info("purchase recorded",
		zap.Int64("transaction_id", txn.ID),
		zap.Int64("product_id", txn.ProductID),
		zap.Int64("buyer_id", txn.BuyerID),
		zap.Int("quantity", txn.Quantity),
		zap.String("total_price", txn.TotalPrice.StringFixed(2)),
	)
	return txn, nil
}

func purchaseOutcome(err error) string {
	switch {
	case errors.Is(err, catalog.ErrInsufficientStock):
		return outcomeInsufficientStock
	case errors.Is(err, catalog.ErrProductUnavailable):
		return outcomeUnavailable
	case errors.Is(err, catalog.ErrNotFound):
		return outcomeNotFound
	case errors.Is(err, catalog.ErrValidation):
		return outcomeInvalid
	default:
		return outcomeError
	}
}
