// Package market implements the marketplace operations on top of a catalog.Store
// and exposes them over HTTP.
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"Betsy/internal/catalog"
)

type Service struct {
	store   catalog.Store
	log     *zap.Logger
	metrics *Metrics
}

// NewService wires the operations to a store. log and metrics may be nil.
func NewService(store catalog.Store, log *zap.Logger, metrics *Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, metrics: metrics}
}

// AddResult reports the product an add resolved to. Duplicate is set when an
// active product with the same name already existed for the seller; no row
// was written in that case.
type AddResult struct {
	ProductID int64 `json:"product_id"`
	Duplicate bool  `json:"duplicate"`
}

// RemoveResult reports how a product left the catalog. Products with recorded
// transactions are retired (deactivated) instead of deleted.
type RemoveResult struct {
	Retired bool `json:"retired"`
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) CreateUser(ctx context.Context, u catalog.User) (catalog.User, error) {
	const op = "market.Service.CreateUser"

	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Name == "" || u.Email == "" {
		return catalog.User{}, fmt.Errorf("%s: %w: name and email are required", op, catalog.ErrValidation)
	}

	out, err := s.store.CreateUser(ctx, u)
	if err != nil {
		return catalog.User{}, s.boundary(op, err)
	}
	return out, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (catalog.User, error) {
	out, err := s.store.GetUser(ctx, id)
	if err != nil {
		return catalog.User{}, s.boundary("market.Service.GetUser", err)
	}
	return out, nil
}

func (s *Service) GetProduct(ctx context.Context, id int64) (catalog.Product, error) {
	out, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return catalog.Product{}, s.boundary("market.Service.GetProduct", err)
	}
	return out, nil
}

// SearchProducts returns every active product whose name or description
// contains term. The empty term matches all active products.
func (s *Service) SearchProducts(ctx context.Context, term string) ([]catalog.Product, error) {
	out, err := s.store.SearchProducts(ctx, term)
	if err != nil {
		return nil, s.boundary("market.Service.SearchProducts", err)
	}
	return active(out), nil
}

// ListUserProducts returns the names of the active products owned by userID.
func (s *Service) ListUserProducts(ctx context.Context, userID int64) ([]string, error) {
	products, err := s.store.ListProductsByUser(ctx, userID)
	if err != nil {
		return nil, s.boundary("market.Service.ListUserProducts", err)
	}
	return names(active(products)), nil
}

// ListProductsPerTag returns the names of the active products linked to tagID.
func (s *Service) ListProductsPerTag(ctx context.Context, tagID int64) ([]string, error) {
	products, err := s.store.ListProductsByTag(ctx, tagID)
	if err != nil {
		return nil, s.boundary("market.Service.ListProductsPerTag", err)
	}
	return names(active(products)), nil
}

// AddProductToCatalog creates an active product for userID unless one with the
// same name is already active, in which case the existing id is reported as a
// duplicate.
func (s *Service) AddProductToCatalog(ctx context.Context, userID int64, name, description string, price decimal.Decimal, qty int) (AddResult, error) {
	const op = "market.Service.AddProductToCatalog"

	if strings.TrimSpace(name) == "" {
		return AddResult{}, fmt.Errorf("%s: %w: name is required", op, catalog.ErrValidation)
	}
	if price.IsNegative() {
		return AddResult{}, fmt.Errorf("%s: %w: price_per_unit must not be negative", op, catalog.ErrValidation)
	}
	if qty < 0 {
		return AddResult{}, fmt.Errorf("%s: %w: quantity_in_stock must not be negative", op, catalog.ErrValidation)
	}

	if existing, err := s.store.FindActiveProduct(ctx, userID, name); err == nil {
		return AddResult{ProductID: existing.ID, Duplicate: true}, nil
	} else if !errors.Is(err, catalog.ErrNotFound) {
		return AddResult{}, s.boundary(op, err)
	}

	p, err := s.store.CreateProduct(ctx, catalog.Product{
		UserID:          userID,
		Name:            name,
		Description:     description,
		PricePerUnit:    price,
		QuantityInStock: qty,
		IsActive:        true,
	})
	if errors.Is(err, catalog.ErrDuplicate) {
		// A concurrent add of the same name won the unique index.
		existing, findErr := s.store.FindActiveProduct(ctx, userID, name)
		if findErr != nil {
			return AddResult{}, s.boundary(op, findErr)
		}
		return AddResult{ProductID: existing.ID, Duplicate: true}, nil
	}
	if err != nil {
		return AddResult{}, s.boundary(op, err)
	}

	s.log.Info("product added",
		zap.Int64("product_id", p.ID),
		zap.Int64("user_id", userID),
		zap.Int("quantity_in_stock", qty),
	)
	return AddResult{ProductID: p.ID}, nil
}

// RemoveProductFromUser deletes productID on behalf of its owner. Tag links
// go with it. A product that has been sold is retired instead, since
// transactions are never deleted.
func (s *Service) RemoveProductFromUser(ctx context.Context, productID, userID int64) (RemoveResult, error) {
	const op = "market.Service.RemoveProductFromUser"

	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return RemoveResult{}, s.boundary(op, err)
	}
	if p.UserID != userID {
		return RemoveResult{}, fmt.Errorf("%s: %w", op, catalog.ErrUnauthorized)
	}

	err = s.store.DeleteProduct(ctx, productID)
	if err == nil {
		return RemoveResult{}, nil
	}
	if !errors.Is(err, catalog.ErrReferenced) {
		return RemoveResult{}, s.boundary(op, err)
	}

	// Only the flag is written; stock may have moved since the read above.
	if _, err := s.store.DeactivateProduct(ctx, productID); err != nil {
		return RemoveResult{}, s.boundary(op, err)
	}
	s.log.Info("product retired", zap.Int64("product_id", productID), zap.Int64("user_id", userID))
	return RemoveResult{Retired: true}, nil
}

// UpdateStock overwrites the stock level of productID. Negative levels are rejected.
func (s *Service) UpdateStock(ctx context.Context, productID int64, qty int) (catalog.Product, error) {
	const op = "market.Service.UpdateStock"

	if qty < 0 {
		return catalog.Product{}, fmt.Errorf("%s: %w: quantity must not be negative", op, catalog.ErrValidation)
	}

	var out catalog.Product
	err := s.store.InTx(ctx, func(ctx context.Context, tx catalog.Store) error {
		p, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		p.QuantityInStock = qty
		out, err = tx.UpdateProduct(ctx, p)
		return err
	})
	if err != nil {
		return catalog.Product{}, s.boundary(op, err)
	}
	return out, nil
}

func (s *Service) CreateTag(ctx context.Context, name, description string) (catalog.Tag, error) {
	const op = "market.Service.CreateTag"

	name = strings.TrimSpace(name)
	if name == "" {
		return catalog.Tag{}, fmt.Errorf("%s: %w: name is required", op, catalog.ErrValidation)
	}

	out, err := s.store.CreateTag(ctx, catalog.Tag{Name: name, Description: description})
	if err != nil {
		return catalog.Tag{}, s.boundary(op, err)
	}
	return out, nil
}

// TagProduct links tagID to productID. Only the product owner may tag it.
// Tagging twice is a no-op returning the existing link.
func (s *Service) TagProduct(ctx context.Context, productID, tagID, userID int64) (catalog.ProductTag, error) {
	const op = "market.Service.TagProduct"

	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return catalog.ProductTag{}, s.boundary(op, err)
	}
	if p.UserID != userID {
		return catalog.ProductTag{}, fmt.Errorf("%s: %w", op, catalog.ErrUnauthorized)
	}

	pt, err := s.store.AddProductTag(ctx, productID, tagID)
	if err != nil {
		return catalog.ProductTag{}, s.boundary(op, err)
	}
	return pt, nil
}

// ListTransactions returns the purchases made by buyerID, oldest first.
func (s *Service) ListTransactions(ctx context.Context, buyerID int64) ([]catalog.Transaction, error) {
	const op = "market.Service.ListTransactions"

	if _, err := s.store.GetUser(ctx, buyerID); err != nil {
		return nil, s.boundary(op, err)
	}
	out, err := s.store.ListTransactionsByBuyer(ctx, buyerID)
	if err != nil {
		return nil, s.boundary(op, err)
	}
	return out, nil
}

var knownErrs = []error{
	catalog.ErrNotFound,
	catalog.ErrUnauthorized,
	catalog.ErrInsufficientStock,
	catalog.ErrProductUnavailable,
	catalog.ErrDuplicate,
	catalog.ErrReferenced,
	catalog.ErrValidation,
	catalog.ErrStorage,
}

// boundary wraps err for return from op. Catalog sentinels pass through; any
// other error becomes ErrStorage with the cause flattened to text, so driver
// error types never reach callers. Context expiry stays in the chain.
func (s *Service) boundary(op string, err error) error {
	for _, known := range knownErrs {
		if errors.Is(err, known) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	for _, ctxErr := range []error{context.DeadlineExceeded, context.Canceled} {
		if errors.Is(err, ctxErr) {
			s.log.Warn("storage call interrupted", zap.String("op", op), zap.Error(err))
			return fmt.Errorf("%s: %w: %w", op, catalog.ErrStorage, ctxErr)
		}
	}

	s.log.Error("storage failure", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w: %v", op, catalog.ErrStorage, err)
}

// active filters out retired products. Their rows stay behind for the
// transactions that reference them.
func active(products []catalog.Product) []catalog.Product {
	out := make([]catalog.Product, 0, len(products))
	for _, p := range products {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out
}

func names(products []catalog.Product) []string {
	out := make([]string, 0, len(products))
	for _, p := range products {
		out = append(out, p.Name)
	}
	return out
}
