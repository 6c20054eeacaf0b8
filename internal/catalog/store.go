package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	pingTimeout  = 1 * time.Second
	queryTimeout = 3 * time.Second
)

// Store is the persistence contract consumed by the marketplace operations.
// Missing rows surface as ErrNotFound, unique violations as ErrDuplicate and
// restricted deletes as ErrReferenced. Anything else is returned as-is.
type Store interface {
	Ping(ctx context.Context) error

	// InTx runs fn against a Store scoped to one atomic unit. Every write made
	// through the scoped Store is committed when fn returns nil and discarded otherwise.
	// fn must issue its calls with the ctx it is given, which may carry the
	// transaction deadline.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)

	CreateProduct(ctx context.Context, p Product) (Product, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	// GetProductForUpdate reads a product and holds it until the enclosing InTx ends.
	GetProductForUpdate(ctx context.Context, id int64) (Product, error)
	UpdateProduct(ctx context.Context, p Product) (Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	// DeactivateProduct clears is_active and leaves every other column as stored.
	DeactivateProduct(ctx context.Context, id int64) (Product, error)
	// DecrementStock lowers the stock by qty only if at least qty units are left.
	DecrementStock(ctx context.Context, id int64, qty int) (Product, error)
	SearchProducts(ctx context.Context, term string) ([]Product, error)
	ListProductsByUser(ctx context.Context, userID int64) ([]Product, error)
	FindActiveProduct(ctx context.Context, userID int64, name string) (Product, error)

	CreateTag(ctx context.Context, t Tag) (Tag, error)
	GetTag(ctx context.Context, id int64) (Tag, error)
	// AddProductTag links a tag to a product. Linking twice returns the existing row.
	AddProductTag(ctx context.Context, productID, tagID int64) (ProductTag, error)
	ListProductsByTag(ctx context.Context, tagID int64) ([]Product, error)

	CreateTransaction(ctx context.Context, t Transaction) (Transaction, error)
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	GetTransactionByKey(ctx context.Context, key uuid.UUID) (Transaction, error)
	ListTransactionsByBuyer(ctx context.Context, buyerID int64) ([]Transaction, error)
}

func withTimeout(parent context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()
	return fn(ctx)
}
