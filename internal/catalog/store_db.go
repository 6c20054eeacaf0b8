package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const (
	txTimeout = 5 * time.Second

	pgUniqueCode     = "23505"
	pgForeignKeyCode = "23503"
	pgCheckCode      = "23514"
)

// db is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx. Integration tests
// pass a pgx.Tx that is rolled back after each test.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type PostgresStore struct {
	db   db
	inTx bool
}

// NewPostgresStore builds a Store over a pool. Passing a pgx.Tx runs every
// InTx as a savepoint inside it.
func NewPostgresStore(db db) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return withTimeout(ctx, pingTimeout, func(ctx context.Context) error {
		if p, ok := s.db.(pinger); ok {
			return p.Ping(ctx)
		}
		_, err := s.db.Exec(ctx, `SELECT 1`)
		return err
	})
}

// InTx bounds the whole unit, fn included, by txTimeout.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("catalog.PostgresStore.InTx: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &PostgresStore{db: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("catalog.PostgresStore.InTx: commit: %w", err)
	}
	return nil
}

// ---- users -----------------------------------------------------------------

const userCols = `id, name, email, address, billing_info, created_at`

func (s *PostgresStore) CreateUser(ctx context.Context, u User) (User, error) {
	const q = `
		INSERT INTO users (name, email, address, billing_info)
		VALUES (@name, @email, @address, @billing_info)
		RETURNING ` + userCols

	args := pgx.NamedArgs{
		"name":         u.Name,
		"email":        u.Email,
		"address":      u.Address,
		"billing_info": u.BillingInfo,
	}

	var out User
	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		var err error
		out, err = scanUser(s.db.QueryRow(ctx, q, args))
		return err
	})
	if err != nil {
		return User{}, fmt.Errorf("catalog.PostgresStore.CreateUser: %w", classify(err, ErrNotFound))
	}
	return out, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE id = @id`

	var out User
	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		var err error
		out, err = scanUser(s.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
		return err
	})
	if err != nil {
		return User{}, fmt.Errorf("catalog.PostgresStore.GetUser: %w", classify(err, ErrNotFound))
	}
	return out, nil
}

// ---- products --------------------------------------------------------------

const productCols = `id, user_id, name, description, price_per_unit, quantity_in_stock, is_active, created_at, updated_at`

func (s *PostgresStore) CreateProduct(ctx context.Context, p Product) (Product, error) {
	const q = `
		INSERT INTO products (user_id, name, description, price_per_unit, quantity_in_stock, is_active)
		VALUES (@user_id, @name, @description, @price_per_unit, @quantity_in_stock, @is_active)
		RETURNING ` + productCols

	args := pgx.NamedArgs{
		"user_id":           p.UserID,
		"name":              p.Name,
		"description":       p.Description,
		"price_per_unit":    toNumeric(p.PricePerUnit),
		"quantity_in_stock": p.QuantityInStock,
		"is_active":         p.IsActive,
	}

	out, err := s.queryProduct(ctx, q, args)
	if err != nil {
		return Product{}, fmt.Errorf("catalog.PostgresStore.CreateProduct: %w", classify(err, ErrNotFound))
	}
	return out, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id int64) (Product, error) {
	const q = `SELECT ` + productCols + ` FROM products WHERE id = @id`

	out, err := s.queryProduct(ctx, q, pgx.NamedArgs{"id": id})
	if err != nil {
		return Product{}, fmt.Errorf("catalog.PostgresStore.GetProduct: %w", classify(err, ErrNotFound))
	}
	return out, nil
}

// GetProductForUpdate takes a row lock held until the surrounding transaction ends.
// Outside InTx the lock is released as soon as the statement completes.
func (s *PostgresStore) GetProductForUpdate(ctx context.Context, id int64) (Product, error) {
	const q = `SELECT ` + productCols + ` FROM products WHERE id = @id FOR UPDATE`

	out, err := s.queryProduct(ctx, q, pgx.NamedArgs{"id": id})
	if err != nil {
		return Product{}, fmt.Errorf("catalog.PostgresStore.GetProductForUpdate: %w", classify(err, ErrNotFound))
	}
	return out, nil
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	const q = `
		UPDATE products
		SET user_id           = @user_id,
		    name              = @name,
		    description       = @description,
		    price_per_unit    = @price_per_unit,
		    quantity_in_stock = @quantity_in_stock,
		    is_active         = @is_active,
		    updated_at        = now()
		WHERE id = @id
		RETURNING ` + productCols

	args := pgx.NamedArgs{
		"id":                p.ID,
		"user_id":           p.UserID,
		"name":              p.Name,
		"description":       p.Description,
		"price_per_unit":    toNumeric(p.PricePerUnit),
		"quantity_in_stock": p.QuantityInStock,
		"is_active":         p.IsActive,
	}

	out, err := s.queryProduct(ctx, q, args)
	if err != nil {
		return Product{}, fmt.Errorf("catalog.PostgresStore.UpdateProduct: %w", classify(err, ErrNotFound))
	}
	return out, nil
}

func (s *PostgresStore) DeactivateProduct(ctx context.Context, id int64) (Product, error) {
	const q = `
		UPDATE products
		SET is_active  = false,
		    updated_at = now()
		WHERE id = @id
		RETURNING ` + productCols

	out, err := s.queryProduct(ctx, q, pgx.NamedArgs{"id": id})
	if err != nil {
		return Product{}, fmt.Errorf("catalog.PostgresStore.DeactivateProduct: %w", classify(err, ErrNotFound))
	}
	return out, nil
}

// DeleteProduct removes the product and, through ON DELETE CASCADE, its tag links.
// Products with recorded transactions are restricted and yield ErrReferenced.
func (s *PostgresStore) DeleteProduct(ctx context.Context, id int64) error {
	const q = `DELETE FROM products WHERE id = @id`

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		tag, err := s.db.Exec(ctx, q, pgx.NamedArgs{"id": id})
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("catalog.PostgresStore.DeleteProduct: %w", classify(err, ErrReferenced))
	}
	return nil
}

func (s *PostgresStore) DecrementStock(ctx context.Context, id int64, qty int) (Product, error) {
	const q = `
		UPDATE products
		SET quantity_in_stock = quantity_in_stock - @qty,
		    updated_at        = now()
		WHERE id = @id
		  AND quantity_in_stock >= @qty
		RETURNING ` + productCols

	out, err := s.queryProduct(ctx, q, pgx.NamedArgs{"id": id, "qty": qty})
	if errors.Is(err, pgx.ErrNoRows) {
		// Zero rows: either the product is gone or there was not enough stock.
		if _, getErr := s.GetProduct(ctx, id); getErr != nil {
			return Product{}, fmt.Errorf("catalog.PostgresStore.DecrementStock: %w", getErr)
		}
		return Product{}, fmt.Errorf("catalog.PostgresStore.DecrementStock: %w", ErrInsufficientStock)
	}
	if err != nil {
		return Product{}, fmt.Errorf("catalog.PostgresStore.DecrementStock: %w", classify(err, ErrNotFound))
	}
	return out, nil
}

// SearchProducts matches term as a plain substring. strpos is used instead of
// LIKE so that % and _ in the term are not wildcards; strpos(x, '') is 1, so an
// empty term matches every row.
func (s *PostgresStore) SearchProducts(ctx context.Context, term string) ([]Product, error) {
	const q = `
		SELECT ` + productCols + `
		FROM products
		WHERE strpos(name, @term) > 0
		   OR strpos(description, @term) > 0
		ORDER BY id`

	out, err := s.queryProducts(ctx, q, pgx.NamedArgs{"term": term})
	if err != nil {
		return nil, fmt.Errorf("catalog.PostgresStore.SearchProducts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListProductsByUser(ctx context.Context, userID int64) ([]Product, error) {
	const q = `SELECT ` + productCols + ` FROM products WHERE user_id = @user_id ORDER BY id`

	out, err := s.queryProducts(ctx, q, pgx.NamedArgs{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("catalog.PostgresStore.ListProductsByUser: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FindActiveProduct(ctx context.Context, userID int64, name string) (Product, error) {
	const q = `
		SELECT ` + productCols + `
		FROM products
		WHERE user_id = @user_id AND name = @name AND is_active`

	out, err := s.queryProduct(ctx, q, pgx.NamedArgs{"user_id": userID, "name": name})
	if err != nil {
		return Product{}, fmt.Errorf("catalog.PostgresStore.FindActiveProduct: %w", classify(err, ErrNotFound))
	}
	return out, nil
}

func (s *PostgresStore) queryProduct(ctx context.Context, q string, args pgx.NamedArgs) (Product, error) {
	var out Product
	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		var err error
		out, err = scanProduct(s.db.QueryRow(ctx, q, args))
		return err
	})
	return out, err
}

func (s *PostgresStore) queryProducts(ctx context.Context, q string, args pgx.NamedArgs) ([]Product, error) {
	var out []Product

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, q, args)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]Product, 0, 16)
		for rows.Next() {
			p, err := scanProduct(rows)
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ---- tags ------------------------------------------------------------------

const tagCols = `id, name, description, created_at`

func (s *PostgresStore) CreateTag(ctx context.Context, t Tag) (Tag, error) {
	const q = `
		INSERT INTO tags (name, description)
		VALUES (@name, @description)
		RETURNING ` + tagCols

	var out Tag
	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		var err error
		out, err = scanTag(s.db.QueryRow(ctx, q, pgx.NamedArgs{"name": t.Name, "description": t.Description}))
		return err
	})
	if err != nil {
		return Tag{}, fmt.Errorf("catalog.PostgresStore.CreateTag: %w", classify(err, ErrNotFound))
	}
	return out, nil
}

func (s *PostgresStore) GetTag(ctx context.Context, id int64) (Tag, error) {
	const q = `SELECT ` + tagCols + ` FROM tags WHERE id = @id`

	var out Tag
	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		var err error
		out, err = scanTag(s.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
		return err
	})
	if err != nil {
		return Tag{}, fmt.Errorf("catalog.PostgresStore.GetTag: %w", classify(err, ErrNotFound))
	}
	return out, nil
}

// AddProductTag uses DO UPDATE instead of DO NOTHING so RETURNING still yields
// the existing row on conflict.
func (s *PostgresStore) AddProductTag(ctx context.Context, productID, tagID int64) (ProductTag, error) {
	const q = `
		INSERT INTO product_tags (product_id, tag_id)
		VALUES (@product_id, @tag_id)
		ON CONFLICT (product_id, tag_id) DO UPDATE SET tag_id = EXCLUDED.tag_id
		RETURNING id, product_id, tag_id, created_at`

	var pt ProductTag
	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		return s.db.QueryRow(ctx, q, pgx.NamedArgs{"product_id": productID, "tag_id": tagID}).
			Scan(&pt.ID, &pt.ProductID, &pt.TagID, &pt.CreatedAt)
	})
	if err != nil {
		return ProductTag{}, fmt.Errorf("catalog.PostgresStore.AddProductTag: %w", classify(err, ErrNotFound))
	}
	return pt, nil
}

func (s *PostgresStore) ListProductsByTag(ctx context.Context, tagID int64) ([]Product, error) {
	const q = `
		SELECT p.id, p.user_id, p.name, p.description, p.price_per_unit,
		       p.quantity_in_stock, p.is_active, p.created_at, p.updated_at
		FROM products p
		JOIN product_tags pt ON pt.product_id = p.id
		WHERE pt.tag_id = @tag_id
		ORDER BY p.id`

	out, err := s.queryProducts(ctx, q, pgx.NamedArgs{"tag_id": tagID})
	if err != nil {
		return nil, fmt.Errorf("catalog.PostgresStore.ListProductsByTag: %w", err)
	}
	return out, nil
}

// ---- transactions ----------------------------------------------------------

const txnCols = `id, user_id, product_id, quantity, total_price, idempotency_key, "timestamp"`

func (s *PostgresStore) CreateTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	const q = `
		INSERT INTO transactions (user_id, product_id, quantity, total_price, idempotency_key, "timestamp")
		VALUES (@user_id, @product_id, @quantity, @total_price, @idempotency_key, COALESCE(@timestamp, now()))
		RETURNING ` + txnCols

	var ts pgtype.Timestamptz
	if !t.Timestamp.IsZero() {
		ts = pgtype.Timestamptz{Time: t.Timestamp, Valid: true}
	}

	args := pgx.NamedArgs{
		"user_id":         t.BuyerID,
		"product_id":      t.ProductID,
		"quantity":        t.Quantity,
		"total_price":     toNumeric(t.TotalPrice),
		"idempotency_key": toUUID(t.IdempotencyKey),
		"timestamp":       ts,
	}

	var out Transaction
	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		var err error
		out, err = scanTransaction(s.db.QueryRow(ctx, q, args))
		return err
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("catalog.PostgresStore.CreateTransaction: %w", classify(err, ErrNotFound))
	}
	return out, nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	const q = `SELECT ` + txnCols + ` FROM transactions WHERE id = @id`

	var out Transaction
	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		var err error
		out, err = scanTransaction(s.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
		return err
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("catalog.PostgresStore.GetTransaction: %w", classify(err, ErrNotFound))
	}
	return out, nil
}

func (s *PostgresStore) GetTransactionByKey(ctx context.Context, key uuid.UUID) (Transaction, error) {
	const q = `SELECT ` + txnCols + ` FROM transactions WHERE idempotency_key = @key`

	var out Transaction
	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		var err error
		out, err = scanTransaction(s.db.QueryRow(ctx, q, pgx.NamedArgs{"key": toUUID(&key)}))
		return err
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("catalog.PostgresStore.GetTransactionByKey: %w", classify(err, ErrNotFound))
	}
	return out, nil
}

func (s *PostgresStore) ListTransactionsByBuyer(ctx context.Context, buyerID int64) ([]Transaction, error) {
	const q = `SELECT ` + txnCols + ` FROM transactions WHERE user_id = @user_id ORDER BY id`

	var out []Transaction
	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, q, pgx.NamedArgs{"user_id": buyerID})
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]Transaction, 0, 8)
		for rows.Next() {
			t, err := scanTransaction(rows)
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("catalog.PostgresStore.ListTransactionsByBuyer: %w", err)
	}
	return out, nil
}

// ---- scanning and error mapping ---------------------------------------------

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (User, error) {
	var u User
	err := s.Scan(&u.ID, &u.Name, &u.Email, &u.Address, &u.BillingInfo, &u.CreatedAt)
	return u, err
}

func scanProduct(s scanner) (Product, error) {
	var (
		p     Product
		price pgtype.Numeric
	)
	err := s.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &price,
		&p.QuantityInStock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	p.PricePerUnit = fromNumeric(price)
	return p, nil
}

func scanTag(s scanner) (Tag, error) {
	var t Tag
	err := s.Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt)
	return t, err
}

func scanTransaction(s scanner) (Transaction, error) {
	var (
		t     Transaction
		total pgtype.Numeric
		key   pgtype.UUID
	)
	err := s.Scan(&t.ID, &t.BuyerID, &t.ProductID, &t.Quantity, &total, &key, &t.Timestamp)
	if err != nil {
		return Transaction{}, err
	}
	t.TotalPrice = fromNumeric(total)
	if key.Valid {
		k := uuid.UUID(key.Bytes)
		t.IdempotencyKey = &k
	}
	return t, nil
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func toUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

// classify maps pgx errors onto the catalog sentinels. fkErr is what a foreign
// key violation means for the calling statement: a missing parent on insert,
// dependent rows on delete.
func classify(err, fkErr error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueCode:
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	case pgForeignKeyCode:
		return fmt.Errorf("%w: %s", fkErr, pgErr.ConstraintName)
	case pgCheckCode:
		return fmt.Errorf("%w: %s", ErrValidation, pgErr.ConstraintName)
	}
	return err
}
