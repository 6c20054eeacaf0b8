// Package catalog holds the marketplace entities and the stores that persist them.
package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Address     string    `json:"address"`
	BillingInfo string    `json:"billing_info"`
	CreatedAt   time.Time `json:"created_at"`
}

// Product is owned by exactly one seller (UserID).
// QuantityInStock never drops below zero.
type Product struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	PricePerUnit    decimal.Decimal `json:"price_per_unit"`
	QuantityInStock int             `json:"quantity_in_stock"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type Tag struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type ProductTag struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	TagID     int64     `json:"tag_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Transaction is the immutable record of a completed purchase.
type Transaction struct {
	ID             int64           `json:"id"`
	BuyerID        int64           `json:"buyer_id"`
	ProductID      int64           `json:"product_id"`
	Quantity       int             `json:"quantity"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	IdempotencyKey *uuid.UUID      `json:"idempotency_key,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}
