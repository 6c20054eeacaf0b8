package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memState struct {
	mu sync.RWMutex

	seq         int64
	users       map[int64]User
	products    map[int64]Product
	tags        map[int64]Tag
	productTags map[int64]ProductTag
	txns        map[int64]Transaction
}

// MemStore keeps every table in process memory. It enforces the same unique,
// foreign key and check constraints as the Postgres schema.
//
// A MemStore handed to an InTx callback holds the store lock until the callback
// returns and must not be retained afterwards.
type MemStore struct {
	st   *memState
	undo *[]func()
}

func NewMemStore() *MemStore {
	return &MemStore{st: &memState{
		users:       map[int64]User{},
		products:    map[int64]Product{},
		tags:        map[int64]Tag{},
		productTags: map[int64]ProductTag{},
		txns:        map[int64]Transaction{},
	}}
}

func (s *MemStore) Ping(ctx context.Context) error { return nil }

func (s *MemStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.undo != nil {
		return fn(ctx, s)
	}

	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	var undo []func()
	tx := &MemStore{st: s.st, undo: &undo}
	if err := fn(ctx, tx); err != nil {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return err
	}
	return nil
}

func (s *MemStore) lock() func() {
	if s.undo != nil {
		return func() {}
	}
	s.st.mu.Lock()
	return s.st.mu.Unlock
}

func (s *MemStore) rlock() func() {
	if s.undo != nil {
		return func() {}
	}
	s.st.mu.RLock()
	return s.st.mu.RUnlock
}

func (s *MemStore) onRollback(f func()) {
	if s.undo != nil {
		*s.undo = append(*s.undo, f)
	}
}

func (s *MemStore) nextID() int64 {
	s.st.seq++
	return s.st.seq
}

func now() time.Time { return time.Now().UTC() }

// ---- users -----------------------------------------------------------------

func (s *MemStore) CreateUser(ctx context.Context, u User) (User, error) {
	defer s.lock()()

	for _, existing := range s.st.users {
		if existing.Email == u.Email {
			return User{}, ErrDuplicate
		}
	}

	u.ID = s.nextID()
	u.CreatedAt = now()
	s.st.users[u.ID] = u
	s.onRollback(func() { delete(s.st.users, u.ID) })
	return u, nil
}

func (s *MemStore) GetUser(ctx context.Context, id int64) (User, error) {
	defer s.rlock()()

	u, ok := s.st.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// ---- products --------------------------------------------------------------

func (s *MemStore) CreateProduct(ctx context.Context, p Product) (Product, error) {
	defer s.lock()()

	if _, ok := s.st.users[p.UserID]; !ok {
		return Product{}, ErrNotFound
	}
	if err := s.checkProduct(p); err != nil {
		return Product{}, err
	}

	p.ID = s.nextID()
	p.CreatedAt = now()
	p.UpdatedAt = p.CreatedAt
	s.st.products[p.ID] = p
	s.onRollback(func() { delete(s.st.products, p.ID) })
	return p, nil
}

func (s *MemStore) GetProduct(ctx context.Context, id int64) (Product, error) {
	defer s.rlock()()

	p, ok := s.st.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

// GetProductForUpdate is GetProduct: inside InTx the whole store is already held.
func (s *MemStore) GetProductForUpdate(ctx context.Context, id int64) (Product, error) {
	return s.GetProduct(ctx, id)
}

func (s *MemStore) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	defer s.lock()()

	prev, ok := s.st.products[p.ID]
	if !ok {
		return Product{}, ErrNotFound
	}
	if _, ok := s.st.users[p.UserID]; !ok {
		return Product{}, ErrNotFound
	}
	if err := s.checkProduct(p); err != nil {
		return Product{}, err
	}

	p.CreatedAt = prev.CreatedAt
	p.UpdatedAt = now()
	s.st.products[p.ID] = p
	s.onRollback(func() { s.st.products[prev.ID] = prev })
	return p, nil
}

func (s *MemStore) DeactivateProduct(ctx context.Context, id int64) (Product, error) {
	defer s.lock()()

	prev, ok := s.st.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}

	p := prev
	p.IsActive = false
	p.UpdatedAt = now()
	s.st.products[id] = p
	s.onRollback(func() { s.st.products[prev.ID] = prev })
	return p, nil
}

func (s *MemStore) DeleteProduct(ctx context.Context, id int64) error {
	defer s.lock()()

	prev, ok := s.st.products[id]
	if !ok {
		return ErrNotFound
	}
	for _, t := range s.st.txns {
		if t.ProductID == id {
			return ErrReferenced
		}
	}

	for ptID, pt := range s.st.productTags {
		if pt.ProductID == id {
			delete(s.st.productTags, ptID)
			s.onRollback(func() { s.st.productTags[pt.ID] = pt })
		}
	}
	delete(s.st.products, id)
	s.onRollback(func() { s.st.products[prev.ID] = prev })
	return nil
}

func (s *MemStore) DecrementStock(ctx context.Context, id int64, qty int) (Product, error) {
	defer s.lock()()

	prev, ok := s.st.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	if prev.QuantityInStock < qty {
		return Product{}, ErrInsufficientStock
	}

	p := prev
	p.QuantityInStock -= qty
	p.UpdatedAt = now()
	s.st.products[id] = p
	s.onRollback(func() { s.st.products[prev.ID] = prev })
	return p, nil
}

func (s *MemStore) SearchProducts(ctx context.Context, term string) ([]Product, error) {
	return s.filterProducts(func(p Product) bool {
		return strings.Contains(p.Name, term) || strings.Contains(p.Description, term)
	}), nil
}

func (s *MemStore) ListProductsByUser(ctx context.Context, userID int64) ([]Product, error) {
	return s.filterProducts(func(p Product) bool { return p.UserID == userID }), nil
}

func (s *MemStore) FindActiveProduct(ctx context.Context, userID int64, name string) (Product, error) {
	found := s.filterProducts(func(p Product) bool {
		return p.IsActive && p.UserID == userID && p.Name == name
	})
	if len(found) == 0 {
		return Product{}, ErrNotFound
	}
	return found[0], nil
}

func (s *MemStore) filterProducts(keep func(Product) bool) []Product {
	defer s.rlock()()

	out := make([]Product, 0, 16)
	for _, p := range s.st.products {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// checkProduct mirrors the products table constraints. Caller holds the lock.
func (s *MemStore) checkProduct(p Product) error {
	if p.QuantityInStock < 0 || p.PricePerUnit.IsNegative() {
		return ErrValidation
	}
	if !p.IsActive {
		return nil
	}
	for _, other := range s.st.products {
		if other.ID != p.ID && other.IsActive && other.UserID == p.UserID && other.Name == p.Name {
			return ErrDuplicate
		}
	}
	return nil
}

// ---- tags ------------------------------------------------------------------

func (s *MemStore) CreateTag(ctx context.Context, t Tag) (Tag, error) {
	defer s.lock()()

	for _, existing := range s.st.tags {
		if existing.Name == t.Name {
			return Tag{}, ErrDuplicate
		}
	}

	t.ID = s.nextID()
	t.CreatedAt = now()
	s.st.tags[t.ID] = t
	s.onRollback(func() { delete(s.st.tags, t.ID) })
	return t, nil
}

func (s *MemStore) GetTag(ctx context.Context, id int64) (Tag, error) {
	defer s.rlock()()

	t, ok := s.st.tags[id]
	if !ok {
		return Tag{}, ErrNotFound
	}
	return t, nil
}

func (s *MemStore) AddProductTag(ctx context.Context, productID, tagID int64) (ProductTag, error) {
	defer s.lock()()

	if _, ok := s.st.products[productID]; !ok {
		return ProductTag{}, ErrNotFound
	}
	if _, ok := s.st.tags[tagID]; !ok {
		return ProductTag{}, ErrNotFound
	}
	for _, pt := range s.st.productTags {
		if pt.ProductID == productID && pt.TagID == tagID {
			return pt, nil
		}
	}

	pt := ProductTag{ID: s.nextID(), ProductID: productID, TagID: tagID, CreatedAt: now()}
	s.st.productTags[pt.ID] = pt
	s.onRollback(func() { delete(s.st.productTags, pt.ID) })
	return pt, nil
}

func (s *MemStore) ListProductsByTag(ctx context.Context, tagID int64) ([]Product, error) {
	defer s.rlock()()

	out := make([]Product, 0, 16)
	for _, pt := range s.st.productTags {
		if pt.TagID != tagID {
			continue
		}
		if p, ok := s.st.products[pt.ProductID]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- transactions ----------------------------------------------------------

func (s *MemStore) CreateTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	defer s.lock()()

	if _, ok := s.st.users[t.BuyerID]; !ok {
		return Transaction{}, ErrNotFound
	}
	if _, ok := s.st.products[t.ProductID]; !ok {
		return Transaction{}, ErrNotFound
	}
	if t.Quantity <= 0 || t.TotalPrice.IsNegative() {
		return Transaction{}, ErrValidation
	}
	if t.IdempotencyKey != nil {
		if _, err := s.transactionByKey(*t.IdempotencyKey); err == nil {
			return Transaction{}, ErrDuplicate
		}
	}

	t.ID = s.nextID()
	if t.Timestamp.IsZero() {
		t.Timestamp = now()
	}
	s.st.txns[t.ID] = t
	s.onRollback(func() { delete(s.st.txns, t.ID) })
	return t, nil
}

func (s *MemStore) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	defer s.rlock()()

	t, ok := s.st.txns[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return t, nil
}

func (s *MemStore) GetTransactionByKey(ctx context.Context, key uuid.UUID) (Transaction, error) {
	defer s.rlock()()
	return s.transactionByKey(key)
}

func (s *MemStore) transactionByKey(key uuid.UUID) (Transaction, error) {
	for _, t := range s.st.txns {
		if t.IdempotencyKey != nil && *t.IdempotencyKey == key {
			return t, nil
		}
	}
	return Transaction{}, ErrNotFound
}

func (s *MemStore) ListTransactionsByBuyer(ctx context.Context, buyerID int64) ([]Transaction, error) {
	defer s.rlock()()

	out := make([]Transaction, 0, 8)
	for _, t := range s.st.txns {
		if t.BuyerID == buyerID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
