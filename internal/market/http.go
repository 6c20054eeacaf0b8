package market

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"Betsy/internal/catalog"
	"Betsy/pkg/kit"
)

// IdempotencyHeader optionally carries a UUID on POST /purchases.
const IdempotencyHeader = "Idempotency-Key"

type Server struct {
	Svc *Service
	Log *zap.Logger
}

type createUserReq struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Address     string `json:"address"`
	BillingInfo string `json:"billing_info"`
}

type addProductReq struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	PricePerUnit    decimal.Decimal `json:"price_per_unit"`
	QuantityInStock int             `json:"quantity_in_stock"`
}

type updateStockReq struct {
	Quantity *int `json:"quantity"`
}

type tagProductReq struct {
	TagID int64 `json:"tag_id"`
}

type createTagReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type purchaseReq struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type namesResp struct {
	Products []string `json:"products"`
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserReq
	if err := kit.DecodeJSON(w, r, &req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", nil)
		return
	}

	u, err := s.Svc.CreateUser(r.Context(), catalog.User{
		Name:        req.Name,
		Email:       req.Email,
		Address:     req.Address,
		BillingInfo: req.BillingInfo,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusCreated, u)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	u, err := s.Svc.GetUser(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, u)
}

func (s *Server) listUserProducts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	names, err := s.Svc.ListUserProducts(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, namesResp{Products: names})
}

func (s *Server) listUserTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	txns, err := s.Svc.ListTransactions(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, txns)
}

func (s *Server) searchProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.Svc.SearchProducts(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, products)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	p, err := s.Svc.GetProduct(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) addProduct(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	var req addProductReq
	if err := kit.DecodeJSON(w, r, &req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", nil)
		return
	}

	res, err := s.Svc.AddProductToCatalog(r.Context(), actor, req.Name, req.Description, req.PricePerUnit, req.QuantityInStock)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.Duplicate {
		kit.WriteJSON(w, http.StatusOK, res)
		return
	}
	kit.WriteJSON(w, http.StatusCreated, res)
}

func (s *Server) removeProduct(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	res, err := s.Svc.RemoveProductFromUser(r.Context(), id, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !res.Retired {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	kit.WriteJSON(w, http.StatusOK, res)
}

// updateStock is restricted to the product owner at the transport layer;
// Service.UpdateStock itself takes no actor.
func (s *Server) updateStock(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req updateStockReq
	if err := kit.DecodeJSON(w, r, &req); err != nil || req.Quantity == nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", nil)
		return
	}

	p, err := s.Svc.GetProduct(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if p.UserID != actor {
		s.writeError(w, r, catalog.ErrUnauthorized)
		return
	}

	p, err = s.Svc.UpdateStock(r.Context(), id, *req.Quantity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) tagProduct(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req tagProductReq
	if err := kit.DecodeJSON(w, r, &req); err != nil || req.TagID <= 0 {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", nil)
		return
	}

	pt, err := s.Svc.TagProduct(r.Context(), id, req.TagID, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, pt)
}

func (s *Server) createTag(w http.ResponseWriter, r *http.Request) {
	var req createTagReq
	if err := kit.DecodeJSON(w, r, &req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", nil)
		return
	}

	t, err := s.Svc.CreateTag(r.Context(), req.Name, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusCreated, t)
}

func (s *Server) listTagProducts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	names, err := s.Svc.ListProductsPerTag(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, namesResp{Products: names})
}

func (s *Server) purchase(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	var req purchaseReq
	if err := kit.DecodeJSON(w, r, &req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", nil)
		return
	}

	pr := PurchaseRequest{ProductID: req.ProductID, BuyerID: actor, Quantity: req.Quantity}
	if raw := r.Header.Get(IdempotencyHeader); raw != "" {
		key, err := uuid.Parse(raw)
		if err != nil {
			kit.WriteError(w, r, http.StatusBadRequest, "invalid "+IdempotencyHeader, nil)
			return
		}
		pr.IdempotencyKey = &key
	}

	txn, err := s.Svc.PurchaseProduct(r.Context(), pr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusCreated, txn)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		kit.WriteError(w, r, http.StatusNotFound, "not found", nil)
	case errors.Is(err, catalog.ErrUnauthorized):
		kit.WriteError(w, r, http.StatusForbidden, "forbidden", nil)
	case errors.Is(err, catalog.ErrInsufficientStock):
		kit.WriteError(w, r, http.StatusConflict, "insufficient stock", nil)
	case errors.Is(err, catalog.ErrProductUnavailable):
		kit.WriteError(w, r, http.StatusConflict, "product unavailable", nil)
	case errors.Is(err, catalog.ErrDuplicate):
		kit.WriteError(w, r, http.StatusConflict, "already exists", nil)
	case errors.Is(err, catalog.ErrValidation):
		kit.WriteError(w, r, http.StatusUnprocessableEntity, "validation failed", map[string]any{"cause": err.Error()})
	case isTimeoutErr(err):
		kit.WriteError(w, r, http.StatusGatewayTimeout, "timeout", nil)
	default:
		if s.Log != nil {
			s.Log.Error("request failed", zap.Error(err), zap.String("path", r.URL.Path))
		}
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		kit.WriteError(w, r, http.StatusBadRequest, "bad id", nil)
		return 0, false
	}
	return id, true
}

func isTimeoutErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
