package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/htbacgiang/ecobacgiang/internal/cart"
	"github.com/htbacgiang/ecobacgiang/internal/checkout"
	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sessions hands out the checkout session for an identity; checkout.Registry
// implements it.
type Sessions interface {
	Session(ctx context.Context, id checkout.Identity) (*checkout.Session, error)
}

type sessionOp func(ctx context.Context, s *checkout.Session) (checkout.View, error)

type sessionHandler struct {
	sessions Sessions
	timeout  time.Duration
	logger   *zap.Logger
}

// run resolves the caller's session and applies op. A session swept between
// lookup and use is looked up once more.
func (h *sessionHandler) run(w http.ResponseWriter, r *http.Request, status int, op sessionOp) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := identityFromContext(r.Context())
	var (
		view checkout.View
		err  error
	)
	for attempt := 0; attempt < 2; attempt++ {
		var s *checkout.Session
		if s, err = h.sessions.Session(ctx, id); err != nil {
			break
		}
		view, err = op(ctx, s)
		if !errors.Is(err, checkout.ErrSessionClosed) {
			break
		}
	}
	if err != nil {
		handleError(w, h.logger.With(zap.String("request_id", getRequestID(r.Context()))), err)
		return
	}
	respondJSON(w, status, view)
}

type CartHandler struct {
	sessionHandler
}

func NewCartHandler(sessions Sessions, timeout time.Duration, logger *zap.Logger) *CartHandler {
	return &CartHandler{sessionHandler{
		sessions: sessions,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "cart_handler")),
	}}
}

type AddItemRequestDTO struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit"`
	ImageRef  string          `json:"image_ref,omitempty"`
}

type UpdateQuantityRequestDTO struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type StepRequestDTO struct {
	Step decimal.Decimal `json:"step"`
}

type ApplyCouponRequestDTO struct {
	Code string `json:"code"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) (checkout.View, error) {
		return s.View(ctx)
	})
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	if !req.Quantity.IsPositive() {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be positive")
		return
	}

	item := domain.LineItem{
		ProductID: req.ProductID,
		Title:     req.Title,
		UnitPrice: req.UnitPrice,
		Quantity:  req.Quantity,
		Unit:      domain.Unit(req.Unit),
		ImageRef:  req.ImageRef,
	}
	h.run(w, r, http.StatusCreated, func(ctx context.Context, s *checkout.Session) (checkout.View, error) {
		return s.Mutate(ctx, cart.AddItem{Item: item})
	})
}

// PUT /api/v1/cart/items/{product_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	cmd := cart.SetQuantity{ProductID: chi.URLParam(r, "product_id"), Quantity: req.Quantity}
	h.run(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) (checkout.View, error) {
		return s.Mutate(ctx, cmd)
	})
}

// POST /api/v1/cart/items/{product_id}/increment
func (h *CartHandler) Increment(w http.ResponseWriter, r *http.Request) {
	step, ok := decodeStep(w, r)
	if !ok {
		return
	}
	cmd := cart.Increment{ProductID: chi.URLParam(r, "product_id"), Step: step}
	h.run(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) (checkout.View, error) {
		return s.Mutate(ctx, cmd)
	})
}

// POST /api/v1/cart/items/{product_id}/decrement
func (h *CartHandler) Decrement(w http.ResponseWriter, r *http.Request) {
	step, ok := decodeStep(w, r)
	if !ok {
		return
	}
	cmd := cart.Decrement{ProductID: chi.URLParam(r, "product_id"), Step: step}
	h.run(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) (checkout.View, error) {
		return s.Mutate(ctx, cmd)
	})
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	cmd := cart.RemoveItem{ProductID: chi.URLParam(r, "product_id")}
	h.run(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) (checkout.View, error) {
		return s.Mutate(ctx, cmd)
	})
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) (checkout.View, error) {
		return s.ClearCart(ctx)
	})
}

// POST /api/v1/cart/coupon
func (h *CartHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req ApplyCouponRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}
	h.run(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) (checkout.View, error) {
		return s.ApplyCoupon(ctx, req.Code)
	})
}

// DELETE /api/v1/cart/coupon
func (h *CartHandler) ClearCoupon(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) (checkout.View, error) {
		return s.ClearCoupon(ctx)
	})
}

// decodeStep reads an optional {"step": ...} body; a missing body or step
// means the unit's default step.
func decodeStep(w http.ResponseWriter, r *http.Request) (decimal.Decimal, bool) {
	var req StepRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return decimal.Decimal{}, false
	}
	if req.Step.IsNegative() {
		respondError(w, http.StatusBadRequest, "invalid_step", "step must not be negative")
		return decimal.Decimal{}, false
	}
	return req.Step, true
}
