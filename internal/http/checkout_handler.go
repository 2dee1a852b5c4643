package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/htbacgiang/ecobacgiang/internal/checkout"
	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CheckoutHandler struct {
	sessionHandler
}

func NewCheckoutHandler(sessions Sessions, timeout time.Duration, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{sessionHandler{
		sessions: sessions,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "checkout_handler")),
	}}
}

type SelectPaymentRequestDTO struct {
	Method      string           `json:"method"`
	ShippingFee *decimal.Decimal `json:"shipping_fee,omitempty"`
}

// PUT /api/v1/checkout/shipping
func (h *CheckoutHandler) UpdateShipping(w http.ResponseWriter, r *http.Request) {
	var req domain.ShippingInfo
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	h.run(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) (checkout.View, error) {
		return s.UpdateShipping(ctx, req)
	})
}

// POST /api/v1/checkout/payment
func (h *CheckoutHandler) SelectPayment(w http.ResponseWriter, r *http.Request) {
	var req SelectPaymentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Method == "" {
		respondError(w, http.StatusBadRequest, "missing_method", "method is required")
		return
	}
	h.run(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) (checkout.View, error) {
		return s.SelectPayment(ctx, domain.PaymentMethod(req.Method), req.ShippingFee)
	})
}

// GET /api/v1/checkout/payment
func (h *CheckoutHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) (checkout.View, error) {
		return s.View(ctx)
	})
}

// POST /api/v1/checkout/payment/qr
func (h *CheckoutHandler) RefreshQR(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) (checkout.View, error) {
		return s.RefreshQR(ctx)
	})
}

// POST /api/v1/checkout/place
func (h *CheckoutHandler) Place(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) (checkout.View, error) {
		return s.Place(ctx)
	})
}

// DELETE /api/v1/checkout
func (h *CheckoutHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) (checkout.View, error) {
		s.Leave()
		return s.View(ctx)
	})
}
