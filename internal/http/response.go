package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/htbacgiang/ecobacgiang/internal/backend"
	"github.com/htbacgiang/ecobacgiang/internal/cart"
	"github.com/htbacgiang/ecobacgiang/internal/checkout"
	"github.com/htbacgiang/ecobacgiang/internal/coupon"
	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/htbacgiang/ecobacgiang/internal/payment"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

type errorMapping struct {
	target error
	status int
	code   string
}

// ordered: wrapped errors match the first entry they satisfy
var errorMappings = []errorMapping{
	{checkout.ErrNoIdentity, http.StatusUnauthorized, "unauthorized"},
	{payment.ErrUnauthenticated, http.StatusUnauthorized, "sign_in_required"},

	{domain.ErrInvalidItem, http.StatusBadRequest, "invalid_item"},
	{cart.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{checkout.ErrUnknownMethod, http.StatusBadRequest, "unknown_payment_method"},
	{checkout.ErrInvalidShippingFee, http.StatusBadRequest, "invalid_shipping_fee"},

	{domain.ErrItemNotFound, http.StatusNotFound, "item_not_found"},
	{checkout.ErrNoPendingIntent, http.StatusNotFound, "no_pending_intent"},

	{checkout.ErrCartLocked, http.StatusConflict, "cart_locked"},
	{checkout.ErrPlacementInProgress, http.StatusConflict, "placement_in_progress"},
	{checkout.ErrPaymentNotConfirmed, http.StatusConflict, "payment_not_confirmed"},
	{checkout.ErrEmptyCart, http.StatusConflict, "empty_cart"},
	{payment.ErrEmptyCart, http.StatusConflict, "empty_cart"},
	{payment.ErrIntentNotPending, http.StatusConflict, "intent_not_pending"},

	{domain.ErrShippingIncomplete, http.StatusUnprocessableEntity, "shipping_incomplete"},
	{domain.ErrCouponRejected, http.StatusUnprocessableEntity, "coupon_rejected"},
	{checkout.ErrPaidAmountMismatch, http.StatusUnprocessableEntity, "paid_amount_mismatch"},

	{coupon.ErrValidatorUnavailable, http.StatusBadGateway, "coupon_validator_unavailable"},
	{payment.ErrQRUnavailable, http.StatusBadGateway, "qr_unavailable"},
	{payment.ErrAmountMismatch, http.StatusBadGateway, "provider_amount_mismatch"},
	{checkout.ErrPlacementFailed, http.StatusBadGateway, "placement_failed"},
}

func handleError(w http.ResponseWriter, logger *zap.Logger, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			respondJSON(w, m.status, ErrorResponse{Error: m.target.Error(), Code: m.code, Details: err.Error()})
			return
		}
	}
	if backend.IsTransient(err) {
		respondError(w, http.StatusBadGateway, "backend_unavailable", "storefront backend unavailable")
		return
	}
	logger.Error("request failed", zap.Error(err))
	respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}
