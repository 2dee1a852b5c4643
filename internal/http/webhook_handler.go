package http

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/htbacgiang/ecobacgiang/internal/confirm"
	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const WebhookSecretHeader = "X-Webhook-Secret"

// Publisher fans a push notification out to listeners; confirm.Hub
// implements it.
type Publisher interface {
	Publish(n confirm.Notification) int
}

type WebhookHandler struct {
	hub    Publisher
	secret string
	logger *zap.Logger
}

// NewWebhookHandler accepts provider pushes. An empty secret disables the
// shared-secret check.
func NewWebhookHandler(hub Publisher, secret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{hub: hub, secret: secret, logger: logger.With(zap.String("component", "webhook"))}
}

type PaymentWebhookDTO struct {
	ReferenceCode string          `json:"reference_code"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
}

// POST /webhooks/payments
func (h *WebhookHandler) Payments(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(WebhookSecretHeader)), []byte(h.secret)) != 1 {
		respondError(w, http.StatusUnauthorized, "invalid_signature", "webhook secret mismatch")
		return
	}

	var req PaymentWebhookDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ReferenceCode == "" {
		respondError(w, http.StatusBadRequest, "missing_reference_code", "reference_code is required")
		return
	}

	n := confirm.Notification{
		ReferenceCode: req.ReferenceCode,
		Status:        domain.ParsePaymentStatus(req.Status),
		Amount:        req.Amount,
	}
	delivered := h.hub.Publish(n)
	h.logger.Info("payment push received",
		zap.String("reference_code", n.ReferenceCode),
		zap.String("status", n.Status.String()),
		zap.Int("delivered", delivered))

	respondJSON(w, http.StatusAccepted, map[string]int{"delivered": delivered})
}
