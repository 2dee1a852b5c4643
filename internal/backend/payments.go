package backend

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/shopspring/decimal"
)

type CreatePaymentRequest struct {
	ReferenceCode string          `json:"reference_code"`
	Amount        decimal.Decimal `json:"amount"`
	Provider      domain.Provider `json:"provider"`
	Memo          string          `json:"memo"`
}

type PaymentDTO struct {
	ReferenceCode string          `json:"reference_code"`
	Amount        decimal.Decimal `json:"amount"`
	Provider      domain.Provider `json:"provider"`
	QRURL         string          `json:"qr_url"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

type PaymentStatusDTO struct {
	ReferenceCode string          `json:"reference_code"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
}

type confirmPaymentRequest struct {
	OrderID string `json:"order_id"`
}

type refreshQRResponse struct {
	QRURL string `json:"qr_url"`
}

func (c *Client) CreatePayment(ctx context.Context, userID string, req CreatePaymentRequest) (*PaymentDTO, error) {
	var out PaymentDTO
	err := c.do(ctx, request{
		method:         http.MethodPost,
		path:           "/payments",
		userID:         userID,
		idempotencyKey: req.ReferenceCode,
		body:           req,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ReferenceCode == "" {
		out.ReferenceCode = req.ReferenceCode
	}
	return &out, nil
}

func (c *Client) PaymentStatus(ctx context.Context, referenceCode string) (*PaymentStatusDTO, error) {
	var out PaymentStatusDTO
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/payments/" + url.PathEscape(referenceCode) + "/status",
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ReferenceCode == "" {
		out.ReferenceCode = referenceCode
	}
	return &out, nil
}

// ConfirmPayment tells the backend the paid intent produced orderID.
func (c *Client) ConfirmPayment(ctx context.Context, userID, referenceCode, orderID string) error {
	return c.do(ctx, request{
		method:         http.MethodPost,
		path:           "/payments/" + url.PathEscape(referenceCode) + "/confirm",
		userID:         userID,
		idempotencyKey: referenceCode,
		body:           confirmPaymentRequest{OrderID: orderID},
	}, nil)
}

func (c *Client) RefreshQR(ctx context.Context, referenceCode string) (string, error) {
	var out refreshQRResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/payments/" + url.PathEscape(referenceCode) + "/refresh-qr",
	}, &out)
	if err != nil {
		return "", err
	}
	return out.QRURL, nil
}

func (c *Client) CancelPayment(ctx context.Context, referenceCode string) error {
	err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/payments/" + url.PathEscape(referenceCode),
	}, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}
