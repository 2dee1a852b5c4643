package backend

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/shopspring/decimal"
)

type upsertItemRequest struct {
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      domain.Unit     `json:"unit"`
	ImageRef  string          `json:"image_ref,omitempty"`
}

type applyCouponRequest struct {
	Code string `json:"code"`
}

type couponResponse struct {
	Valid           bool            `json:"valid"`
	Code            string          `json:"code"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Message         string          `json:"message,omitempty"`
}

// GetCart returns the remotely persisted cart of userID. A missing cart is an
// empty one.
func (c *Client) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart
	err := c.do(ctx, request{method: http.MethodGet, path: "/cart", userID: userID}, &cart)
	if IsNotFound(err) {
		return domain.NewCart(), nil
	}
	if err != nil {
		return nil, err
	}
	if cart.Items == nil {
		cart.Items = []domain.LineItem{}
	}
	return &cart, nil
}

// UpsertItem writes the line as-is; the quantity is already quantized.
func (c *Client) UpsertItem(ctx context.Context, userID string, item domain.LineItem) error {
	return c.do(ctx, request{
		method: http.MethodPut,
		path:   "/cart/items/" + url.PathEscape(item.ProductID),
		userID: userID,
		body: upsertItemRequest{
			Title:     item.Title,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Unit:      item.Unit,
			ImageRef:  item.ImageRef,
		},
	}, nil)
}

func (c *Client) RemoveItem(ctx context.Context, userID, productID string) error {
	err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/cart/items/" + url.PathEscape(productID),
		userID: userID,
	}, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) ClearCart(ctx context.Context, userID string) error {
	err := c.do(ctx, request{method: http.MethodDelete, path: "/cart", userID: userID}, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// ClearCoupon detaches the coupon from userID's cart. A cart without one is
// left as it is.
func (c *Client) ClearCoupon(ctx context.Context, userID string) error {
	err := c.do(ctx, request{method: http.MethodDelete, path: "/cart/coupon", userID: userID}, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// ApplyCoupon asks the backend to validate code for userID's current cart.
// A 4xx rejection is reported as an invalid validation, not an error.
func (c *Client) ApplyCoupon(ctx context.Context, userID, code string) (domain.CouponValidation, error) {
	var resp couponResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/cart/apply-coupon",
		userID: userID,
		body:   applyCouponRequest{Code: strings.TrimSpace(code)},
	}, &resp)
	if IsRejection(err) {
		var be *Error
		errors.As(err, &be)
		return domain.CouponValidation{Valid: false, Code: code, Message: be.Message}, nil
	}
	if err != nil {
		return domain.CouponValidation{}, err
	}
	return domain.CouponValidation{
		Valid:           resp.Valid,
		Code:            resp.Code,
		DiscountPercent: resp.DiscountPercent,
		Message:         resp.Message,
	}, nil
}
