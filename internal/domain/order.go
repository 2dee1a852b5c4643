package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrShippingIncomplete = errors.New("shipping information incomplete")

var phonePattern = regexp.MustCompile(`^(0|\+84)[0-9]{9}$`)

type ShippingInfo struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Note    string `json:"note,omitempty"`
}

// Validate returns ErrShippingIncomplete naming every missing or malformed
// field.
func (s ShippingInfo) Validate() error {
	var missing []string
	if strings.TrimSpace(s.Name) == "" {
		missing = append(missing, "name")
	}
	phone := strings.ReplaceAll(strings.TrimSpace(s.Phone), " ", "")
	if phone == "" {
		missing = append(missing, "phone")
	} else if !phonePattern.MatchString(phone) {
		missing = append(missing, "phone (invalid format)")
	}
	if strings.TrimSpace(s.Address) == "" {
		missing = append(missing, "address")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrShippingIncomplete, strings.Join(missing, ", "))
	}
	return nil
}

type OrderItem struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      Unit            `json:"unit"`
}

type Order struct {
	ID              string          `json:"id"`
	ReferenceCode   string          `json:"reference_code,omitempty"`
	UserID          string          `json:"user_id"`
	Items           []OrderItem     `json:"items"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	ShippingFee     decimal.Decimal `json:"shipping_fee"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	Shipping        ShippingInfo    `json:"shipping"`
	CreatedAt       time.Time       `json:"created_at"`
}

// NewOrder snapshots a cart into an order. intent is nil for pay-later methods.
func NewOrder(userID string, cart *Cart, shipping ShippingInfo, shippingFee decimal.Decimal, method PaymentMethod, intent *PaymentIntent) *Order {
	items := make([]OrderItem, len(cart.Items))
	for i, it := range cart.Items {
		items[i] = OrderItem{
			ProductID: it.ProductID,
			Title:     it.Title,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			Unit:      it.Unit,
		}
	}
	order := &Order{
		ID:              uuid.NewString(),
		UserID:          userID,
		Items:           items,
		CouponCode:      cart.CouponCode,
		DiscountPercent: cart.DiscountPercent,
		Subtotal:        cart.Subtotal,
		ShippingFee:     shippingFee,
		Total:           PayableAmount(cart, shippingFee),
		PaymentMethod:   method,
		PaymentStatus:   PaymentPending,
		Shipping:        shipping,
		CreatedAt:       time.Now(),
	}
	if intent != nil {
		order.ReferenceCode = intent.ReferenceCode
		order.PaymentStatus = intent.Status
	}
	return order
}
