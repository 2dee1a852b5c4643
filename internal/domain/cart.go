package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidItem  = errors.New("line item requires product_id and a non-negative unit_price")
	ErrItemNotFound = errors.New("item not found in cart")
)

var hundred = decimal.NewFromInt(100)

type LineItem struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      Unit            `json:"unit"`
	ImageRef  string          `json:"image_ref,omitempty"`
}

func (i LineItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(i.Quantity)
}

func (i LineItem) Validate() error {
	if i.ProductID == "" || i.UnitPrice.IsNegative() {
		return ErrInvalidItem
	}
	return nil
}

// Cart is the set of line items plus derived totals. CouponCode is empty when
// no coupon is active.
type Cart struct {
	Items              []LineItem      `json:"items"`
	CouponCode         string          `json:"coupon_code,omitempty"`
	DiscountPercent    decimal.Decimal `json:"discount_percent"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	TotalAfterDiscount decimal.Decimal `json:"total_after_discount"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func NewCart() *Cart {
	return &Cart{Items: []LineItem{}}
}

// Recompute derives subtotal and totalAfterDiscount from the items and the
// discount percent. It is the only place totals are written.
func (c *Cart) Recompute() {
	subtotal := decimal.Zero
	for _, item := range c.Items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	if c.CouponCode == "" {
		c.DiscountPercent = decimal.Zero
	}
	pct := decimal.Min(decimal.Max(c.DiscountPercent, decimal.Zero), hundred)
	c.DiscountPercent = pct

	total := subtotal.Mul(hundred.Sub(pct)).Div(hundred)
	if total.IsNegative() {
		total = decimal.Zero
	}
	c.Subtotal = subtotal
	c.TotalAfterDiscount = total
}

// Normalize canonicalizes units and quantities of every item and drops lines
// that quantize to zero. Used when a cart is read back from a store.
func (c *Cart) Normalize() {
	items := c.Items[:0]
	for _, item := range c.Items {
		item.Unit = Canonicalize(string(item.Unit))
		item.Quantity = Quantize(item.Quantity, item.Unit)
		if item.Quantity.IsZero() || item.Validate() != nil {
			continue
		}
		items = append(items, item)
	}
	c.Items = items
}

func (c *Cart) Find(productID string) (int, bool) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i, true
		}
	}
	return -1, false
}

func (c *Cart) Remove(productID string) bool {
	idx, ok := c.Find(productID)
	if !ok {
		return false
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	return true
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c *Cart) HasCoupon() bool {
	return c.CouponCode != ""
}

func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = make([]LineItem, len(c.Items))
	copy(out.Items, c.Items)
	return &out
}

// PayableAmount is the amount a payment intent must be bound to: the
// discounted total plus shipping, rounded to whole currency units.
func PayableAmount(c *Cart, shippingFee decimal.Decimal) decimal.Decimal {
	return c.TotalAfterDiscount.Add(shippingFee).Round(0)
}
