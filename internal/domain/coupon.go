package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrCouponRejected = errors.New("coupon rejected")

// CouponValidation is what the remote validator answered for a code.
type CouponValidation struct {
	Valid           bool
	Code            string
	DiscountPercent decimal.Decimal
	Message         string
}

// CouponConfirmation is a discount the remote validator explicitly confirmed.
// The zero value confirms nothing; ConfirmCoupon is the only constructor.
type CouponConfirmation struct {
	code    string
	percent decimal.Decimal
}

func (c CouponConfirmation) Code() string {
	return c.code
}

func (c CouponConfirmation) Percent() decimal.Decimal {
	return c.percent
}

func (c CouponConfirmation) IsZero() bool {
	return c.code == ""
}

// ConfirmCoupon accepts a validator answer only when it confirms the same
// code that was requested with a discount in (0, 100].
func ConfirmCoupon(requested string, v CouponValidation) (CouponConfirmation, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return CouponConfirmation{}, fmt.Errorf("%w: code is required", ErrCouponRejected)
	}
	if !v.Valid {
		reason := v.Message
		if reason == "" {
			reason = "not valid"
		}
		return CouponConfirmation{}, fmt.Errorf("%w: %s", ErrCouponRejected, reason)
	}
	if !strings.EqualFold(strings.TrimSpace(v.Code), requested) {
		return CouponConfirmation{}, fmt.Errorf("%w: validator confirmed %q, requested %q", ErrCouponRejected, v.Code, requested)
	}
	if !v.DiscountPercent.IsPositive() || v.DiscountPercent.GreaterThan(hundred) {
		return CouponConfirmation{}, fmt.Errorf("%w: discount %s out of range", ErrCouponRejected, v.DiscountPercent)
	}
	return CouponConfirmation{code: strings.ToUpper(requested), percent: v.DiscountPercent}, nil
}
