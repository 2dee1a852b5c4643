package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Unit is the measurement a line item is sold in.
type Unit string

const (
	UnitKilogram    Unit = "kg"
	UnitHundredGram Unit = "100g"
	UnitBag         Unit = "bag"
	UnitBox         Unit = "box"
	UnitBottle      Unit = "bottle"
)

var (
	half = decimal.RequireFromString("0.5")
	one  = decimal.NewFromInt(1)
	two  = decimal.NewFromInt(2)
	nine = decimal.NewFromInt(9)
)

// unitAliases maps lower-cased, space-collapsed spellings found in product
// records to their canonical unit.
var unitAliases = map[string]Unit{
	"kg":        UnitKilogram,
	"kgs":       UnitKilogram,
	"kilo":      UnitKilogram,
	"kilogram":  UnitKilogram,
	"kilograms": UnitKilogram,
	"ký":        UnitKilogram,
	"kí":        UnitKilogram,
	"cân":       UnitKilogram,
	"1kg":       UnitKilogram,

	"100g":      UnitHundredGram,
	"100 g":     UnitHundredGram,
	"100gr":     UnitHundredGram,
	"100 gr":    UnitHundredGram,
	"100gram":   UnitHundredGram,
	"100 gram":  UnitHundredGram,
	"100 gam":   UnitHundredGram,
	"100gam":    UnitHundredGram,
	"g":         UnitHundredGram,
	"gr":        UnitHundredGram,
	"gram":      UnitHundredGram,
	"grams":     UnitHundredGram,
	"gam":       UnitHundredGram,
	"lạng":      UnitHundredGram,

	"hundred-gram": UnitHundredGram,
	"hundred gram": UnitHundredGram,

	"bag":  UnitBag,
	"bags": UnitBag,
	"túi":  UnitBag,
	"bịch": UnitBag,
	"gói":  UnitBag,
	"pack": UnitBag,

	"box":   UnitBox,
	"boxes": UnitBox,
	"hộp":   UnitBox,
	"thùng": UnitBox,

	"bottle":  UnitBottle,
	"bottles": UnitBottle,
	"chai":    UnitBottle,
	"lọ":      UnitBottle,
	"bình":    UnitBottle,
}

// Canonicalize folds a raw unit string to one of the canonical units.
// Unrecognized input is returned unchanged.
func Canonicalize(raw string) Unit {
	key := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	if u, ok := unitAliases[key]; ok {
		return u
	}
	return Unit(raw)
}

// IsCanonical reports whether u is one of the five canonical units.
func (u Unit) IsCanonical() bool {
	switch u {
	case UnitKilogram, UnitHundredGram, UnitBag, UnitBox, UnitBottle:
		return true
	}
	return false
}

func (u Unit) String() string {
	return string(u)
}

// MinQuantity is the smallest legal non-zero quantity for the unit.
func MinQuantity(u Unit) decimal.Decimal {
	if u == UnitKilogram {
		return half
	}
	return one
}

// Quantize snaps qty to the legal step of unit. A zero result means the line
// must be removed; for kg and 100g that includes anything rounding to zero.
// Out-of-range input is clamped, never rejected.
func Quantize(qty decimal.Decimal, unit Unit) decimal.Decimal {
	if !qty.IsPositive() {
		return decimal.Zero
	}
	switch unit {
	case UnitKilogram:
		return qty.Mul(two).Round(0).Div(two)
	case UnitHundredGram:
		n := qty.Round(0)
		if n.GreaterThan(nine) {
			return nine
		}
		return n
	default:
		// bag, box, bottle and any unrecognized unit count whole pieces
		n := qty.Round(0)
		if n.LessThan(one) {
			return one
		}
		return n
	}
}

// StepUp returns the quantity after incrementing by step. For kg, a step of 1
// from exactly 0.5 lands on 1.0 so the sequence is 0.5, 1, 2, 3...
func StepUp(qty, step decimal.Decimal, unit Unit) decimal.Decimal {
	if !step.IsPositive() {
		step = one
	}
	if unit == UnitKilogram && qty.Equal(half) && step.Equal(one) {
		return one
	}
	return Quantize(qty.Add(step), unit)
}

// StepDown returns the quantity after decrementing by step, or zero when the
// result falls below the unit minimum. For kg, a step of 1 from exactly 1.0
// lands on the 0.5 floor.
func StepDown(qty, step decimal.Decimal, unit Unit) decimal.Decimal {
	if !step.IsPositive() {
		step = one
	}
	if unit == UnitKilogram && qty.Equal(one) && step.Equal(one) {
		return half
	}
	next := qty.Sub(step)
	if next.LessThan(MinQuantity(unit)) {
		return decimal.Zero
	}
	return Quantize(next, unit)
}
