package cart

import (
	"fmt"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/shopspring/decimal"
)

// Command is one cart mutation. apply works on a scratch copy; the aggregate
// discards the copy if persisting fails.
type Command interface {
	apply(c *domain.Cart) ([]Change, error)
}

// AddItem adds a line or merges its quantity into an existing one.
type AddItem struct {
	Item domain.LineItem
}

func (cmd AddItem) apply(c *domain.Cart) ([]Change, error) {
	item := cmd.Item
	if err := item.Validate(); err != nil {
		return nil, err
	}
	item.Unit = domain.Canonicalize(string(item.Unit))

	if idx, ok := c.Find(item.ProductID); ok {
		existing := c.Items[idx]
		qty := domain.Quantize(existing.Quantity.Add(item.Quantity), existing.Unit)
		if qty.IsZero() {
			return nil, fmt.Errorf("%w: %s %s", ErrInvalidQuantity, item.Quantity, item.Unit)
		}
		existing.Quantity = qty
		existing.UnitPrice = item.UnitPrice
		if item.Title != "" {
			existing.Title = item.Title
		}
		c.Items[idx] = existing
		return []Change{lineChange(existing)}, nil
	}

	item.Quantity = domain.Quantize(item.Quantity, item.Unit)
	if item.Quantity.IsZero() {
		return nil, fmt.Errorf("%w: %s %s", ErrInvalidQuantity, cmd.Item.Quantity, item.Unit)
	}
	c.Items = append(c.Items, item)
	return []Change{lineChange(item)}, nil
}

// SetQuantity replaces a line quantity. A quantity that quantizes to zero
// removes the line.
type SetQuantity struct {
	ProductID string
	Quantity  decimal.Decimal
}

func (cmd SetQuantity) apply(c *domain.Cart) ([]Change, error) {
	idx, ok := c.Find(cmd.ProductID)
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	return setLine(c, idx, domain.Quantize(cmd.Quantity, c.Items[idx].Unit)), nil
}

type Increment struct {
	ProductID string
	Step      decimal.Decimal
}

func (cmd Increment) apply(c *domain.Cart) ([]Change, error) {
	idx, ok := c.Find(cmd.ProductID)
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	line := c.Items[idx]
	return setLine(c, idx, domain.StepUp(line.Quantity, cmd.Step, line.Unit)), nil
}

// Decrement lowers a line quantity; dropping below the unit minimum removes
// the line.
type Decrement struct {
	ProductID string
	Step      decimal.Decimal
}

func (cmd Decrement) apply(c *domain.Cart) ([]Change, error) {
	idx, ok := c.Find(cmd.ProductID)
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	line := c.Items[idx]
	return setLine(c, idx, domain.StepDown(line.Quantity, cmd.Step, line.Unit)), nil
}

type RemoveItem struct {
	ProductID string
}

func (cmd RemoveItem) apply(c *domain.Cart) ([]Change, error) {
	if !c.Remove(cmd.ProductID) {
		return nil, domain.ErrItemNotFound
	}
	return []Change{{ProductID: cmd.ProductID}}, nil
}

// ApplyCoupon installs a validator-confirmed discount. Only a
// domain.CouponConfirmation can carry a percent into the cart.
type ApplyCoupon struct {
	Confirmation domain.CouponConfirmation
}

func (cmd ApplyCoupon) apply(c *domain.Cart) ([]Change, error) {
	if cmd.Confirmation.IsZero() {
		return nil, domain.ErrCouponRejected
	}
	c.CouponCode = cmd.Confirmation.Code()
	c.DiscountPercent = cmd.Confirmation.Percent()
	return nil, nil
}

type ClearCoupon struct{}

func (ClearCoupon) apply(c *domain.Cart) ([]Change, error) {
	had := c.HasCoupon()
	c.CouponCode = ""
	c.DiscountPercent = decimal.Zero
	if !had {
		return nil, nil
	}
	return []Change{{CouponCleared: true}}, nil
}

func setLine(c *domain.Cart, idx int, qty decimal.Decimal) []Change {
	line := c.Items[idx]
	if qty.IsZero() {
		c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
		return []Change{{ProductID: line.ProductID}}
	}
	line.Quantity = qty
	c.Items[idx] = line
	return []Change{lineChange(line)}
}

func lineChange(line domain.LineItem) Change {
	return Change{ProductID: line.ProductID, Line: &line}
}
