package cart

import (
	"context"
	"fmt"
)

// MigrationResult reports what moved from the guest cart.
type MigrationResult struct {
	Lines      int
	CouponCode string
}

// Migrate merges the guest cart's lines into the signed-in cart and clears
// the guest copy. Lines present in both carts add their quantities. The
// guest coupon is returned, not copied, so it gets validated again for the
// signed-in user.
func Migrate(ctx context.Context, guest, remote Store) (MigrationResult, error) {
	from, err := guest.Load(ctx)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("load guest cart: %w", err)
	}
	if from.IsEmpty() {
		if from.HasCoupon() {
			if err := guest.Clear(ctx); err != nil {
				return MigrationResult{}, fmt.Errorf("clear guest cart: %w", err)
			}
		}
		return MigrationResult{CouponCode: from.CouponCode}, nil
	}
	into, err := remote.Load(ctx)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("load signed-in cart: %w", err)
	}

	var changes []Change
	for _, line := range from.Items {
		cmd := AddItem{Item: line}
		ch, err := cmd.apply(into)
		if err != nil {
			continue
		}
		changes = append(changes, ch...)
	}
	into.Recompute()

	if err := remote.Persist(ctx, into, changes); err != nil {
		return MigrationResult{}, fmt.Errorf("migrate guest cart: %w", err)
	}
	if err := guest.Clear(ctx); err != nil {
		return MigrationResult{}, fmt.Errorf("clear guest cart: %w", err)
	}
	return MigrationResult{Lines: len(changes), CouponCode: from.CouponCode}, nil
}
