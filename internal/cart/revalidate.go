package cart

import (
	"context"
	"time"

	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/localstore"
)

// NewStoreRevalidator builds a Revalidator backed by the local discount
// records. A held discount survives resume only while its record still
// exists, is active, is inside its date window, and has usage left.
// Revalidation is by id; the cached amount on the snapshot is ignored.
func NewStoreRevalidator(store localstore.Store) Revalidator {
	return func(ctx context.Context, discount domain.CartDiscount) bool {
		record, err := store.GetDiscount(ctx, discount.ID)
		if err != nil {
			return false
		}
		if !record.Active {
			return false
		}

		now := time.Now().UTC()
		if record.StartsAt != nil && now.Before(*record.StartsAt) {
			return false
		}
		if record.EndsAt != nil && now.After(*record.EndsAt) {
			return false
		}
		if record.UsageLimit > 0 && record.UsedCount >= record.UsageLimit {
			return false
		}
		return true
	}
}
