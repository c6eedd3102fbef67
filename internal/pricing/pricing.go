// Package pricing computes per-item and cart-level monetary totals. Every
// function is pure and synchronous; the cart manager calls into it on each
// mutation. All outputs are rounded to two decimal places before being
// stored so redisplay never re-derives with floating drift.
package pricing

import (
	"github.com/shopspring/decimal"

	"warungpos/terminal/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// PromoDiscount returns the automatic discount for one line. Zero when the
// promo is absent or the quantity has not reached the promo's threshold. A
// percentage promo scales with the line amount; a fixed promo is a flat
// discount once the threshold is met, not a per-unit discount.
func PromoDiscount(quantity int, unitPrice decimal.Decimal, promo *domain.Promo) decimal.Decimal {
	if promo == nil || promo.MinQty <= 0 || quantity < promo.MinQty {
		return decimal.Zero
	}
	switch promo.Type {
	case domain.PromoPercentage:
		line := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
		return line.Mul(promo.Value).Div(hundred).Round(2)
	case domain.PromoFixed:
		return promo.Value.Round(2)
	default:
		// Malformed promo degrades to no promo.
		return decimal.Zero
	}
}

// ItemSubtotal derives a line's subtotal: unit price times quantity, minus
// the promo discount, minus any cart-level per-item discount.
func ItemSubtotal(item domain.CartItem) decimal.Decimal {
	line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
	sub := line.Sub(PromoDiscount(item.Quantity, item.UnitPrice, item.Promo))
	if item.Discount != nil {
		sub = sub.Sub(item.Discount.Value)
	}
	return sub.Round(2)
}

// DiscountAmount resolves the monetary amount of a cart-wide discount
// against the given subtotal. The amount is clamped to the subtotal so a
// large fixed code can never drive the taxable amount negative.
func DiscountAmount(discount *domain.CartDiscount, subtotal decimal.Decimal) decimal.Decimal {
	if discount == nil {
		return decimal.Zero
	}
	var amount decimal.Decimal
	switch discount.Type {
	case domain.PromoPercentage:
		amount = subtotal.Mul(discount.Value).Div(hundred).Round(2)
	case domain.PromoFixed:
		amount = discount.Value.Round(2)
	default:
		return decimal.Zero
	}
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	return amount
}

// Totals is the full set of derived cart scalars.
type Totals struct {
	Subtotal           decimal.Decimal
	TotalPromoDiscount decimal.Decimal
	DiscountAmount     decimal.Decimal
	TaxAmount          decimal.Decimal
	Total              decimal.Decimal
}

// CartTotals derives every cart-level scalar from the items and the single
// cart discount slot. taxRatePercent is the store's tax rate, e.g. 11 for
// 11%. Each output is rounded independently before being returned.
func CartTotals(items []domain.CartItem, discount *domain.CartDiscount, taxRatePercent decimal.Decimal) Totals {
	base := decimal.Zero
	promoTotal := decimal.Zero
	for _, item := range items {
		base = base.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		promoTotal = promoTotal.Add(PromoDiscount(item.Quantity, item.UnitPrice, item.Promo))
	}
	subtotal := base.Sub(promoTotal).Round(2)

	discountAmount := DiscountAmount(discount, subtotal)
	taxable := subtotal.Sub(discountAmount)
	taxAmount := taxable.Mul(taxRatePercent).Div(hundred).Round(2)
	total := taxable.Add(taxAmount).Round(2)

	return Totals{
		Subtotal:           subtotal,
		TotalPromoDiscount: promoTotal.Round(2),
		DiscountAmount:     discountAmount,
		TaxAmount:          taxAmount,
		Total:              total,
	}
}

// RecomputeItems returns a copy of items with PromoDiscount and Subtotal
// refreshed on every line.
func RecomputeItems(items []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, len(items))
	for i, item := range items {
		item.PromoDiscount = PromoDiscount(item.Quantity, item.UnitPrice, item.Promo)
		item.Subtotal = ItemSubtotal(item)
		out[i] = item
	}
	return out
}
