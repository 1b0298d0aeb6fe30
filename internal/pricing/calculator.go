package pricing

// Money represents a monetary value stored in minor units.
type Money = int64

// Line describes a cart line used for price calculation.
type Line struct {
	ProductID string
	UnitPrice Money
	SalePrice *Money
	Qty       int
}

// EffectivePrice returns the sale price when one exists and undercuts the
// unit price, otherwise the unit price.
func (l Line) EffectivePrice() Money {
	if l.SalePrice != nil && *l.SalePrice < l.UnitPrice {
		return *l.SalePrice
	}
	return l.UnitPrice
}

// Summary aggregates the computed pricing components. It is always replaced
// wholesale, never mutated field by field.
type Summary struct {
	Subtotal   Money `json:"subtotal"`
	Tax        Money `json:"taxAmount"`
	Shipping   Money `json:"shippingFee"`
	Discount   Money `json:"discountAmount"`
	GrandTotal Money `json:"grandTotal"`
}

// Calculator computes order totals from cart lines. It carries no state and
// is safe to call on every cart change.
type Calculator struct {
	TaxRateBps            int
	FreeShippingThreshold Money
	FlatShippingFee       Money
}

// Subtotal sums effective price times quantity over all lines. Lines with a
// non-positive quantity are skipped.
func (c Calculator) Subtotal(lines []Line) Money {
	var subtotal Money
	for _, l := range lines {
		if l.Qty <= 0 {
			continue
		}
		subtotal += l.EffectivePrice() * Money(l.Qty)
	}
	return subtotal
}

// ShippingFee returns the flat fee, or zero once the subtotal exceeds the
// free-shipping threshold. An empty cart ships nothing and pays nothing.
func (c Calculator) ShippingFee(subtotal Money) Money {
	if subtotal <= 0 {
		return 0
	}
	if subtotal > c.FreeShippingThreshold {
		return 0
	}
	return c.FlatShippingFee
}

// Compute calculates the full summary for the given lines and an already
// resolved discount amount. Tax is charged on the undiscounted subtotal and
// rounded half-up to the nearest currency unit. The grand total clamps at
// zero so a payable amount is never negative.
func (c Calculator) Compute(lines []Line, discount Money) Summary {
	subtotal := c.Subtotal(lines)
	if subtotal == 0 {
		return Summary{}
	}
	tax := roundHalfUpBps(subtotal, c.TaxRateBps)
	shipping := c.ShippingFee(subtotal)
	if discount < 0 {
		discount = 0
	}
	total := subtotal + tax + shipping - discount
	if total < 0 {
		total = 0
	}
	return Summary{
		Subtotal:   subtotal,
		Tax:        tax,
		Shipping:   shipping,
		Discount:   discount,
		GrandTotal: total,
	}
}

func roundHalfUpBps(amount Money, bps int) Money {
	if bps <= 0 || amount <= 0 {
		return 0
	}
	return (amount*Money(bps) + 5000) / 10000
}
