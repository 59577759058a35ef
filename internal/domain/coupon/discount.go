package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType names a discount variant as stored and reported on the wire.
type DiscountType string

const (
	// DiscountPercent subtracts a percentage of the order amount.
	DiscountPercent DiscountType = "Percent"
	// DiscountAmount subtracts a fixed amount, capped at the order amount.
	DiscountAmount DiscountType = "Amount"
	// DiscountEffectPercent records a percentage for downstream accounting
	// without changing the order total.
	DiscountEffectPercent DiscountType = "EffectPercent"
	// DiscountEffectAmount records an amount for downstream accounting
	// without changing the order total.
	DiscountEffectAmount DiscountType = "EffectAmount"
)

// DiscountTypes lists every supported discount type.
var DiscountTypes = []DiscountType{
	DiscountPercent,
	DiscountAmount,
	DiscountEffectPercent,
	DiscountEffectAmount,
}

var hundred = decimal.NewFromInt(100)

// Discount is one of Percent, Amount, EffectPercent or EffectAmount. The set
// is closed: apply is unexported, so a new variant has to be added in this
// package together with its rule.
type Discount interface {
	Type() DiscountType
	apply(amount, granularity decimal.Decimal) Outcome
}

// Outcome is the result of applying a discount to an order amount.
// PercentOff and AmountOff are nil when the variant does not report them.
type Outcome struct {
	DiscountAmount decimal.Decimal
	PercentOff     *decimal.Decimal
	AmountOff      *decimal.Decimal
}

// Percent deducts Off percent of the order amount, floored to the
// calculator granularity.
type Percent struct{ Off decimal.Decimal }

// Amount deducts Off, never more than the order amount.
type Amount struct{ Off decimal.Decimal }

// EffectPercent is valid and tracked but deducts nothing.
type EffectPercent struct{ Off decimal.Decimal }

// EffectAmount is valid and tracked but deducts nothing.
type EffectAmount struct{ Off decimal.Decimal }

func (Percent) Type() DiscountType       { return DiscountPercent }
func (Amount) Type() DiscountType        { return DiscountAmount }
func (EffectPercent) Type() DiscountType { return DiscountEffectPercent }
func (EffectAmount) Type() DiscountType  { return DiscountEffectAmount }

func (d Percent) apply(amount, granularity decimal.Decimal) Outcome {
	raw := amount.Mul(d.Off).Div(hundred)
	off := d.Off
	return Outcome{
		DiscountAmount: raw.Div(granularity).Floor().Mul(granularity),
		PercentOff:     &off,
	}
}

func (d Amount) apply(amount, _ decimal.Decimal) Outcome {
	off := d.Off
	return Outcome{
		DiscountAmount: decimal.Min(d.Off, amount),
		AmountOff:      &off,
	}
}

func (EffectPercent) apply(_, _ decimal.Decimal) Outcome {
	return effectOutcome()
}

func (EffectAmount) apply(_, _ decimal.Decimal) Outcome {
	return effectOutcome()
}

// effectOutcome reports amountOff 0 for both effect variants; the configured
// value is for downstream effect accounting only.
func effectOutcome() Outcome {
	zero := decimal.Zero
	return Outcome{
		DiscountAmount: decimal.Zero,
		AmountOff:      &zero,
	}
}

// NewDiscount builds the discount variant for a stored coupon row.
// Only the value relevant to the type is used.
func NewDiscount(t DiscountType, percentOff, amountOff decimal.Decimal) (Discount, error) {
	if percentOff.IsNegative() || amountOff.IsNegative() {
		return nil, errors.Errorf("negative discount value for %q", t)
	}
	switch t {
	case DiscountPercent:
		return Percent{Off: percentOff}, nil
	case DiscountAmount:
		return Amount{Off: amountOff}, nil
	case DiscountEffectPercent:
		return EffectPercent{Off: percentOff}, nil
	case DiscountEffectAmount:
		return EffectAmount{Off: amountOff}, nil
	default:
		return nil, errors.Errorf("unsupported discount type: %q", t)
	}
}

// Values returns the percentOff and amountOff columns for d, the inverse of
// NewDiscount. It panics on a variant declared outside this package.
func Values(d Discount) (percentOff, amountOff decimal.Decimal) {
	switch v := d.(type) {
	case Percent:
		return v.Off, decimal.Zero
	case Amount:
		return decimal.Zero, v.Off
	case EffectPercent:
		return v.Off, decimal.Zero
	case EffectAmount:
		return decimal.Zero, v.Off
	}
	panic(errors.Errorf("unknown discount variant %T", d))
}

// Calculation holds the discount for an order and the resulting totals.
type Calculation struct {
	Outcome
	TotalAmount         decimal.Decimal
	TotalDiscountAmount decimal.Decimal
}

// Calculator applies coupon discounts to orders.
type Calculator struct {
	granularity decimal.Decimal
}

// NewCalculator returns a Calculator that floors percentage discounts to a
// multiple of granularity minor units. Values below 1 are treated as 1.
func NewCalculator(granularity int64) *Calculator {
	if granularity < 1 {
		granularity = 1
	}
	return &Calculator{granularity: decimal.NewFromInt(granularity)}
}

// Compute returns the discount c grants on o. The discount is clamped to
// [0, o.Amount] so totals are never negative, and
// TotalAmount + TotalDiscountAmount always equals o.Amount.
func (c *Calculator) Compute(cp *Coupon, o Order) Calculation {
	amount := o.Amount
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	out := cp.Discount.apply(amount, c.granularity)
	discount := out.DiscountAmount
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(amount) {
		discount = amount
	}
	out.DiscountAmount = discount

	return Calculation{
		Outcome:             out,
		TotalAmount:         amount.Sub(discount),
		TotalDiscountAmount: discount,
	}
}
