package coupon

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// VerifyRequest is an already validated verification request.
type VerifyRequest struct {
	Code     string
	Customer Customer
	Order    Order
	// TrackingID is supplied by the server flow and used as-is. When empty
	// it is derived from the code, customer and order (client flow).
	TrackingID string
	Metadata   Metadata
}

// OrderResult is the verified order with its computed totals.
type OrderResult struct {
	Order
	TotalAmount         decimal.Decimal
	TotalDiscountAmount decimal.Decimal
}

// Result is a successful verification. Valid is always true: rejected
// coupons are reported as errors, never as invalid results.
type Result struct {
	Code         string
	DiscountType DiscountType
	PercentOff   *decimal.Decimal
	AmountOff    *decimal.Decimal
	Metadata     Metadata
	TrackingID   string
	Valid        bool
	Order        OrderResult
}

// Verifier checks a coupon against an order and computes the discount.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	coupons Repository
	calc    *Calculator
}

// NewVerifier creates a Verifier backed by the given coupon lookup.
func NewVerifier(coupons Repository, calc *Calculator) *Verifier {
	return &Verifier{coupons: coupons, calc: calc}
}

// Verify resolves the coupon within the application's scope, checks product
// eligibility, resolves the tracking id and computes the discounted totals.
//
// Unknown, inactive and product-ineligible coupons all return
// ErrUnknownCouponCode. Lookup failures are returned wrapped.
func (v *Verifier) Verify(ctx context.Context, applicationID string, req VerifyRequest) (*Result, error) {
	cp, err := v.coupons.FindActive(ctx, applicationID, req.Code)
	if err != nil {
		if errors.Is(err, ErrUnknownCouponCode) {
			return nil, ErrUnknownCouponCode
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if !cp.Active {
		return nil, ErrUnknownCouponCode
	}
	if cp.Product != "" && !req.Order.Contains(cp.Product) {
		return nil, ErrUnknownCouponCode
	}

	trackingID := req.TrackingID
	if trackingID == "" {
		trackingID = TrackingID(req.Code, req.Customer.ID, req.Order.ID)
	}

	calc := v.calc.Compute(cp, req.Order)

	return &Result{
		Code:         cp.Code,
		DiscountType: cp.Discount.Type(),
		PercentOff:   calc.PercentOff,
		AmountOff:    calc.AmountOff,
		Metadata:     cp.Metadata.Merge(req.Metadata),
		TrackingID:   trackingID,
		Valid:        true,
		Order: OrderResult{
			Order:               req.Order,
			TotalAmount:         calc.TotalAmount,
			TotalDiscountAmount: calc.TotalDiscountAmount,
		},
	}, nil
}
