package coupon

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrUnknownCouponCode is returned when a coupon code does not exist for the
// application, is inactive, or does not apply to any product in the order.
// The three causes are deliberately indistinguishable to the caller.
var ErrUnknownCouponCode = errors.New("unknown coupon code")

// Coupon is a tenant-owned coupon record. It is read-only to the engine.
type Coupon struct {
	Code     string
	Active   bool
	Discount Discount
	// Product restricts the coupon to orders containing this product ID.
	// Empty means the coupon applies to any order.
	Product  string
	Metadata Metadata
}

// Item is a single order line.
type Item struct {
	ProductID string
	Price     decimal.Decimal
	Quantity  int
	Metadata  Metadata
}

// Order is the order the coupon is verified against. It is supplied per
// request and never persisted.
type Order struct {
	ID       string
	Amount   decimal.Decimal
	Items    []Item
	Metadata Metadata
}

// Contains reports whether any line of the order is for productID.
func (o Order) Contains(productID string) bool {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

// Customer identifies who the order is placed for.
type Customer struct {
	ID       string
	Metadata Metadata
}

// Repository resolves coupons within a tenant's scope.
type Repository interface {
	// FindActive returns the active coupon with the given code owned by the
	// application. Missing and inactive coupons both yield
	// ErrUnknownCouponCode.
	FindActive(ctx context.Context, applicationID, code string) (*Coupon, error)
}
