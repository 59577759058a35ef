package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-verifier/internal/domain/coupon"
)

const (
	findActiveCouponSQL = `SELECT code, active, discount_type, percent_off, amount_off, product, metadata
		FROM coupons WHERE application_id = $1 AND code = $2 AND active = TRUE`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE application_id = $1 AND code = $2)`

	listCouponCodesSQL = `SELECT code FROM coupons WHERE application_id = $1`

	upsertCouponSQL = `INSERT INTO coupons
		(application_id, code, active, discount_type, percent_off, amount_off, product, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (application_id, code) DO UPDATE SET
			active = EXCLUDED.active,
			discount_type = EXCLUDED.discount_type,
			percent_off = EXCLUDED.percent_off,
			amount_off = EXCLUDED.amount_off,
			product = EXCLUDED.product,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindActive looks up an active coupon by exact code within the
// application. Returns coupon.ErrUnknownCouponCode when no active coupon
// matches.
func (r *CouponRepository) FindActive(ctx context.Context, applicationID, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, findActiveCouponSQL, applicationID, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrUnknownCouponCode
		}
		return nil, fmt.Errorf("finding coupon %q: %w", code, err)
	}
	return &c, nil
}

// Exists reports whether the application has a coupon with the code,
// active or not.
func (r *CouponRepository) Exists(ctx context.Context, applicationID, code string) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, couponExistsSQL, applicationID, code).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking coupon %q: %w", code, err)
	}
	return ok, nil
}

// ForEachCode calls fn with every coupon code of the application.
func (r *CouponRepository) ForEachCode(ctx context.Context, applicationID string, fn func(code string)) error {
	rows, err := r.pool.Query(ctx, listCouponCodesSQL, applicationID)
	if err != nil {
		return fmt.Errorf("listing coupon codes: %w", err)
	}
	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error {
		fn(code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing coupon codes: %w", err)
	}
	return nil
}

// Upsert inserts the coupon or replaces the stored one with the same code.
func (r *CouponRepository) Upsert(ctx context.Context, applicationID string, c *coupon.Coupon) error {
	percentOff, amountOff := coupon.Values(c.Discount)
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		applicationID, c.Code, c.Active, string(c.Discount.Type()),
		percentOff, amountOff, c.Product, coupon.EncodeMetadata(c.Metadata),
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		percentOff   decimal.Decimal
		amountOff    decimal.Decimal
		metadata     []byte
	)
	if err := row.Scan(
		&c.Code, &c.Active, &discountType, &percentOff, &amountOff, &c.Product, &metadata,
	); err != nil {
		return c, err
	}

	disc, err := coupon.NewDiscount(coupon.DiscountType(discountType), percentOff, amountOff)
	if err != nil {
		return c, errors.Wrapf(err, "coupon %q", c.Code)
	}
	c.Discount = disc

	md, err := coupon.DecodeMetadata(metadata)
	if err != nil {
		return c, errors.Wrapf(err, "coupon %q", c.Code)
	}
	c.Metadata = md
	return c, nil
}
