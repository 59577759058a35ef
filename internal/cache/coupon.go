// Package cache provides a Redis read-through cache for coupon lookups.
package cache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/coupon-verifier/internal/domain/coupon"
)

// errMiss is returned by a Store when the key is absent.
var errMiss = errors.New("cache miss")

// Store is the subset of a key-value cache used by CouponCache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisStore adapts a go-redis client to Store.
type RedisStore struct {
	rdb redis.Cmdable
}

// NewRedisStore wraps rdb.
func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Get returns the value stored at key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errMiss
	}
	return b, err
}

// Set stores value at key with the given expiration.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

var _ coupon.Repository = (*CouponCache)(nil)

// CouponCache serves active coupons from a Store and falls back to the
// wrapped repository. Only hits are cached, so a coupon created after a miss
// is visible immediately; an update or deactivation becomes visible within
// the TTL.
type CouponCache struct {
	next  coupon.Repository
	store Store
	ttl   time.Duration
}

// NewCouponCache wraps next with a cache entry lifetime of ttl.
func NewCouponCache(next coupon.Repository, store Store, ttl time.Duration) *CouponCache {
	return &CouponCache{next: next, store: store, ttl: ttl}
}

func cacheKey(applicationID, code string) string {
	return "coupon:" + applicationID + ":" + code
}

// FindActive returns the cached coupon or loads it from the wrapped
// repository. Cache errors are logged and never fail the lookup.
func (c *CouponCache) FindActive(ctx context.Context, applicationID, code string) (*coupon.Coupon, error) {
	key := cacheKey(applicationID, code)
	lg := zctx.From(ctx)

	data, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		cp, err := decodeCoupon(data)
		if err == nil {
			return cp, nil
		}
		lg.Warn("Decode cached coupon", zap.String("key", key), zap.Error(err))
	case !errors.Is(err, errMiss):
		lg.Warn("Read coupon cache", zap.String("key", key), zap.Error(err))
	}

	cp, err := c.next.FindActive(ctx, applicationID, code)
	if err != nil {
		return nil, err
	}

	if err := c.store.Set(ctx, key, encodeCoupon(cp), c.ttl); err != nil {
		lg.Warn("Write coupon cache", zap.String("key", key), zap.Error(err))
	}
	return cp, nil
}

func encodeCoupon(c *coupon.Coupon) []byte {
	percentOff, amountOff := coupon.Values(c.Discount)

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("active")
	e.Bool(c.Active)
	e.FieldStart("discountType")
	e.Str(string(c.Discount.Type()))
	e.FieldStart("percentOff")
	e.Str(percentOff.String())
	e.FieldStart("amountOff")
	e.Str(amountOff.String())
	e.FieldStart("product")
	e.Str(c.Product)
	e.FieldStart("metadata")
	c.Metadata.Encode(&e)
	e.ObjEnd()
	return e.Bytes()
}

func decodeCoupon(data []byte) (*coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		percentOff   = decimal.Zero
		amountOff    = decimal.Zero
	)
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			c.Code, err = d.Str()
		case "active":
			c.Active, err = d.Bool()
		case "discountType":
			discountType, err = d.Str()
		case "percentOff":
			percentOff, err = decodeDecimalStr(d)
		case "amountOff":
			amountOff, err = decodeDecimalStr(d)
		case "product":
			c.Product, err = d.Str()
		case "metadata":
			err = c.Metadata.Decode(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode coupon")
	}

	disc, err := coupon.NewDiscount(coupon.DiscountType(discountType), percentOff, amountOff)
	if err != nil {
		return nil, err
	}
	c.Discount = disc
	return &c, nil
}

func decodeDecimalStr(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := d.Str()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}
