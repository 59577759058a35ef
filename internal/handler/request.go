package handler

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-verifier/internal/domain/auth"
	"github.com/xenking/coupon-verifier/internal/domain/coupon"
)

const maxBodySize = 1 << 20

// Bounds for money values. Anything outside is rejected before it reaches
// decimal arithmetic or the response encoder.
const (
	maxNumberLen = 64
	maxExponent  = 18
	maxDigits    = 30
)

// MalformedError reports a request that failed validation.
type MalformedError struct {
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	return e.Field + " " + e.Reason
}

func malformed(field, reason string) error {
	return &MalformedError{Field: field, Reason: reason}
}

// readVerifyRequest reads and validates a verification request. The result
// is fully normalized: every required field is present and every number is
// in range.
func readVerifyRequest(w http.ResponseWriter, r *http.Request, flow auth.Flow) (coupon.VerifyRequest, error) {
	code, err := couponCode(r)
	if err != nil || code == "" {
		return coupon.VerifyRequest{}, malformed("code", "must be a non-empty path segment")
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return coupon.VerifyRequest{}, malformed("body", "exceeds "+strconv.Itoa(maxBodySize)+" bytes")
		}
		return coupon.VerifyRequest{}, errors.Wrap(err, "read body")
	}

	req, err := decodeVerifyRequest(data, flow)
	if err != nil {
		return coupon.VerifyRequest{}, err
	}
	req.Code = code
	return req, nil
}

// decodeVerifyRequest decodes the JSON body of either flow. Fields that do
// not belong to the flow are ignored.
func decodeVerifyRequest(data []byte, flow auth.Flow) (coupon.VerifyRequest, error) {
	var (
		req                   coupon.VerifyRequest
		hasCustomer, hasOrder bool
		hasTrackingID         bool
	)

	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return req, malformed("body", "must be a JSON object")
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "customer":
			hasCustomer = true
			return decodeCustomer(d, &req.Customer)
		case "order":
			hasOrder = true
			return decodeOrder(d, &req.Order)
		case "trackingId":
			if flow != auth.FlowServer {
				return d.Skip()
			}
			hasTrackingID = true
			s, err := decodeString(d, "trackingId")
			req.TrackingID = s
			return err
		case "metadata":
			if flow != auth.FlowClient {
				return d.Skip()
			}
			return decodeMetadata(d, "metadata", &req.Metadata)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return req, asMalformed(err)
	}

	switch {
	case !hasCustomer:
		return req, malformed("customer", "is required")
	case !hasOrder:
		return req, malformed("order", "is required")
	case flow == auth.FlowServer && !hasTrackingID:
		return req, malformed("trackingId", "is required")
	case flow == auth.FlowServer && req.TrackingID == "":
		return req, malformed("trackingId", "must not be empty")
	}
	return req, nil
}

func asMalformed(err error) error {
	var me *MalformedError
	if errors.As(err, &me) {
		return me
	}
	return malformed("body", "is not valid JSON")
}

func decodeCustomer(d *jx.Decoder, c *coupon.Customer) error {
	if d.Next() != jx.Object {
		return malformed("customer", "must be an object")
	}
	hasID := false
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			hasID = true
			s, err := decodeString(d, "customer.id")
			c.ID = s
			return err
		case "metadata":
			return decodeMetadata(d, "customer.metadata", &c.Metadata)
		default:
			return d.Skip()
		}
	}); err != nil {
		return err
	}
	if !hasID {
		return malformed("customer.id", "is required")
	}
	return nil
}

func decodeOrder(d *jx.Decoder, o *coupon.Order) error {
	if d.Next() != jx.Object {
		return malformed("order", "must be an object")
	}
	var hasID, hasAmount, hasItems bool
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			hasID = true
			o.ID, err = decodeString(d, "order.id")
		case "amount":
			hasAmount = true
			o.Amount, err = decodeNonNegative(d, "order.amount")
		case "items":
			hasItems = true
			o.Items, err = decodeItems(d)
		case "metadata":
			err = decodeMetadata(d, "order.metadata", &o.Metadata)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return err
	}
	switch {
	case !hasID:
		return malformed("order.id", "is required")
	case !hasAmount:
		return malformed("order.amount", "is required")
	case !hasItems:
		return malformed("order.items", "is required")
	}
	return nil
}

// decodeItems accepts an array of items or a single item object.
func decodeItems(d *jx.Decoder) ([]coupon.Item, error) {
	switch d.Next() {
	case jx.Object:
		it, err := decodeItem(d, "order.items[0]")
		if err != nil {
			return nil, err
		}
		return []coupon.Item{it}, nil
	case jx.Array:
		items := []coupon.Item{}
		err := d.Arr(func(d *jx.Decoder) error {
			it, err := decodeItem(d, "order.items["+strconv.Itoa(len(items))+"]")
			if err != nil {
				return err
			}
			items = append(items, it)
			return nil
		})
		return items, err
	default:
		return nil, malformed("order.items", "must be an array")
	}
}

func decodeItem(d *jx.Decoder, field string) (coupon.Item, error) {
	var it coupon.Item
	if d.Next() != jx.Object {
		return it, malformed(field, "must be an object")
	}
	var hasProduct, hasPrice, hasQuantity bool
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			hasProduct = true
			it.ProductID, err = decodeString(d, field+".productId")
		case "price":
			hasPrice = true
			it.Price, err = decodeNonNegative(d, field+".price")
		case "quantity":
			hasQuantity = true
			it.Quantity, err = decodeQuantity(d, field+".quantity")
		case "metadata":
			err = decodeMetadata(d, field+".metadata", &it.Metadata)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return it, err
	}
	switch {
	case !hasProduct:
		return it, malformed(field+".productId", "is required")
	case !hasPrice:
		return it, malformed(field+".price", "is required")
	case !hasQuantity:
		return it, malformed(field+".quantity", "is required")
	}
	return it, nil
}

// couponCode returns the unescaped {code} segment. chi routes on RawPath
// when it is set and on the already decoded Path otherwise, so the param is
// unescaped only in the first case.
func couponCode(r *http.Request) (string, error) {
	code := chi.URLParam(r, "code")
	if r.URL.RawPath == "" {
		return code, nil
	}
	return url.PathUnescape(code)
}

func decodeString(d *jx.Decoder, field string) (string, error) {
	if d.Next() != jx.String {
		return "", malformed(field, "must be a string")
	}
	return d.Str()
}

// decodeNumber accepts a JSON number or a string holding one.
func decodeNumber(d *jx.Decoder, field string) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = strings.TrimSpace(s)
	default:
		return decimal.Zero, malformed(field, "must be a number")
	}
	if len(raw) > maxNumberLen {
		return decimal.Zero, malformed(field, "is out of range")
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, malformed(field, "must be a number")
	}
	if exp := v.Exponent(); exp > maxExponent || exp < -maxExponent || v.NumDigits() > maxDigits {
		return decimal.Zero, malformed(field, "is out of range")
	}
	return v, nil
}

func decodeNonNegative(d *jx.Decoder, field string) (decimal.Decimal, error) {
	v, err := decodeNumber(d, field)
	if err != nil {
		return v, err
	}
	if v.IsNegative() {
		return v, malformed(field, "must not be less than 0")
	}
	return v, nil
}

func decodeQuantity(d *jx.Decoder, field string) (int, error) {
	v, err := decodeNumber(d, field)
	if err != nil {
		return 0, err
	}
	if !v.IsInteger() || !v.IsPositive() {
		return 0, malformed(field, "must be an integer not less than 1")
	}
	if v.GreaterThan(decimal.NewFromInt32(1<<31 - 1)) {
		return 0, malformed(field, "is too large")
	}
	return int(v.IntPart()), nil
}

// decodeMetadata accepts an object; null is treated as absent.
func decodeMetadata(d *jx.Decoder, field string, m *coupon.Metadata) error {
	switch d.Next() {
	case jx.Null:
		return d.Null()
	case jx.Object:
		return m.Decode(d)
	default:
		return malformed(field, "must be an object")
	}
}
