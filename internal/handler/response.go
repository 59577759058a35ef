package handler

import (
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-verifier/internal/domain/coupon"
)

// encodeResult writes {"data": result}. percentOff and amountOff are only
// present when the discount type reports them. The order is echoed with its
// computed totals; absent metadata stays absent.
func encodeResult(e *jx.Encoder, res *coupon.Result) {
	e.ObjStart()
	e.FieldStart("data")
	e.ObjStart()

	e.FieldStart("code")
	e.Str(res.Code)
	e.FieldStart("discountType")
	e.Str(string(res.DiscountType))
	if res.PercentOff != nil {
		e.FieldStart("percentOff")
		encodeDecimal(e, *res.PercentOff)
	}
	if res.AmountOff != nil {
		e.FieldStart("amountOff")
		encodeDecimal(e, *res.AmountOff)
	}
	e.FieldStart("metadata")
	res.Metadata.Encode(e)
	e.FieldStart("trackingId")
	e.Str(res.TrackingID)
	e.FieldStart("valid")
	e.Bool(res.Valid)
	e.FieldStart("order")
	encodeOrder(e, res.Order)

	e.ObjEnd()
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o coupon.OrderResult) {
	e.ObjStart()
	e.FieldStart("totalAmount")
	encodeDecimal(e, o.TotalAmount)
	e.FieldStart("totalDiscountAmount")
	encodeDecimal(e, o.TotalDiscountAmount)
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("amount")
	encodeDecimal(e, o.Amount)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("price")
		encodeDecimal(e, it.Price)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		if it.Metadata != nil {
			e.FieldStart("metadata")
			it.Metadata.Encode(e)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	if o.Metadata != nil {
		e.FieldStart("metadata")
		o.Metadata.Encode(e)
	}
	e.ObjEnd()
}

// encodeDecimal writes v as a JSON number.
func encodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Raw([]byte(v.String()))
}
