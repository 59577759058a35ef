package handler

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/coupon-verifier/internal/domain/auth"
	"github.com/xenking/coupon-verifier/internal/domain/coupon"
)

const (
	outcomeValid        = "valid"
	outcomeUnknownCode  = "unknown_code"
	outcomeMalformed    = "malformed"
	outcomeUnauthorized = "unauthorized"
	outcomeError        = "error"
)

type metrics struct {
	verifications metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter("github.com/xenking/coupon-verifier/internal/handler")
	verifications, err := meter.Int64Counter("coupon.verifications",
		metric.WithDescription("Coupon verification requests by flow and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	return &metrics{verifications: verifications}, nil
}

func (m *metrics) record(ctx context.Context, flow auth.Flow, outcome string, dt coupon.DiscountType) {
	attrs := []attribute.KeyValue{
		attribute.String("flow", flow.String()),
		attribute.String("outcome", outcome),
	}
	if dt != "" {
		attrs = append(attrs, attribute.String("discount_type", string(dt)))
	}
	m.verifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}
