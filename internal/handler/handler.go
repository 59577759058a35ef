// Package handler implements the HTTP transport of the coupon verification
// API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/coupon-verifier/internal/domain/auth"
	"github.com/xenking/coupon-verifier/internal/domain/coupon"
	"github.com/xenking/coupon-verifier/pkg/httpmiddleware"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeUnknownCouponCode = "ERR_UNKNOWN_COUPON_CODE"
	CodeMalformedRequest  = "ERR_MALFORMED_REQUEST"
	CodeUnauthorized      = "ERR_UNAUTHORIZED"
	CodeInternal          = "ERR_INTERNAL"
)

// Verifier verifies a coupon for an already authenticated application.
type Verifier interface {
	Verify(ctx context.Context, applicationID string, req coupon.VerifyRequest) (*coupon.Result, error)
}

// Authenticator resolves the application of a request.
type Authenticator interface {
	Authenticate(ctx context.Context, name, secret string, flow auth.Flow) (*auth.Application, error)
}

// Handler serves the server and client verification endpoints.
type Handler struct {
	verifier Verifier
	auth     Authenticator
	metrics  *metrics
}

// NewHandler creates a Handler. Verification counters are registered on mp.
func NewHandler(v Verifier, a Authenticator, mp metric.MeterProvider) (*Handler, error) {
	m, err := newMetrics(mp)
	if err != nil {
		return nil, errors.Wrap(err, "metrics")
	}
	return &Handler{verifier: v, auth: a, metrics: m}, nil
}

// Mount registers the verification routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.With(h.authenticate(auth.FlowServer)).
		Post("/v1/coupons/{code}/validate", h.verify(auth.FlowServer))
	r.With(h.authenticate(auth.FlowClient)).
		Post("/client/v1/coupons/{code}/validate", h.verify(auth.FlowClient))
}

func (h *Handler) verify(flow auth.Flow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		app, ok := auth.ApplicationFromContext(ctx)
		if !ok {
			h.metrics.record(ctx, flow, outcomeUnauthorized, "")
			httpmiddleware.WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
			return
		}

		req, err := readVerifyRequest(w, r, flow)
		if err != nil {
			var me *MalformedError
			if !errors.As(err, &me) {
				me = &MalformedError{Field: "body", Reason: "could not be read"}
			}
			h.metrics.record(ctx, flow, outcomeMalformed, "")
			httpmiddleware.WriteError(w, http.StatusBadRequest, CodeMalformedRequest, me.Error())
			return
		}

		res, err := h.verifier.Verify(ctx, app.ID, req)
		switch {
		case errors.Is(err, coupon.ErrUnknownCouponCode):
			h.metrics.record(ctx, flow, outcomeUnknownCode, "")
			httpmiddleware.WriteError(w, http.StatusBadRequest, CodeUnknownCouponCode, "unknown coupon code")
			return
		case err != nil:
			zctx.From(ctx).Error("Verify coupon",
				zap.String("app", app.Name),
				zap.String("code", req.Code),
				zap.Error(err),
			)
			h.metrics.record(ctx, flow, outcomeError, "")
			httpmiddleware.WriteError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
			return
		}

		h.metrics.record(ctx, flow, outcomeValid, res.DiscountType)
		httpmiddleware.AnnotateRequest(ctx, zap.String("tracking_id", res.TrackingID))

		var e jx.Encoder
		encodeResult(&e, res)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(e.Bytes())
	}
}
