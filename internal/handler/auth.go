package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/coupon-verifier/internal/domain/auth"
	"github.com/xenking/coupon-verifier/pkg/httpmiddleware"
)

// Credential headers of the two flows.
const (
	HeaderApp               = "X-App"
	HeaderAppToken          = "X-App-Token"
	HeaderClientApplication = "X-Client-Application"
	HeaderClientToken       = "X-Client-Token"
)

func credentialHeaders(flow auth.Flow) (name, token string) {
	if flow == auth.FlowClient {
		return HeaderClientApplication, HeaderClientToken
	}
	return HeaderApp, HeaderAppToken
}

// authenticate resolves the application from the flow's credential headers
// before the body is read and stores it in the request context.
func (h *Handler) authenticate(flow auth.Flow) func(http.Handler) http.Handler {
	nameHeader, tokenHeader := credentialHeaders(flow)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			name := r.Header.Get(nameHeader)

			app, err := h.auth.Authenticate(ctx, name, r.Header.Get(tokenHeader), flow)
			switch {
			case errors.Is(err, auth.ErrUnauthorized):
				h.metrics.record(ctx, flow, outcomeUnauthorized, "")
				httpmiddleware.WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
				return
			case err != nil:
				zctx.From(ctx).Error("Authenticate", zap.String("app", name), zap.Error(err))
				h.metrics.record(ctx, flow, outcomeError, "")
				httpmiddleware.WriteError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
				return
			}

			httpmiddleware.AnnotateRequest(ctx, zap.String("app", app.Name), zap.Stringer("flow", flow))
			next.ServeHTTP(w, r.WithContext(auth.WithApplication(ctx, app)))
		})
	}
}

// RateLimitKey buckets requests by the claimed application name and the
// client address. The name is unauthenticated at this point, hence the
// address.
func RateLimitKey(r *http.Request) string {
	name := r.Header.Get(HeaderApp)
	if name == "" {
		name = r.Header.Get(HeaderClientApplication)
	}
	return name + "|" + httpmiddleware.ClientIP(r)
}
