package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/coupon-verifier/internal/domain/auth"
	"github.com/xenking/coupon-verifier/internal/domain/coupon"
	"github.com/xenking/coupon-verifier/internal/handler"
	"github.com/xenking/coupon-verifier/pkg/health"
	"github.com/xenking/coupon-verifier/pkg/httpmiddleware"
)

type staticAuth struct{}

func (staticAuth) Authenticate(_ context.Context, name, secret string, _ auth.Flow) (*auth.Application, error) {
	if name == "shop" && secret == "secret" {
		return &auth.Application{ID: "app-1", Name: name}, nil
	}
	return nil, auth.ErrUnauthorized
}

type unknownVerifier struct{}

func (unknownVerifier) Verify(context.Context, string, coupon.VerifyRequest) (*coupon.Result, error) {
	return nil, coupon.ErrUnknownCouponCode
}

func newTestRouter(t *testing.T, burst int) http.Handler {
	t.Helper()
	h, err := handler.NewHandler(unknownVerifier{}, staticAuth{}, noop.NewMeterProvider())
	require.NoError(t, err)

	hs := health.New()
	hs.SetReady(true)

	limiter := httpmiddleware.NewRateLimiter(httpmiddleware.RateLimitConfig{
		RPS:     0.001,
		Burst:   burst,
		KeyFunc: handler.RateLimitKey,
	})
	return newRouter(h, hs, limiter, CORSConfig{Origins: []string{"https://shop.example"}})
}

const verifyBody = `{"customer":{"id":"c"},"order":{"id":"o","amount":1,"items":[]},"trackingId":"trk"}`

func verifyRequest(app string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/coupons/WWW/validate", strings.NewReader(verifyBody))
	req.Header.Set(handler.HeaderApp, app)
	req.Header.Set(handler.HeaderAppToken, "secret")
	return req
}

func TestRouter_Probes(t *testing.T) {
	r := newTestRouter(t, 10)
	for _, path := range []string{"/livez", "/readyz"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestRouter_Verify(t *testing.T) {
	r := newTestRouter(t, 10)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, verifyRequest("shop"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), handler.CodeUnknownCouponCode)
}

func TestRouter_RateLimit(t *testing.T) {
	r := newTestRouter(t, 2)
	for range 2 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, verifyRequest("shop"))
		require.Equal(t, http.StatusBadRequest, w.Code)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, verifyRequest("shop"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "ERR_RATE_LIMITED")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, verifyRequest("other-shop"))
	assert.Equal(t, http.StatusUnauthorized, w.Code, "buckets are per application")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, w.Code, "probes are not rate limited")
}

func TestRouter_CORS(t *testing.T) {
	r := newTestRouter(t, 10)

	req := httptest.NewRequest(http.MethodOptions, "/client/v1/coupons/WWW/validate", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-Client-Application, X-Client-Token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "https://shop.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	req = httptest.NewRequest(http.MethodOptions, "/client/v1/coupons/WWW/validate", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_NotFound(t *testing.T) {
	r := newTestRouter(t, 10)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v2/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "ERR_NOT_FOUND")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/coupons/WWW/validate", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
