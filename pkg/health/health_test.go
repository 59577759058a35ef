package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

type body struct {
	Status string
	Checks map[string]string
}

func call(t *testing.T, endpoint http.HandlerFunc) (int, body) {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var b body
	err := jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			b.Status = s
			return err
		case "checks":
			b.Checks = map[string]string{}
			return d.Obj(func(d *jx.Decoder, name string) error {
				s, err := d.Str()
				b.Checks[name] = s
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return w.Code, b
}

func lastCheck(h *Health) *check {
	return h.checks[len(h.checks)-1]
}

func runN(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	t.Run("NoChecks", func(t *testing.T) {
		code, b := call(t, New().LiveEndpoint)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", b.Status)
	})
	t.Run("BelowThreshold", func(t *testing.T) {
		h := New()
		h.Add(Liveness, "flaky", time.Second, failing("temporary"))
		runN(lastCheck(h), failureThreshold-1)

		code, _ := call(t, h.LiveEndpoint)
		assert.Equal(t, http.StatusOK, code)
	})
	t.Run("Failing", func(t *testing.T) {
		h := New()
		h.Add(Liveness, "goroutines", time.Second, failing("too many"))
		runN(lastCheck(h), failureThreshold)

		code, b := call(t, h.LiveEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", b.Status)
		assert.Equal(t, map[string]string{"goroutines": "too many"}, b.Checks)
	})
	t.Run("IgnoresReadiness", func(t *testing.T) {
		h := New()
		h.Add(Readiness, "postgres", time.Second, failing("down"))
		runN(lastCheck(h), failureThreshold)

		code, _ := call(t, h.LiveEndpoint)
		assert.Equal(t, http.StatusOK, code)
	})
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("NotMarkedReady", func(t *testing.T) {
		h := New()
		h.Add(Readiness, "postgres", time.Second, passing)

		code, b := call(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, b.Checks, "_readiness")
	})
	t.Run("Ready", func(t *testing.T) {
		h := New()
		h.Add(Readiness, "postgres", time.Second, passing)
		h.SetReady(true)

		code, b := call(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", b.Status)
	})
	t.Run("OneFailing", func(t *testing.T) {
		h := New()
		h.Add(Readiness, "postgres", time.Second, passing)
		h.Add(Readiness, "redis", time.Second, failing("connection refused"))
		h.SetReady(true)
		runN(lastCheck(h), failureThreshold)

		code, b := call(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, map[string]string{"redis": "connection refused"}, b.Checks)
	})
	t.Run("Draining", func(t *testing.T) {
		h := New()
		h.SetReady(true)
		h.SetReady(false)

		code, _ := call(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})
}

func TestIsReady(t *testing.T) {
	h := New()
	h.Add(Readiness, "postgres", time.Second, passing)
	assert.False(t, h.IsReady())

	h.SetReady(true)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestCheck_Recovers(t *testing.T) {
	down := true
	h := New()
	h.Add(Readiness, "postgres", time.Second, func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	})
	c := lastCheck(h)

	runN(c, failureThreshold)
	assert.False(t, c.healthy.Load())

	down = false
	runN(c, successThreshold)
	assert.True(t, c.healthy.Load())
}

func TestCheck_Timeout(t *testing.T) {
	h := New()
	h.Add(Readiness, "slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c := lastCheck(h)
	runN(c, failureThreshold)

	assert.False(t, c.healthy.Load())
	assert.Equal(t, context.DeadlineExceeded.Error(), c.failure())
}

func TestStartStop(t *testing.T) {
	h := New()
	h.Add(Liveness, "a", time.Second, failing("err"))
	h.Add(Readiness, "b", time.Second, passing)
	h.SetReady(true)

	h.Start(context.Background(), 5*time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				call(t, h.LiveEndpoint)
				call(t, h.ReadyEndpoint)
			}
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		code, _ := call(t, h.LiveEndpoint)
		return code == http.StatusServiceUnavailable
	}, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPingCheck(t *testing.T) {
	assert.NoError(t, PingCheck(pingerFunc(passing))(context.Background()))
	assert.EqualError(t, PingCheck(pingerFunc(failing("no route")))(context.Background()), "no route")
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	err := GoroutineCountCheck(0)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")
}
