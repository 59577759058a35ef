// Package app wires the coupon verification service together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/coupon-verifier/internal/cache"
	"github.com/xenking/coupon-verifier/internal/domain/auth"
	"github.com/xenking/coupon-verifier/internal/domain/coupon"
	"github.com/xenking/coupon-verifier/internal/handler"
	"github.com/xenking/coupon-verifier/internal/repository"
	"github.com/xenking/coupon-verifier/pkg/health"
	"github.com/xenking/coupon-verifier/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxConns: cfg.Postgres.MaxConns,
		MinConns: cfg.Postgres.MinConns,
	})
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	var coupons coupon.Repository = repository.NewCouponRepository(pool)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		healthSvc.Add(health.Readiness, "redis", 2*time.Second, health.RedisCheck(rdb))
		coupons = cache.NewCouponCache(coupons, cache.NewRedisStore(rdb), cfg.Redis.TTL)
		lg.Info("Coupon cache enabled",
			zap.String("redis", cfg.Redis.Addr),
			zap.Duration("ttl", cfg.Redis.TTL),
		)
	}

	verifier := coupon.NewVerifier(coupons, coupon.NewCalculator(cfg.Discount.Granularity))
	authenticator := auth.NewAuthenticator(repository.NewApplicationRepository(pool), []byte(cfg.KeyPepper))

	h, err := handler.NewHandler(verifier, authenticator, m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create handler")
	}

	limiter := httpmiddleware.NewRateLimiter(httpmiddleware.RateLimitConfig{
		RPS:     cfg.RateLimit.RPS,
		Burst:   cfg.RateLimit.Burst,
		KeyFunc: handler.RateLimitKey,
	})
	go limiter.Run(ctx)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(newRouter(h, healthSvc, limiter, cfg.CORS),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.Instrument("coupon-verifier", m.TracerProvider(), m.MeterProvider()),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newRouter mounts the probes and the rate limited verification routes.
func newRouter(h *handler.Handler, hs *health.Health, limiter *httpmiddleware.RateLimiter, cc CORSConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Labeler(),
		httpmiddleware.LogRequests(),
		cors.Handler(cors.Options{
			AllowedOrigins: cc.Origins,
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{
				"Content-Type",
				handler.HeaderApp,
				handler.HeaderAppToken,
				handler.HeaderClientApplication,
				handler.HeaderClientToken,
				httpmiddleware.HeaderRequestID,
			},
			ExposedHeaders:   []string{httpmiddleware.HeaderRequestID},
			AllowCredentials: cc.AllowCredentials,
			MaxAge:           86400,
		}),
	)

	r.Get("/livez", hs.LiveEndpoint)
	r.Get("/readyz", hs.ReadyEndpoint)
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware())
		h.Mount(r)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "ERR_NOT_FOUND", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "ERR_METHOD_NOT_ALLOWED", "method not allowed")
	})
	return r
}
