package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-verifier/internal/domain/auth"
	"github.com/xenking/coupon-verifier/internal/domain/coupon"
	"github.com/xenking/coupon-verifier/internal/repository"
)

type seedConfig struct {
	databaseURL string
	appName     string
	serverKey   string
	clientKey   string
	pepper      string
	product     string
}

func main() {
	var cfg seedConfig

	flag.StringVar(&cfg.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&cfg.appName, "app", "demo", "application name")
	flag.StringVar(&cfg.serverKey, "server-key", "", "server secret key (or COUPON_SEED_SERVER_KEY env)")
	flag.StringVar(&cfg.clientKey, "client-key", "", "client secret key (or COUPON_SEED_CLIENT_KEY env)")
	flag.StringVar(&cfg.pepper, "key-pepper", "", "HMAC pepper for key hashing (or COUPON_KEY_PEPPER env)")
	flag.StringVar(&cfg.product, "product", "incorporation", "product the demo coupons are scoped to")
	flag.Parse()

	envDefault(&cfg.databaseURL, "DATABASE_URL")
	envDefault(&cfg.serverKey, "COUPON_SEED_SERVER_KEY")
	envDefault(&cfg.clientKey, "COUPON_SEED_CLIENT_KEY")
	envDefault(&cfg.pepper, "COUPON_KEY_PEPPER")

	switch {
	case cfg.databaseURL == "":
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	case cfg.serverKey == "" || cfg.clientKey == "":
		slog.Error("server and client keys are required: set --server-key and --client-key")
		os.Exit(1)
	case cfg.pepper == "":
		slog.Error("key pepper is required: set --key-pepper or COUPON_KEY_PEPPER")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func envDefault(v *string, key string) {
	if *v == "" {
		*v = os.Getenv(key)
	}
}

func run(ctx context.Context, cfg seedConfig) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, cfg.databaseURL, repository.PoolConfig{})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	apps := repository.NewApplicationRepository(pool)
	app, err := seedApplication(ctx, apps, cfg)
	if err != nil {
		return errors.Wrap(err, "seed application")
	}

	coupons := repository.NewCouponRepository(pool)
	for _, c := range demoCoupons(cfg.product) {
		if err := coupons.Upsert(ctx, app.ID, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}
		slog.Info("upserted coupon",
			slog.String("code", c.Code),
			slog.String("discount_type", string(c.Discount.Type())),
		)
	}

	return nil
}

// seedApplication creates the application or replaces the keys of an
// existing one with the same name.
func seedApplication(ctx context.Context, apps *repository.ApplicationRepository, cfg seedConfig) (*auth.Application, error) {
	pepper := []byte(cfg.pepper)
	app := &auth.Application{
		ID:              uuid.NewString(),
		Name:            cfg.appName,
		ServerKeyHashes: []string{auth.HashKey(pepper, cfg.serverKey)},
		ClientKeyHashes: []string{auth.HashKey(pepper, cfg.clientKey)},
	}

	existing, err := apps.FindByName(ctx, cfg.appName)
	switch {
	case err == nil:
		app.ID = existing.ID
	case !errors.Is(err, auth.ErrApplicationNotFound):
		return nil, err
	}

	if err := apps.Upsert(ctx, app); err != nil {
		return nil, err
	}

	slog.Info("upserted application", slog.String("id", app.ID), slog.String("name", app.Name))
	return app, nil
}

// demoCoupons returns one coupon of each discount type.
func demoCoupons(product string) []*coupon.Coupon {
	n := decimal.NewFromInt
	return []*coupon.Coupon{
		{Code: "Percent25", Active: true, Discount: coupon.Percent{Off: n(25)}, Product: product},
		{Code: "Percent50", Active: true, Discount: coupon.Percent{Off: n(50)}, Product: product},
		{Code: "Amount100", Active: true, Discount: coupon.Amount{Off: n(10000)}, Product: product},
		{Code: "EffectAmount100", Active: true, Discount: coupon.EffectAmount{Off: n(10000)}, Product: product},
		{Code: "EffectPercent50", Active: true, Discount: coupon.EffectPercent{Off: n(50)}, Product: product},
	}
}
