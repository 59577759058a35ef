package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"

	"github.com/xenking/coupon-verifier/internal/repository"
)

const bloomFPR = 0.001

type importConfig struct {
	dataDir      string
	databaseURL  string
	appName      string
	skipExisting bool
	workers      int
	expected     uint
}

func main() {
	var cfg importConfig

	flag.StringVar(&cfg.dataDir, "data-dir", "data", "directory containing *.ndjson.gz coupon files")
	flag.StringVar(&cfg.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&cfg.appName, "app", "", "name of the application that owns the coupons")
	flag.BoolVar(&cfg.skipExisting, "skip-existing", false, "leave coupons that already exist untouched")
	flag.IntVar(&cfg.workers, "workers", runtime.GOMAXPROCS(0), "files imported concurrently")
	flag.UintVar(&cfg.expected, "expected-codes", 1_000_000, "expected number of codes, sizes the bloom filter")
	flag.Parse()

	if cfg.databaseURL == "" {
		cfg.databaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if cfg.appName == "" {
		slog.Error("application is required: set --app")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, cfg importConfig) error {
	files, err := filepath.Glob(filepath.Join(cfg.dataDir, "*.ndjson.gz"))
	if err != nil {
		return errors.Wrap(err, "list files")
	}
	if len(files) == 0 {
		slog.Info("no files to import", slog.String("dir", cfg.dataDir))
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, cfg.databaseURL, repository.PoolConfig{MaxConns: int32(max(cfg.workers, 1) + 1)})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	app, err := repository.NewApplicationRepository(pool).FindByName(ctx, cfg.appName)
	if err != nil {
		return errors.Wrapf(err, "find application %q", cfg.appName)
	}
	coupons := repository.NewCouponRepository(pool)

	var known *bloom.BloomFilter
	if cfg.skipExisting {
		slog.Info("loading existing codes", slog.String("app", app.Name))
		known = bloom.NewWithEstimates(max(cfg.expected, 1), bloomFPR)
		var n int
		if err := coupons.ForEachCode(ctx, app.ID, func(code string) {
			known.AddString(code)
			n++
		}); err != nil {
			return errors.Wrap(err, "load existing codes")
		}
		slog.Info("existing codes loaded", slog.Int("count", n))
	}

	im := &importer{
		store:         coupons,
		applicationID: app.ID,
		known:         known,
	}
	stats, err := im.importFiles(ctx, files, cfg.workers)
	if err != nil {
		return err
	}

	slog.Info("import finished",
		slog.Int("files", len(files)),
		slog.Int64("written", stats.written),
		slog.Int64("skipped", stats.skipped),
		slog.Int64("existence_checks", stats.checked),
	)
	return nil
}
