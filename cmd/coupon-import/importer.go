package main

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/coupon-verifier/internal/domain/coupon"
)

const (
	maxLineSize   = 1 << 20
	progressEvery = 100_000
)

type couponStore interface {
	Exists(ctx context.Context, applicationID, code string) (bool, error)
	Upsert(ctx context.Context, applicationID string, c *coupon.Coupon) error
}

type importStats struct {
	written int64
	skipped int64
	checked int64
}

// importer writes coupons of one application. When known is set, existing
// coupons are skipped: a code the filter has never seen is new for sure,
// a filter hit is confirmed against the store. Written codes are added to
// the filter, so a code repeated later in the run is skipped as well.
type importer struct {
	store         couponStore
	applicationID string

	knownMu sync.Mutex
	known   *bloom.BloomFilter

	written atomic.Int64
	skipped atomic.Int64
	checked atomic.Int64
}

func (im *importer) importFiles(ctx context.Context, files []string, workers int) (importStats, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, f := range files {
		g.Go(func() error {
			return im.importFile(ctx, f)
		})
	}
	if err := g.Wait(); err != nil {
		return importStats{}, err
	}
	return importStats{
		written: im.written.Load(),
		skipped: im.skipped.Load(),
		checked: im.checked.Load(),
	}, nil
}

func (im *importer) importFile(ctx context.Context, path string) error {
	var lines int
	err := streamGzFile(ctx, path, func(line []byte) error {
		lines++
		c, err := parseCouponLine(line)
		if err != nil {
			return errors.Wrapf(err, "line %d", lines)
		}
		if err := im.put(ctx, c); err != nil {
			return err
		}
		if lines%progressEvery == 0 {
			slog.Info("import progress", slog.String("file", path), slog.Int("lines", lines))
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "import %s", path)
	}
	slog.Info("file imported", slog.String("file", path), slog.Int("lines", lines))
	return nil
}

func (im *importer) put(ctx context.Context, c *coupon.Coupon) error {
	if im.mayExist(c.Code) {
		im.checked.Add(1)
		exists, err := im.store.Exists(ctx, im.applicationID, c.Code)
		if err != nil {
			return err
		}
		if exists {
			im.skipped.Add(1)
			return nil
		}
	}
	if err := im.store.Upsert(ctx, im.applicationID, c); err != nil {
		return err
	}
	im.written.Add(1)
	im.remember(c.Code)
	return nil
}

func (im *importer) mayExist(code string) bool {
	if im.known == nil {
		return false
	}
	im.knownMu.Lock()
	defer im.knownMu.Unlock()
	return im.known.TestString(code)
}

func (im *importer) remember(code string) {
	if im.known == nil {
		return
	}
	im.knownMu.Lock()
	defer im.knownMu.Unlock()
	im.known.AddString(code)
}

// streamGzFile calls fn for every non-blank line of a gzip-compressed file.
func streamGzFile(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// parseCouponLine decodes one NDJSON record:
//
//	{"code":"X","active":true,"discountType":"Percent","percentOff":25,"product":"p","metadata":{}}
//
// active defaults to true; numbers may be given as strings.
func parseCouponLine(line []byte) (*coupon.Coupon, error) {
	var (
		c            = coupon.Coupon{Active: true}
		discountType string
		percentOff   = decimal.Zero
		amountOff    = decimal.Zero
	)
	err := jx.DecodeBytes(line).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			c.Code, err = d.Str()
		case "active":
			c.Active, err = d.Bool()
		case "discountType":
			discountType, err = d.Str()
		case "percentOff":
			percentOff, err = decodeDecimal(d)
		case "amountOff":
			amountOff, err = decodeDecimal(d)
		case "product":
			c.Product, err = d.Str()
		case "metadata":
			err = c.Metadata.Decode(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode coupon")
	}
	if c.Code == "" {
		return nil, errors.New("code is required")
	}

	disc, err := coupon.NewDiscount(coupon.DiscountType(discountType), percentOff, amountOff)
	if err != nil {
		return nil, errors.Wrapf(err, "coupon %q", c.Code)
	}
	c.Discount = disc
	return &c, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	}
}
