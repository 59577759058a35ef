package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bits-and-blooms/bloom/v3"
	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/coupon-verifier/internal/domain/coupon"
)

type memStore struct {
	mu      sync.Mutex
	coupons map[string]*coupon.Coupon
	exists  int
}

func newMemStore(codes ...string) *memStore {
	s := &memStore{coupons: map[string]*coupon.Coupon{}}
	for _, code := range codes {
		s.coupons[code] = &coupon.Coupon{Code: code}
	}
	return s
}

func (s *memStore) Exists(_ context.Context, _, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exists++
	_, ok := s.coupons[code]
	return ok, nil
}

func (s *memStore) Upsert(_ context.Context, _ string, c *coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[c.Code] = c
	return nil
}

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestParseCouponLine(t *testing.T) {
	c, err := parseCouponLine([]byte(`{"code":"Percent25","discountType":"Percent","percentOff":25,"product":"incorporation","metadata":{"a":1},"extra":[1,2]}`))
	require.NoError(t, err)
	assert.Equal(t, "Percent25", c.Code)
	assert.True(t, c.Active)
	assert.Equal(t, "incorporation", c.Product)
	assert.Equal(t, coupon.DiscountPercent, c.Discount.Type())
	percentOff, _ := coupon.Values(c.Discount)
	assert.Equal(t, "25", percentOff.String())
	assert.Contains(t, c.Metadata, "a")

	c, err = parseCouponLine([]byte(`{"code":"Off","active":false,"discountType":"EffectAmount","amountOff":"100.50"}`))
	require.NoError(t, err)
	assert.False(t, c.Active)
	_, amountOff := coupon.Values(c.Discount)
	assert.Equal(t, "100.5", amountOff.String())

	for _, bad := range []string{
		`{"discountType":"Percent","percentOff":1}`,
		`{"code":"X","discountType":"Bogus"}`,
		`{"code":"X","discountType":"Amount","amountOff":-1}`,
		`not json`,
	} {
		_, err := parseCouponLine([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestImporter_Upsert(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.ndjson.gz",
			`{"code":"A1","discountType":"Percent","percentOff":10}`,
			``,
			`{"code":"A2","discountType":"Amount","amountOff":500}`,
		),
		writeGz(t, dir, "b.ndjson.gz",
			`{"code":"B1","discountType":"EffectPercent","percentOff":5}`,
		),
	}
	store := newMemStore("A1")
	im := &importer{store: store, applicationID: "app-1"}

	stats, err := im.importFiles(context.Background(), files, 2)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.written)
	assert.Zero(t, stats.skipped)
	assert.Zero(t, store.exists)
	assert.Equal(t, coupon.DiscountPercent, store.coupons["A1"].Discount.Type(), "existing coupon is replaced")
	assert.Len(t, store.coupons, 3)
}

func TestImporter_SkipExisting(t *testing.T) {
	dir := t.TempDir()
	file := writeGz(t, dir, "a.ndjson.gz",
		`{"code":"OLD","discountType":"Percent","percentOff":10}`,
		`{"code":"NEW1","discountType":"Percent","percentOff":10}`,
		`{"code":"NEW2","discountType":"Percent","percentOff":10}`,
	)
	store := newMemStore("OLD")
	known := bloom.NewWithEstimates(1000, bloomFPR)
	known.AddString("OLD")

	im := &importer{store: store, applicationID: "app-1", known: known}
	stats, err := im.importFiles(context.Background(), []string{file}, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.written)
	assert.Equal(t, int64(1), stats.skipped)
	assert.Nil(t, store.coupons["OLD"].Discount, "existing coupon left untouched")
	assert.Equal(t, int64(store.exists), stats.checked)
	assert.GreaterOrEqual(t, stats.checked, int64(1))
}

func TestImporter_SkipExistingRepeatedCode(t *testing.T) {
	dir := t.TempDir()
	first := writeGz(t, dir, "a.ndjson.gz",
		`{"code":"DUP","discountType":"Percent","percentOff":10}`,
		`{"code":"DUP","discountType":"Percent","percentOff":20}`,
	)
	second := writeGz(t, dir, "b.ndjson.gz",
		`{"code":"DUP","discountType":"Percent","percentOff":30}`,
	)
	store := newMemStore()
	im := &importer{store: store, applicationID: "app-1", known: bloom.NewWithEstimates(1000, bloomFPR)}

	stats, err := im.importFiles(context.Background(), []string{first, second}, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), stats.written)
	assert.Equal(t, int64(2), stats.skipped)
	require.Contains(t, store.coupons, "DUP")
	percentOff, _ := coupon.Values(store.coupons["DUP"].Discount)
	assert.Equal(t, "10", percentOff.String())
}

func TestImporter_BadLine(t *testing.T) {
	dir := t.TempDir()
	file := writeGz(t, dir, "a.ndjson.gz",
		`{"code":"A1","discountType":"Percent","percentOff":10}`,
		`{"code":"A2","discountType":"Unknown"}`,
	)
	im := &importer{store: newMemStore(), applicationID: "app-1"}

	_, err := im.importFiles(context.Background(), []string{file}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}
