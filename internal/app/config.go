package app

import (
	"os"
	"strconv"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (COUPON_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (COUPON_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	KeyPepper   string `usage:"HMAC pepper for stored application keys" flag:"key-pepper"`
	Postgres    PostgresConfig
	Discount    DiscountConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// PostgresConfig tunes the connection pool.
type PostgresConfig struct {
	MaxConns int32 `default:"0" usage:"Maximum pool connections, 0 keeps the pgxpool default"`
	MinConns int32 `default:"0" usage:"Minimum idle pool connections"`
}

// DiscountConfig controls discount computation.
type DiscountConfig struct {
	Granularity int64 `default:"100" usage:"Percent discounts are floored to a multiple of this many minor units"`
}

// RedisConfig configures the coupon cache. The cache is disabled when Addr
// is empty.
type RedisConfig struct {
	Addr     string        `default:"" usage:"Redis address host:port (or REDIS_URL)"`
	Password string        `default:"" usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database number"`
	TTL      time.Duration `default:"30s" usage:"Cached coupon lifetime"`
}

// RateLimitConfig controls the per-application token bucket.
type RateLimitConfig struct {
	RPS   float64 `default:"50" usage:"Sustained requests per second per application and client"`
	Burst int     `default:"100" usage:"Token bucket size"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files and flags, then applies platform defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(false)
}

func loadConfig(skipFlags bool) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "COUPON",
		SkipFlags: skipFlags,
		Files:     []string{"config.yaml", "/etc/coupon/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := cfg.applyPlatformDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the unprefixed variables set by hosting
// platforms (DATABASE_URL, PORT, REDIS_URL) onto empty settings.
func (c *Config) applyPlatformDefaults() error {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	if u := os.Getenv("REDIS_URL"); u != "" && c.Redis.Addr == "" {
		opt, err := redis.ParseURL(u)
		if err != nil {
			return errors.Wrap(err, "parse REDIS_URL")
		}
		c.Redis.Addr = opt.Addr
		c.Redis.Password = opt.Password
		c.Redis.DB = opt.DB
	}
	return nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set COUPON_DATABASE_URL or DATABASE_URL")
	case c.KeyPepper == "":
		return errors.New("key pepper is required: set COUPON_KEY_PEPPER")
	case c.Discount.Granularity < 1:
		return errors.Errorf("discount granularity must be positive, got %d", c.Discount.Granularity)
	case c.RateLimit.RPS <= 0:
		return errors.Errorf("rate limit must be positive, got %s", strconv.FormatFloat(c.RateLimit.RPS, 'f', -1, 64))
	}
	return nil
}
