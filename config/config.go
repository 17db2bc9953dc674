package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	OrderTTL time.Duration `mapstructure:"order_ttl"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // json, console
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// DeliveryConfig 配送费分档（上界含等号，单位 km）
type DeliveryConfig struct {
	Currency string          `mapstructure:"currency"`
	TierAMax float64         `mapstructure:"tier_a_max_km"`
	TierBMax float64         `mapstructure:"tier_b_max_km"`
	TierCMax float64         `mapstructure:"tier_c_max_km"`
	TierAFee decimal.Decimal `mapstructure:"tier_a_fee"`
	TierBFee decimal.Decimal `mapstructure:"tier_b_fee"`
	TierCFee decimal.Decimal `mapstructure:"tier_c_fee"`
	TierDFee decimal.Decimal `mapstructure:"tier_d_fee"`
}

// PaymentConfig 支付凭证校验相关参数
type PaymentConfig struct {
	VerifierURL           string        `mapstructure:"verifier_url"`
	VerifierAPIKey        string        `mapstructure:"verifier_api_key"`
	VerifierModel         string        `mapstructure:"verifier_model"`
	VerifierTimeout       time.Duration `mapstructure:"verifier_timeout"`
	AutoApproveConfidence float64       `mapstructure:"auto_approve_confidence"`
	ManualReviewFloor     float64       `mapstructure:"manual_review_floor"`
	RecencyWindow         time.Duration `mapstructure:"recency_window"`
	ReceiptStorageDays    int           `mapstructure:"receipt_storage_days"`
	DefaultCountryCode    string        `mapstructure:"default_country_code"`
	Timezone              string        `mapstructure:"timezone"`
	AsyncVerification     bool          `mapstructure:"async_verification"`
	Workers               int           `mapstructure:"workers"`
	QueueSize             int           `mapstructure:"queue_size"`
	MaxReceiptBytes       int64         `mapstructure:"max_receipt_bytes"`
	StaleVerifyingAfter   time.Duration `mapstructure:"stale_verifying_after"` // VERIFYING 超过该时长可由卖家重新触发
}

type StorageConfig struct {
	ReceiptDir string `mapstructure:"receipt_dir"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	ClaimLease   time.Duration `mapstructure:"claim_lease"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.order_ttl", 10*time.Minute)

	v.SetDefault("jwt.issuer", "marketplace")
	v.SetDefault("jwt.ttl", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")

	v.SetDefault("tracing.service_name", "marketplace")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("rate_limit.rps", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("delivery.currency", "CRC")
	v.SetDefault("delivery.tier_a_max_km", 5)
	v.SetDefault("delivery.tier_b_max_km", 15)
	v.SetDefault("delivery.tier_c_max_km", 30)
	v.SetDefault("delivery.tier_a_fee", "1500.00")
	v.SetDefault("delivery.tier_b_fee", "3000.00")
	v.SetDefault("delivery.tier_c_fee", "5000.00")
	v.SetDefault("delivery.tier_d_fee", "7500.00")

	v.SetDefault("payment.verifier_url", "https://api.x.ai/v1")
	v.SetDefault("payment.verifier_model", "grok-vision-beta")
	v.SetDefault("payment.verifier_timeout", 30*time.Second)
	v.SetDefault("payment.auto_approve_confidence", 80)
	v.SetDefault("payment.manual_review_floor", 50)
	v.SetDefault("payment.recency_window", time.Hour)
	v.SetDefault("payment.receipt_storage_days", 7)
	v.SetDefault("payment.default_country_code", "+506")
	v.SetDefault("payment.timezone", "America/Costa_Rica")
	v.SetDefault("payment.async_verification", true)
	v.SetDefault("payment.workers", 4)
	v.SetDefault("payment.queue_size", 1024)
	v.SetDefault("payment.max_receipt_bytes", 5<<20)
	v.SetDefault("payment.stale_verifying_after", 5*time.Minute)

	v.SetDefault("storage.receipt_dir", "data/receipts")

	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.claim_lease", 5*time.Minute)
}

// Load 读取配置文件（CONFIG_PATH 可覆盖），环境变量 APP_* 优先
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	return LoadFile(path)
}

// LoadFile 从指定路径读取配置；文件不存在时只使用默认值与环境变量
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查相互依赖的配置项
func (c *Config) Validate() error {
	if c.Payment.ManualReviewFloor > c.Payment.AutoApproveConfidence {
		return fmt.Errorf("payment.manual_review_floor (%v) must not exceed payment.auto_approve_confidence (%v)",
			c.Payment.ManualReviewFloor, c.Payment.AutoApproveConfidence)
	}
	d := c.Delivery
	if !(d.TierAMax < d.TierBMax && d.TierBMax < d.TierCMax) {
		return fmt.Errorf("delivery tier bounds must be strictly increasing")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}
