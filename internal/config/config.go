package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "STOREFRONT_"

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		Env      string `koanf:"env"`
		HTTPAddr string `koanf:"http_addr"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout    time.Duration `koanf:"read_timeout"`
		WriteTimeout   time.Duration `koanf:"write_timeout"`
		IdleTimeout    time.Duration `koanf:"idle_timeout"`
		RequestTimeout time.Duration `koanf:"request_timeout"`
	} `koanf:"http"`

	Backend struct {
		BaseURL            string        `koanf:"base_url"`
		Timeout            time.Duration `koanf:"timeout"`
		BreakerMaxRequests uint32        `koanf:"breaker_max_requests"`
		BreakerInterval    time.Duration `koanf:"breaker_interval"`
		BreakerTimeout     time.Duration `koanf:"breaker_timeout"`
		BreakerFailures    uint32        `koanf:"breaker_failures"`
	} `koanf:"backend"`

	Redis struct {
		Addr     string        `koanf:"addr"`
		Password string        `koanf:"password"`
		DB       int           `koanf:"db"`
		GuestTTL time.Duration `koanf:"guest_ttl"`
		GuardTTL time.Duration `koanf:"guard_ttl"`
	} `koanf:"redis"`

	Mongo struct {
		URI      string `koanf:"uri"`
		Database string `koanf:"database"`
	} `koanf:"mongo"`

	Postgres struct {
		Host           string `koanf:"host"`
		Port           int    `koanf:"port"`
		User           string `koanf:"user"`
		Password       string `koanf:"password"`
		DBName         string `koanf:"dbname"`
		SSLMode        string `koanf:"sslmode"`
		MigrationsPath string `koanf:"migrations_path"`
	} `koanf:"postgres"`

	Kafka struct {
		Brokers      []string `koanf:"brokers"`
		PaymentTopic string   `koanf:"payment_topic"`
		OrderTopic   string   `koanf:"order_topic"`
		Group        string   `koanf:"group"`
	} `koanf:"kafka"`

	Auth struct {
		JWTSecret string `koanf:"jwt_secret"`
		Issuer    string `koanf:"issuer"`
	} `koanf:"auth"`

	Payment struct {
		PollInterval    time.Duration `koanf:"poll_interval"`
		PollMaxInterval time.Duration `koanf:"poll_max_interval"`
		PollAttempts    int           `koanf:"poll_attempts"`
		MemoPrefix      string        `koanf:"memo_prefix"`
		QRTimeout       time.Duration `koanf:"qr_timeout"`
		WebhookSecret   string        `koanf:"webhook_secret"`
		BankQR          QRSources     `koanf:"bank_qr"`
		WalletQR        QRSources     `koanf:"wallet_qr"`
	} `koanf:"payment"`

	Checkout struct {
		DefaultShippingFee int64         `koanf:"default_shipping_fee"`
		SessionIdle        time.Duration `koanf:"session_idle"`
	} `koanf:"checkout"`
}

type QRSources struct {
	Primary  string `koanf:"primary"`
	Fallback string `koanf:"fallback"`
}

func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")
	// 1) base
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	// 2) env overlay (dev/staging/prod), optional for local runs
	if envName != "" {
		_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())
	}

	// 3) environment variables, e.g. STOREFRONT_REDIS__ADDR
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if cfg.App.Env == "" {
		cfg.App.Env = envName
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.App.HTTPAddr == "" {
		errs = append(errs, errors.New("app.http_addr required"))
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret required"))
	}
	if c.Payment.PollAttempts <= 0 {
		errs = append(errs, errors.New("payment.poll_attempts must be positive"))
	}
	if c.Checkout.DefaultShippingFee < 0 {
		errs = append(errs, errors.New("checkout.default_shipping_fee must not be negative"))
	}
	return errors.Join(errs...)
}
