package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	GatewayModeSandbox = "sandbox"
	GatewayModeHTTP    = "http"
)

// Configはアプリ全体の設定
type Config struct {
	Port  string // サーバーポート（8080）
	GoEnv string // dev/prod
	FEURL string // フロントURL（CORS）

	DatabaseURL      string // あれば最優先
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     int
	PostgresSSLMode  string

	JWTSecret string        // JWT署名シークレット
	JWTTTL    time.Duration // アクセストークンの有効期限

	Gateway GatewayConfig
	Kafka   KafkaConfig
	Outbox  OutboxConfig
	// PENDINGのまま止まった決済試行の検出
	Checkout CheckoutConfig
}

type GatewayConfig struct {
	Mode       string
	BaseURL    string
	MerchantID string
	PublicKey  string
	PrivateKey string
	Timeout    time.Duration
}

type KafkaConfig struct {
	Brokers             []string // 空ならログ出力だけ
	OrderEventsTopic    string
	ReconciliationTopic string
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

type CheckoutConfig struct {
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

// Loadは環境変数から読む。.envの読み込みはmain側。
func Load() (Config, error) {
	pgPort, err := intEnv("POSTGRES_PORT", 5432)
	if err != nil {
		return Config{}, err
	}
	jwtTTL, err := durationEnv("JWT_TTL", 24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	gwTimeout, err := durationEnv("GATEWAY_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := durationEnv("OUTBOX_POLL_INTERVAL", time.Second)
	if err != nil {
		return Config{}, err
	}
	batchSize, err := intEnv("OUTBOX_BATCH_SIZE", 50)
	if err != nil {
		return Config{}, err
	}
	staleAfter, err := durationEnv("CHECKOUT_STALE_AFTER", 15*time.Minute)
	if err != nil {
		return Config{}, err
	}
	sweepInterval, err := durationEnv("CHECKOUT_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:  getenv("PORT", "8080"),
		GoEnv: getenv("GO_ENV", "dev"),
		FEURL: os.Getenv("FE_URL"),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PostgresUser:     getenv("POSTGRES_USER", "postgres"),
		PostgresPassword: getenv("POSTGRES_PASSWORD", "postgres"),
		PostgresDB:       getenv("POSTGRES_DB", "storefront"),
		PostgresHost:     getenv("POSTGRES_HOST", "localhost"),
		PostgresPort:     pgPort,
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTTTL:    jwtTTL,

		Gateway: GatewayConfig{
			Mode:       strings.ToLower(getenv("GATEWAY_MODE", GatewayModeSandbox)),
			BaseURL:    os.Getenv("GATEWAY_BASE_URL"),
			MerchantID: os.Getenv("GATEWAY_MERCHANT_ID"),
			PublicKey:  os.Getenv("GATEWAY_PUBLIC_KEY"),
			PrivateKey: os.Getenv("GATEWAY_PRIVATE_KEY"),
			Timeout:    gwTimeout,
		},
		Kafka: KafkaConfig{
			Brokers:             splitList(os.Getenv("KAFKA_BROKERS")),
			OrderEventsTopic:    getenv("KAFKA_ORDER_EVENTS_TOPIC", "order_events"),
			ReconciliationTopic: getenv("KAFKA_RECONCILIATION_TOPIC", "payment_reconciliation"),
		},
		Outbox: OutboxConfig{
			PollInterval: pollInterval,
			BatchSize:    batchSize,
		},
		Checkout: CheckoutConfig{
			StaleAfter:    staleAfter,
			SweepInterval: sweepInterval,
		},
	}

	//必須チェック
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	switch cfg.Gateway.Mode {
	case GatewayModeSandbox:
	case GatewayModeHTTP:
		if cfg.Gateway.BaseURL == "" {
			return Config{}, fmt.Errorf("GATEWAY_BASE_URL is required when GATEWAY_MODE=http")
		}
		if cfg.Gateway.MerchantID == "" || cfg.Gateway.PublicKey == "" || cfg.Gateway.PrivateKey == "" {
			return Config{}, fmt.Errorf("GATEWAY_MERCHANT_ID, GATEWAY_PUBLIC_KEY and GATEWAY_PRIVATE_KEY are required when GATEWAY_MODE=http")
		}
	default:
		return Config{}, fmt.Errorf("GATEWAY_MODE must be %q or %q", GatewayModeSandbox, GatewayModeHTTP)
	}
	if cfg.Outbox.BatchSize <= 0 {
		return Config{}, fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}
	// 決済中の試行を滞留扱いしない
	if cfg.Checkout.StaleAfter <= cfg.Gateway.Timeout {
		return Config{}, fmt.Errorf("CHECKOUT_STALE_AFTER must be longer than GATEWAY_TIMEOUT")
	}

	return cfg, nil
}

// DSN。DATABASE_URLがあればそのまま
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode,
	)
}

func (c Config) IsDev() bool {
	return c.GoEnv == "dev"
}

func getenv(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be duration: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
