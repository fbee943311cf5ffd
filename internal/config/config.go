package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v9"
)

const (
	StoreDriverMySQL  = "mysql"
	StoreDriverMemory = "memory"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"mysql"`
	AppBaseURL  string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	DBUser                 string `env:"DB_USER"`
	DBPassword             string `env:"DB_PASSWORD"`
	DBHost                 string `env:"DB_HOST"` // e.g. tcp(host:3306) or unix(/cloudsql/instance)
	DBName                 string `env:"DB_NAME"`
	DBPort                 string `env:"DB_PORT" envDefault:"3306"`
	InstanceConnectionName string `env:"INSTANCE_CONNECTION_NAME"`

	FirebaseProjectID string `env:"FIREBASE_PROJECT_ID"`
	AuthDisabled      bool   `env:"AUTH_DISABLED" envDefault:"false"`
	CredentialsFile   string `env:"GOOGLE_CREDENTIALS_FILE"`

	PaymentAPIURL        string        `env:"PAYMENT_API_URL"`
	PaymentAPIKey        string        `env:"PAYMENT_API_KEY"`
	PaymentCurrency      string        `env:"PAYMENT_CURRENCY" envDefault:"usd"`
	PaymentWebhookSecret string        `env:"PAYMENT_WEBHOOK_SECRET"`
	SignatureTolerance   time.Duration `env:"SIGNATURE_TOLERANCE" envDefault:"300s"`
	HandoffSecret        string        `env:"HANDOFF_SECRET"`
	HandoffTTL           time.Duration `env:"HANDOFF_TTL" envDefault:"30m"`

	NotifySigningSecret string        `env:"NOTIFY_SIGNING_SECRET"`
	NotifyEndpointURL   string        `env:"NOTIFY_ENDPOINT_URL"`
	NotifyTimeout       time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`
	NotifyMaxAttempts   int           `env:"NOTIFY_MAX_ATTEMPTS" envDefault:"5"`
	NotifyWorkers       int           `env:"NOTIFY_WORKERS" envDefault:"4"`
	NotifySweepInterval time.Duration `env:"NOTIFY_SWEEP_INTERVAL" envDefault:"30s"`

	RedisAddr string        `env:"REDIS_ADDR"`
	LockTTL   time.Duration `env:"LOCK_TTL" envDefault:"30s"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"marketplace.events"`

	GCSBucket string `env:"GCS_BUCKET"`

	CORSOriginSuffixes []string `env:"CORS_ORIGIN_SUFFIXES" envSeparator:"," envDefault:"vercel.app"`

	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile       string `env:"LOG_FILE"`
	SnowflakeNode int64  `env:"SNOWFLAKE_NODE" envDefault:"1"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CardPaymentsEnabled reports whether a processor is configured.
func (c *Config) CardPaymentsEnabled() bool {
	return c.PaymentAPIURL != ""
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverMySQL:
		if c.DBUser == "" || c.DBHost == "" || c.DBName == "" {
			return errors.New("DB_USER, DB_HOST and DB_NAME are required for the mysql store")
		}
	case StoreDriverMemory:
	default:
		return errors.New("STORE_DRIVER must be mysql or memory")
	}
	if c.CardPaymentsEnabled() {
		if c.PaymentWebhookSecret == "" {
			return errors.New("PAYMENT_WEBHOOK_SECRET is required when PAYMENT_API_URL is set")
		}
		if c.HandoffSecret == "" {
			return errors.New("HANDOFF_SECRET is required when PAYMENT_API_URL is set")
		}
	}
	if c.NotifyMaxAttempts <= 0 {
		return errors.New("NOTIFY_MAX_ATTEMPTS must be positive")
	}
	if c.NotifyWorkers <= 0 {
		c.NotifyWorkers = 1
	}
	return nil
}
