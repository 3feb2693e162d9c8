package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	Service  ServiceConfig
	DB       DBConfig
	Redis    RedisConfig
	SumUp    SumUpConfig
	Payments PaymentsConfig
	GCP      GCPConfig
	PubSub   PubSubConfig
	Outbox   OutboxConfig
	Flags    FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SHOWBILL_APP_ENV" required:"true"`
	Port         string `envconfig:"SHOWBILL_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SHOWBILL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SHOWBILL_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SHOWBILL_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SHOWBILL_DB_DSN"`
	Driver string `envconfig:"SHOWBILL_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHOWBILL_DB_HOST"`
	LegacyPort     int    `envconfig:"SHOWBILL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHOWBILL_DB_USER"`
	LegacyPassword string `envconfig:"SHOWBILL_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHOWBILL_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHOWBILL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHOWBILL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOWBILL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOWBILL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHOWBILL_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOWBILL_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SHOWBILL_REDIS_ADDR"`
	Password     string        `envconfig:"SHOWBILL_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOWBILL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOWBILL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOWBILL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOWBILL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOWBILL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOWBILL_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// SumUpConfig carries the OAuth client credentials and endpoints for the
// card-payment processor.
type SumUpConfig struct {
	ClientID     string        `envconfig:"SHOWBILL_SUMUP_CLIENT_ID"`
	ClientSecret string        `envconfig:"SHOWBILL_SUMUP_CLIENT_SECRET"`
	APIBaseURL   string        `envconfig:"SHOWBILL_SUMUP_API_BASE_URL" default:"https://api.sumup.com"`
	AuthBaseURL  string        `envconfig:"SHOWBILL_SUMUP_AUTH_BASE_URL" default:"https://api.sumup.com"`
	RedirectURL  string        `envconfig:"SHOWBILL_SUMUP_REDIRECT_URL"`
	ReturnURL    string        `envconfig:"SHOWBILL_SUMUP_RETURN_URL"`
	Scopes       string        `envconfig:"SHOWBILL_SUMUP_SCOPES" default:"payments user.profile_readonly"`
	HTTPTimeout  time.Duration `envconfig:"SHOWBILL_SUMUP_HTTP_TIMEOUT" default:"15s"`
}

// Validate reports whether the processor credentials are complete. Checkout
// creation is refused entirely when they are not.
func (s SumUpConfig) Validate() error {
	if strings.TrimSpace(s.ClientID) == "" {
		return fmt.Errorf("%s is required", EnvSumUpClientID)
	}
	if strings.TrimSpace(s.ClientSecret) == "" {
		return fmt.Errorf("%s is required", EnvSumUpClientSecret)
	}
	return nil
}

// PaymentsConfig holds the settlement policy knobs.
type PaymentsConfig struct {
	FeeRate              float64       `envconfig:"SHOWBILL_PAYMENTS_FEE_RATE" default:"0.05"`
	Currency             string        `envconfig:"SHOWBILL_PAYMENTS_CURRENCY" default:"GBP"`
	PlatformMerchantCode string        `envconfig:"SHOWBILL_PAYMENTS_PLATFORM_MERCHANT_CODE"`
	TokenSkew            time.Duration `envconfig:"SHOWBILL_PAYMENTS_TOKEN_SKEW" default:"30s"`
	StateNonceTTL        time.Duration `envconfig:"SHOWBILL_PAYMENTS_STATE_NONCE_TTL" default:"15m"`
	PollInterval         time.Duration `envconfig:"SHOWBILL_PAYMENTS_POLL_INTERVAL" default:"1m"`
	PollGrace            time.Duration `envconfig:"SHOWBILL_PAYMENTS_POLL_GRACE" default:"2m"`
	MaxPollDuration      time.Duration `envconfig:"SHOWBILL_PAYMENTS_MAX_POLL_DURATION" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SHOWBILL_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"SHOWBILL_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SHOWBILL_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"SHOWBILL_PUBSUB_DOMAIN_TOPIC" required:"true"`
	DomainSubscription string `envconfig:"SHOWBILL_PUBSUB_DOMAIN_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SHOWBILL_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SHOWBILL_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SHOWBILL_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SHOWBILL_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
