package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rumbosoft/rumbo/pkg/db"
)

// Config holds process configuration. It is loaded once at startup and
// injected; components never read the environment themselves.
type Config struct {
	AppName     string
	AppVersion  string
	Mode        string
	Environment string
	HTTPAddr    string

	DefaultTenantID int64

	OTLPEndpoint string

	Cloud CloudConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// VaultKey is the mandate vault key material: either 64 hex chars
	// (a raw 256-bit key) or a passphrase the vault derives a key from.
	VaultKey string

	Artifact  ArtifactConfig
	Bank      BankConfig
	Payments  PaymentsConfig
	RateLimit RateLimitConfig

	RunMigrations bool
}

type CloudConfig struct {
	OrganizationID   string
	OrganizationName string
	Metrics          CloudMetricsConfig
}

type CloudMetricsConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
}

type ArtifactConfig struct {
	Backend  string // "local" or "s3"
	LocalDir string
	S3Bucket string
	S3Prefix string
	S3Region string
}

// BankConfig identifies us to the direct debit channel. CompanyCode is the
// presenter code assigned by the bank and lands in every file header.
type BankConfig struct {
	CompanyCode string
	FileVersion string
}

type PaymentsConfig struct {
	DefaultProvider string

	MercadoPagoBaseURL     string
	MercadoPagoAccessToken string
	MercadoPagoWebhookKey  string
}

// RateLimitConfig throttles mandate submissions. Rates are tokens per
// second; bursts are bucket capacities.
type RateLimitConfig struct {
	Enabled            bool
	MandateTenantRate  float64
	MandateTenantBurst int
	MandateIPRate      float64
	MandateIPBurst     int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	mode := normalizeMode(getenv("APP_MODE", ModeOSS))
	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:         getenv("APP_SERVICE", "rumbo"),
		AppVersion:      getenv("APP_VERSION", "0.1.0"),
		Mode:            mode,
		Environment:     environment,
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		DefaultTenantID: getenvInt64("DEFAULT_TENANT", 0),
		OTLPEndpoint:    getenv("OTLP_ENDPOINT", "localhost:4317"),
		Cloud: CloudConfig{
			OrganizationID:   strings.TrimSpace(getenv("CLOUD_ORGANIZATION_ID", "")),
			OrganizationName: getenv("CLOUD_ORGANIZATION_NAME", ""),
			Metrics: CloudMetricsConfig{
				Enabled:   getenvBool("CLOUD_METRICS_ENABLED", true),
				Exporter:  strings.ToLower(getenv("CLOUD_METRICS_EXPORTER", "")),
				Endpoint:  strings.TrimSpace(getenv("CLOUD_METRICS_ENDPOINT", "")),
				AuthToken: strings.TrimSpace(getenv("CLOUD_METRICS_AUTH_TOKEN", "")),
			},
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "rumbo"),
		DBUser:            getenv("DATABASE_USER", "rumbo"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 25)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME_MIN", 30)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_MIN", 5)),
		RedisAddr:         getenv("REDIS_ADDR", ""),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           int(getenvInt64("REDIS_DB", 0)),
		VaultKey:          strings.TrimSpace(getenv("BILLING_VAULT_KEY", "")),
		Artifact: ArtifactConfig{
			Backend:  strings.ToLower(getenv("ARTIFACT_BACKEND", "local")),
			LocalDir: getenv("ARTIFACT_LOCAL_DIR", "/var/lib/rumbo/artifacts"),
			S3Bucket: getenv("ARTIFACT_S3_BUCKET", ""),
			S3Prefix: getenv("ARTIFACT_S3_PREFIX", "bank-batches"),
			S3Region: getenv("ARTIFACT_S3_REGION", ""),
		},
		Bank: BankConfig{
			CompanyCode: getenv("BANK_COMPANY_CODE", "RUMBO"),
			FileVersion: getenv("BANK_FILE_VERSION", "01"),
		},
		Payments: PaymentsConfig{
			DefaultProvider:        strings.ToLower(getenv("PAYMENTS_DEFAULT_PROVIDER", "mercadopago")),
			MercadoPagoBaseURL:     getenv("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com"),
			MercadoPagoAccessToken: strings.TrimSpace(getenv("MERCADOPAGO_ACCESS_TOKEN", "")),
			MercadoPagoWebhookKey:  strings.TrimSpace(getenv("MERCADOPAGO_WEBHOOK_KEY", "")),
		},
		RateLimit: RateLimitConfig{
			Enabled:            getenvBool("RATELIMIT_ENABLED", false),
			MandateTenantRate:  getenvFloat("RATELIMIT_MANDATE_TENANT_RATE", 1),
			MandateTenantBurst: int(getenvInt64("RATELIMIT_MANDATE_TENANT_BURST", 5)),
			MandateIPRate:      getenvFloat("RATELIMIT_MANDATE_IP_RATE", 0.5),
			MandateIPBurst:     int(getenvInt64("RATELIMIT_MANDATE_IP_BURST", 10)),
		},
		RunMigrations: getenvBool("RUN_MIGRATIONS", true),
	}

	return cfg
}

// DB shapes the flat DB fields into the pool config pkg/db consumes.
func (c Config) DB() db.Config {
	return db.Config{
		Type:            c.DBType,
		Host:            c.DBHost,
		Port:            c.DBPort,
		Name:            c.DBName,
		User:            c.DBUser,
		Password:        c.DBPassword,
		SSLMode:         c.DBSSLMode,
		MaxIdleConns:    c.DBMaxIdleConn,
		MaxOpenConns:    c.DBMaxOpenConn,
		ConnMaxLifetime: time.Duration(c.DBConnMaxLifetime) * time.Minute,
		ConnMaxIdleTime: time.Duration(c.DBConnMaxIdleTime) * time.Minute,
	}
}

const (
	ModeOSS        = "oss"
	ModeCloud      = "cloud"
	ModeStandalone = "standalone"
)

func (c Config) IsCloud() bool {
	return c.Mode == ModeCloud
}

func normalizeMode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case ModeCloud:
		return ModeCloud
	case ModeStandalone, ModeOSS:
		return ModeOSS
	default:
		return ModeOSS
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
