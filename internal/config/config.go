package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName          = "Ledgerd"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultAccessTokenTTL   = 24 * time.Hour
	defaultBalanceCacheTTL  = 30 * time.Second
	defaultTransferLimit    = 5
	defaultTransferWindow   = time.Minute
	defaultLoginLimit       = 5
	defaultDBMaxConns       = 10
	defaultRedisPoolSize    = 20
	defaultConnectAttempts  = 5
	defaultQueueBackend     = QueueBackendRedis
	defaultQueueName        = "transfer_events"
	defaultQueueVisibility  = 30 * time.Second
	defaultConsumerWait     = 5 * time.Second
	defaultConsumerBackoff  = 5 * time.Second
	defaultPublishMode      = PublishBeforeCommit
	defaultAWSRegion        = "us-east-1"
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
	idemTTLSecondsEnvVar    = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar        = "IDEMPOTENCY_TTL"
	balanceTTLSecondsEnvVar = "BALANCE_CACHE_TTL_SECONDS"
	balanceTTLDurEnvVar     = "BALANCE_CACHE_TTL"
)

// Queue backends.
const (
	QueueBackendSQS   = "sqs"
	QueueBackendRedis = "redis"
)

// Transfer publish modes. See wallet.PublishMode.
const (
	PublishBeforeCommit = "before_commit"
	PublishAfterCommit  = "after_commit"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	DBMaxConns    int
	RedisPoolSize int
	// ConnectAttempts bounds startup pings to Postgres and Redis.
	ConnectAttempts int

	JWTSecret      string
	AccessTokenTTL time.Duration
	LoginLimit     int

	BalanceCacheTTL time.Duration
	TransferLimit   int
	TransferWindow  time.Duration
	PublishMode     string

	QueueBackend    string
	QueueName       string
	QueueVisibility time.Duration
	ConsumerWait    time.Duration
	ConsumerBackoff time.Duration

	AWSRegion          string
	AWSEndpoint        string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	SQSQueueURL        string
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is honoured when present;
// variables already set in the environment win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		AppEnv:             getEnv("APP_ENV", defaultAppEnv),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		DBMaxConns:         defaultDBMaxConns,
		RedisPoolSize:      defaultRedisPoolSize,
		ConnectAttempts:    defaultConnectAttempts,
		ShutdownPeriod:     defaultShutdownDelay,
		IdempotencyTTL:     defaultIdempotencyTTL,
		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenTTL:     defaultAccessTokenTTL,
		LoginLimit:         defaultLoginLimit,
		BalanceCacheTTL:    defaultBalanceCacheTTL,
		TransferLimit:      defaultTransferLimit,
		TransferWindow:     defaultTransferWindow,
		PublishMode:        strings.ToLower(getEnv("TRANSFER_PUBLISH_MODE", defaultPublishMode)),
		QueueBackend:       strings.ToLower(getEnv("QUEUE_BACKEND", defaultQueueBackend)),
		QueueName:          getEnv("QUEUE_NAME", defaultQueueName),
		QueueVisibility:    defaultQueueVisibility,
		ConsumerWait:       defaultConsumerWait,
		ConsumerBackoff:    defaultConsumerBackoff,
		AWSRegion:          getEnv("AWS_REGION", defaultAWSRegion),
		AWSEndpoint:        os.Getenv("AWS_ENDPOINT"),
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SQSQueueURL:        os.Getenv("SQS_QUEUE_URL"),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.BalanceCacheTTL, err = durationEnv(balanceTTLSecondsEnvVar, balanceTTLDurEnvVar, cfg.BalanceCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.AccessTokenTTL, err = durationEnv("ACCESS_TOKEN_TTL_SECONDS", "ACCESS_TOKEN_TTL", cfg.AccessTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.TransferWindow, err = durationEnv("TRANSFER_WINDOW_SECONDS", "TRANSFER_WINDOW", cfg.TransferWindow); err != nil {
		return Config{}, err
	}
	if cfg.QueueVisibility, err = durationEnv("QUEUE_VISIBILITY_SECONDS", "QUEUE_VISIBILITY", cfg.QueueVisibility); err != nil {
		return Config{}, err
	}
	if cfg.ConsumerWait, err = durationEnv("CONSUMER_WAIT_SECONDS", "CONSUMER_WAIT", cfg.ConsumerWait); err != nil {
		return Config{}, err
	}
	if cfg.ConsumerBackoff, err = durationEnv("CONSUMER_BACKOFF_SECONDS", "CONSUMER_BACKOFF", cfg.ConsumerBackoff); err != nil {
		return Config{}, err
	}
	if cfg.TransferLimit, err = intEnv("TRANSFER_LIMIT", cfg.TransferLimit); err != nil {
		return Config{}, err
	}
	if cfg.LoginLimit, err = intEnv("LOGIN_LIMIT", cfg.LoginLimit); err != nil {
		return Config{}, err
	}
	if cfg.DBMaxConns, err = intEnv("DB_MAX_CONNS", cfg.DBMaxConns); err != nil {
		return Config{}, err
	}
	if cfg.RedisPoolSize, err = intEnv("REDIS_POOL_SIZE", cfg.RedisPoolSize); err != nil {
		return Config{}, err
	}
	if cfg.ConnectAttempts, err = intEnv("CONNECT_ATTEMPTS", cfg.ConnectAttempts); err != nil {
		return Config{}, err
	}

	if cfg.DatabaseURL == "" && !cfg.IsDev() {
		return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
	}

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}

	switch cfg.QueueBackend {
	case QueueBackendRedis:
	case QueueBackendSQS:
		if cfg.SQSQueueURL == "" {
			return Config{}, fmt.Errorf("SQS_QUEUE_URL must be set when QUEUE_BACKEND=%s", QueueBackendSQS)
		}
	default:
		return Config{}, fmt.Errorf("invalid QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	switch cfg.PublishMode {
	case PublishBeforeCommit, PublishAfterCommit:
	default:
		return Config{}, fmt.Errorf("invalid TRANSFER_PUBLISH_MODE %q", cfg.PublishMode)
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the app runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv reads a duration from either a whole-seconds variable or a Go
// duration string variable, preferring the seconds form.
func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}
