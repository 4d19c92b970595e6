package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the bridge process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	Store     StoreConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Twilio    TwilioConfig
	Call      CallConfig
	Streaming StreamingConfig
}

type AppConfig struct {
	Env  string
	Port int

	// BaseURL is the public host (and optional port) the carrier reaches us on.
	// No scheme: it is used to build both https webhook and wss stream URLs.
	BaseURL string

	LogLevel string
}

type StoreConfig struct {
	// Backend selects the call-config persistence: redis, postgres or memory.
	Backend string

	// AuditEnabled persists every call lifecycle event to Postgres.
	AuditEnabled bool
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// OperatorAPIKey is exchanged for a token pair at /v1/auth/token.
	OperatorAPIKey string
}

type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	APIBaseURL  string
	Record      bool
	InboundPath string
}

type CallConfig struct {
	StartTimeout      time.Duration
	RESTTimeout       time.Duration
	MaxConcurrent     int
	OutputQueueSize   int
	OutputChunkBytes  int
	DeleteConfigOnEnd bool
}

type StreamingConfig struct {
	Provider   string
	URL        string
	APIKey     string
	SampleRate int
	Prompt     string
	Greeting   string
}

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error
	keep := func(err error) {
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
	}
	var err error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, err = mustInt("APP_PORT")
	keep(err)
	c.App.BaseURL = strings.TrimSpace(os.Getenv("BASE_URL"))
	c.App.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))

	c.Store.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))
	c.Store.AuditEnabled, err = optionalBool("AUDIT_ENABLED", false)
	keep(err)

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, err = optionalInt("DB_PORT", 5432)
	keep(err)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, err = optionalInt("REDIS_PORT", 6379)
	keep(err)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL, err = optionalDuration("JWT_ACCESS_TTL")
	keep(err)
	c.Auth.RefreshTokenTTL, err = optionalDuration("JWT_REFRESH_TTL")
	keep(err)
	c.Auth.OperatorAPIKey = os.Getenv("OPERATOR_API_KEY")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.APIBaseURL = strings.TrimSpace(os.Getenv("TWILIO_API_BASE_URL"))
	c.Twilio.Record, err = optionalBool("TWILIO_RECORD", false)
	keep(err)
	c.Twilio.InboundPath = strings.TrimSpace(os.Getenv("TWILIO_INBOUND_PATH"))

	c.Call.StartTimeout, err = optionalDuration("CALL_START_TIMEOUT")
	keep(err)
	c.Call.RESTTimeout, err = optionalDuration("CALL_REST_TIMEOUT")
	keep(err)
	c.Call.MaxConcurrent, err = optionalInt("CALL_MAX_CONCURRENT", 0)
	keep(err)
	c.Call.OutputQueueSize, err = optionalInt("OUTPUT_QUEUE_SIZE", 0)
	keep(err)
	c.Call.OutputChunkBytes, err = optionalInt("OUTPUT_CHUNK_BYTES", 0)
	keep(err)
	c.Call.DeleteConfigOnEnd, err = optionalBool("DELETE_CONFIG_ON_END", true)
	keep(err)

	c.Streaming.Provider = strings.TrimSpace(os.Getenv("STREAMING_PROVIDER"))
	c.Streaming.URL = strings.TrimSpace(os.Getenv("STREAMING_URL"))
	c.Streaming.APIKey = os.Getenv("STREAMING_API_KEY")
	c.Streaming.SampleRate, err = optionalInt("STREAMING_SAMPLE_RATE", 0)
	keep(err)
	c.Streaming.Prompt = os.Getenv("STREAMING_PROMPT")
	c.Streaming.Greeting = os.Getenv("STREAMING_GREETING")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.BaseURL == "" {
		errs = append(errs, errors.New("BASE_URL is required"))
	} else if strings.Contains(c.App.BaseURL, "://") {
		errs = append(errs, fmt.Errorf("BASE_URL must be a bare host without scheme, got %q", c.App.BaseURL))
	}
	if c.App.LogLevel != "" && !isValidLogLevel(c.App.LogLevel) {
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.App.LogLevel))
	}

	if c.Store.Backend == "" {
		c.Store.Backend = BackendRedis
	}
	switch c.Store.Backend {
	case BackendRedis, BackendPostgres, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of redis, postgres, memory, got %q", c.Store.Backend))
	}
	if c.Store.Backend == BackendMemory && c.IsProduction() {
		errs = append(errs, errors.New("STORE_BACKEND=memory is not allowed in production"))
	}

	if c.NeedsPostgres() {
		errs = append(errs, c.validateDB()...)
	}
	if c.NeedsRedis() {
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Auth.OperatorAPIKey == "" {
		errs = append(errs, errors.New("OPERATOR_API_KEY is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.Twilio.APIBaseURL == "" {
		c.Twilio.APIBaseURL = "https://api.twilio.com/2010-04-01"
	}
	if c.Twilio.InboundPath == "" {
		c.Twilio.InboundPath = "/twilio/inbound_call"
	} else if !strings.HasPrefix(c.Twilio.InboundPath, "/") {
		errs = append(errs, fmt.Errorf("TWILIO_INBOUND_PATH must start with '/', got %q", c.Twilio.InboundPath))
	}

	if c.Call.StartTimeout <= 0 {
		c.Call.StartTimeout = 8 * time.Second
	}
	if c.Call.RESTTimeout <= 0 {
		c.Call.RESTTimeout = 10 * time.Second
	}
	if c.Call.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("CALL_MAX_CONCURRENT must be >= 0, got %d", c.Call.MaxConcurrent))
	}
	if c.Call.OutputQueueSize <= 0 {
		c.Call.OutputQueueSize = 512
	}
	if c.Call.OutputChunkBytes <= 0 {
		c.Call.OutputChunkBytes = 3200
	}

	if c.Streaming.Provider == "" {
		c.Streaming.Provider = "streaming_provider_echo"
	}
	if c.Streaming.SampleRate <= 0 {
		c.Streaming.SampleRate = 16000
	}
	if c.Streaming.Provider == "streaming_provider_remote" && c.Streaming.URL == "" {
		errs = append(errs, errors.New("STREAMING_URL is required for streaming_provider_remote"))
	}

	return joinErrors(errs)
}

func (c Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		}
	} else if !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// NeedsPostgres reports whether any component persists to Postgres.
func (c Config) NeedsPostgres() bool {
	return c.Store.Backend == BackendPostgres || c.Store.AuditEnabled
}

// NeedsRedis reports whether the redis client must be opened.
func (c Config) NeedsRedis() bool {
	return c.Store.Backend == BackendRedis || c.Call.MaxConcurrent > 0
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	sslMode := c.DB.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		sslMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidLogLevel(v string) bool {
	switch v {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
