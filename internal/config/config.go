package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// Values come from env; a .env file in the working directory is loaded first when present.
// Per-org provider credentials are not config: they live in telephony_settings.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Sync     SyncConfig
	Provider ProviderConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// MigrateOnStart applies embedded migrations before serving.
	MigrateOnStart bool
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
}

// SyncConfig drives the call sync engine.
type SyncConfig struct {
	PollEnabled  bool
	PollInterval time.Duration
	// PollWindow is how far back each sweep looks. It must be wider than PollInterval
	// so calls the provider reports late are still picked up.
	PollWindow  time.Duration
	PageSize    int
	Concurrency int

	WebhookTimeout time.Duration
	SweepTimeout   time.Duration
	// WebhookSecret, when set, must arrive as ?token= on every status callback.
	WebhookSecret string
}

type ProviderConfig struct {
	Scheme      string
	Timezone    string
	HTTPTimeout time.Duration
	// MaxRetries of 0 disables retries; unset means 3.
	MaxRetries int

	// RecordingStreams caps concurrent recording proxies per org.
	RecordingStreams int
	// RecordingHosts are extra host suffixes recording urls may point at.
	RecordingHosts []string
}

func Load() (Config, error) {
	// Missing .env is fine; real deployments inject env directly.
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.DB.MigrateOnStart, parseErrs = optionalBool(parseErrs, "DB_MIGRATE_ON_START", true)

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL, parseErrs = optionalDuration(parseErrs, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL, parseErrs = optionalDuration(parseErrs, "JWT_REFRESH_TTL")

	c.Sync.PollEnabled, parseErrs = optionalBool(parseErrs, "SYNC_POLL_ENABLED", true)
	c.Sync.PollInterval, parseErrs = optionalDuration(parseErrs, "SYNC_POLL_INTERVAL")
	c.Sync.PollWindow, parseErrs = optionalDuration(parseErrs, "SYNC_POLL_WINDOW")
	c.Sync.PageSize, parseErrs = optionalInt(parseErrs, "SYNC_PAGE_SIZE")
	c.Sync.Concurrency, parseErrs = optionalInt(parseErrs, "SYNC_CONCURRENCY")
	c.Sync.WebhookTimeout, parseErrs = optionalDuration(parseErrs, "SYNC_WEBHOOK_TIMEOUT")
	c.Sync.SweepTimeout, parseErrs = optionalDuration(parseErrs, "SYNC_SWEEP_TIMEOUT")
	c.Sync.WebhookSecret = strings.TrimSpace(os.Getenv("SYNC_WEBHOOK_SECRET"))

	c.Provider.Scheme = strings.TrimSpace(os.Getenv("PROVIDER_SCHEME"))
	c.Provider.Timezone = strings.TrimSpace(os.Getenv("PROVIDER_TIMEZONE"))
	c.Provider.HTTPTimeout, parseErrs = optionalDuration(parseErrs, "PROVIDER_HTTP_TIMEOUT")
	c.Provider.MaxRetries, parseErrs = optionalIntDefault(parseErrs, "PROVIDER_MAX_RETRIES", 3)
	c.Provider.RecordingStreams, parseErrs = optionalInt(parseErrs, "PROVIDER_RECORDING_STREAMS")
	c.Provider.RecordingHosts = splitList(os.Getenv("PROVIDER_RECORDING_HOSTS"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate applies defaults for optional values and reports every problem at once.
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
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
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
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	errs = append(errs, c.validateSync()...)
	errs = append(errs, c.validateProvider()...)

	return joinErrors(errs)
}

func (c *Config) validateSync() []error {
	var errs []error
	if c.Sync.PollInterval <= 0 {
		c.Sync.PollInterval = 5 * time.Minute
	}
	if c.Sync.PollWindow <= 0 {
		c.Sync.PollWindow = 3 * c.Sync.PollInterval
	}
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = 100
	}
	if c.Sync.Concurrency <= 0 {
		c.Sync.Concurrency = 4
	}
	if c.Sync.WebhookTimeout <= 0 {
		c.Sync.WebhookTimeout = 5 * time.Second
	}
	if c.Sync.SweepTimeout <= 0 {
		c.Sync.SweepTimeout = c.Sync.PollInterval
	}

	if c.Sync.PollWindow <= c.Sync.PollInterval {
		errs = append(errs, fmt.Errorf("SYNC_POLL_WINDOW (%s) must be greater than SYNC_POLL_INTERVAL (%s)", c.Sync.PollWindow, c.Sync.PollInterval))
	}
	if c.Sync.PageSize > 1000 {
		errs = append(errs, fmt.Errorf("SYNC_PAGE_SIZE must be at most 1000, got %d", c.Sync.PageSize))
	}
	return errs
}

func (c *Config) validateProvider() []error {
	var errs []error
	if c.Provider.Scheme == "" {
		c.Provider.Scheme = "https"
	}
	if c.Provider.Timezone == "" {
		c.Provider.Timezone = "Asia/Kolkata"
	}
	if c.Provider.HTTPTimeout <= 0 {
		c.Provider.HTTPTimeout = 20 * time.Second
	}
	if c.Provider.RecordingStreams <= 0 {
		c.Provider.RecordingStreams = 5
	}

	if c.Provider.Scheme != "https" && c.Provider.Scheme != "http" {
		errs = append(errs, fmt.Errorf("PROVIDER_SCHEME must be http or https, got %q", c.Provider.Scheme))
	} else if c.IsProduction() && c.Provider.Scheme != "https" {
		errs = append(errs, errors.New("PROVIDER_SCHEME must be https in production"))
	}
	if _, err := time.LoadLocation(c.Provider.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("PROVIDER_TIMEZONE is not a valid zone: %q", c.Provider.Timezone))
	}
	if c.Provider.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("PROVIDER_MAX_RETRIES must not be negative, got %d", c.Provider.MaxRetries))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// ProviderLocation is the zone used for provider wall-clock timestamps.
func (c Config) ProviderLocation() *time.Location {
	loc, err := time.LoadLocation(c.Provider.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
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

func optionalInt(errs []error, key string) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func optionalIntDefault(errs []error, key string, def int) (int, []error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def, errs
	}
	return optionalInt(errs, key)
}

// splitList parses a comma separated env value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func optionalDuration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func optionalBool(errs []error, key string, def bool) (bool, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, append(errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
	}
	return b, errs
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
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
