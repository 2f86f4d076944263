package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	Store    StoreConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Admin    AdminConfig
	Dinodial DinodialConfig
	LLM      LLMConfig
	SMTP     SMTPConfig
	Schedule ScheduleConfig
}

type AppConfig struct {
	Env  string
	Port int

	// RestaurantName personalizes call scripts and notification mail.
	RestaurantName string
}

// StoreConfig picks the customer store backend.
// Drivers: memory (tests, throwaway runs), file (CSV on disk), postgres.
type StoreConfig struct {
	Driver string
	File   string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. With no host the scheduler runs without the
// shared concurrency cap, which is fine for a single instance.
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

// AdminConfig seeds the single staff login.
type AdminConfig struct {
	Username string
	Password string
	Role     string
}

type DinodialConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// WebhookSecret, when set, must match the X-Webhook-Token header on
	// call-result webhooks.
	WebhookSecret string
}

// LLMConfig is optional. With no API key the extraction pipeline runs on
// its deterministic tiers only.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// SMTPConfig is optional. With no host customer notifications are skipped.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromName  string
	FromEmail string
}

type ScheduleConfig struct {
	CallSweepInterval   time.Duration
	ResultSweepInterval time.Duration
	RecoveryCooldown    time.Duration
	RetryBackoffBase    time.Duration
	StaleCallAfter      time.Duration
	MaxCallAttempts     int
	SweepParallelism    int
	MaxConcurrentCalls  int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.RestaurantName = strings.TrimSpace(os.Getenv("RESTAURANT_NAME"))

	c.Store.Driver = strings.TrimSpace(os.Getenv("STORE_DRIVER"))
	c.Store.File = strings.TrimSpace(os.Getenv("STORE_FILE"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optInt("DB_PORT", 5432)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optInt("REDIS_PORT", 6379)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Admin.Username = strings.TrimSpace(os.Getenv("ADMIN_USER"))
	c.Admin.Password = os.Getenv("ADMIN_PASS")
	c.Admin.Role = strings.TrimSpace(os.Getenv("ADMIN_ROLE"))

	c.Dinodial.BaseURL = strings.TrimSpace(os.Getenv("DINODIAL_BASE_URL"))
	c.Dinodial.Token = os.Getenv("DINODIAL_TOKEN")
	c.Dinodial.Timeout = mustDuration("DINODIAL_TIMEOUT")
	c.Dinodial.WebhookSecret = os.Getenv("DINODIAL_WEBHOOK_SECRET")

	c.LLM.BaseURL = strings.TrimSpace(os.Getenv("LLM_BASE_URL"))
	c.LLM.APIKey = os.Getenv("LLM_API_KEY")
	c.LLM.Model = strings.TrimSpace(os.Getenv("LLM_MODEL"))

	c.SMTP.Host = strings.TrimSpace(os.Getenv("SMTP_HOST"))
	{
		n, err := optInt("SMTP_PORT", 587)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.SMTP.Port = n
	}
	c.SMTP.Username = strings.TrimSpace(os.Getenv("SMTP_USER"))
	c.SMTP.Password = os.Getenv("SMTP_PASS")
	c.SMTP.FromName = strings.TrimSpace(os.Getenv("SMTP_FROM_NAME"))
	c.SMTP.FromEmail = strings.TrimSpace(os.Getenv("SMTP_FROM_EMAIL"))

	c.Schedule.CallSweepInterval = mustDuration("CALL_SWEEP_INTERVAL")
	c.Schedule.ResultSweepInterval = mustDuration("RESULT_SWEEP_INTERVAL")
	c.Schedule.RecoveryCooldown = mustDuration("RECOVERY_COOLDOWN")
	c.Schedule.RetryBackoffBase = mustDuration("RETRY_BACKOFF_BASE")
	c.Schedule.StaleCallAfter = mustDuration("STALE_CALL_AFTER")
	{
		n, err := optInt("MAX_CALL_ATTEMPTS", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Schedule.MaxCallAttempts = n
	}
	{
		n, err := optInt("SWEEP_PARALLELISM", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Schedule.SweepParallelism = n
	}
	{
		n, err := optInt("DISPATCH_MAX_CONCURRENT", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Schedule.MaxConcurrentCalls = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

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
	if c.App.RestaurantName == "" {
		errs = append(errs, errors.New("RESTAURANT_NAME is required"))
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "file"
	}
	switch c.Store.Driver {
	case "memory":
	case "file":
		if c.Store.File == "" {
			c.Store.File = "customers.csv"
		}
	case "postgres":
		if c.DB.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required with STORE_DRIVER=postgres"))
		}
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required with STORE_DRIVER=postgres"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required with STORE_DRIVER=postgres"))
		}
		if strings.TrimSpace(c.DB.SSLMode) == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				// Local-friendly default; production must be explicit.
				// Allowed values are enforced below.
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be one of memory, file, postgres, got %q", c.Store.Driver))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
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
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Admin.Username == "" {
		errs = append(errs, errors.New("ADMIN_USER is required"))
	}
	if c.Admin.Password == "" {
		errs = append(errs, errors.New("ADMIN_PASS is required"))
	}
	if c.Admin.Role == "" {
		c.Admin.Role = "owner"
	}

	if c.Dinodial.BaseURL == "" {
		errs = append(errs, errors.New("DINODIAL_BASE_URL is required"))
	}
	if c.Dinodial.Token == "" {
		errs = append(errs, errors.New("DINODIAL_TOKEN is required"))
	}

	if c.SMTP.Host != "" {
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			errs = append(errs, fmt.Errorf("SMTP_PORT must be a valid port, got %d", c.SMTP.Port))
		}
		if c.SMTP.FromEmail == "" {
			errs = append(errs, errors.New("SMTP_FROM_EMAIL is required when SMTP_HOST is set"))
		}
	}

	if c.Schedule.CallSweepInterval <= 0 {
		c.Schedule.CallSweepInterval = 5 * time.Minute
	}
	if c.Schedule.ResultSweepInterval <= 0 {
		c.Schedule.ResultSweepInterval = 2 * time.Minute
	}
	if c.Schedule.RecoveryCooldown <= 0 {
		c.Schedule.RecoveryCooldown = 30 * time.Minute
	}
	if c.Schedule.RetryBackoffBase <= 0 {
		c.Schedule.RetryBackoffBase = 10 * time.Minute
	}
	if c.Schedule.StaleCallAfter <= 0 {
		c.Schedule.StaleCallAfter = 30 * time.Minute
	}
	if c.Schedule.MaxCallAttempts <= 0 {
		c.Schedule.MaxCallAttempts = 3
	}
	if c.Schedule.SweepParallelism <= 0 {
		c.Schedule.SweepParallelism = 4
	}
	if c.Schedule.MaxConcurrentCalls <= 0 {
		c.Schedule.MaxConcurrentCalls = 3
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
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

func (c Config) RedisEnabled() bool { return c.Redis.Host != "" }

func (c Config) SMTPEnabled() bool { return c.SMTP.Host != "" }

func (c Config) LLMEnabled() bool { return c.LLM.APIKey != "" }

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

func optInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
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
