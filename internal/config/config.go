package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/winter-report-service/internal/models"
	"github.com/kjstillabower/winter-report-service/internal/validation"
)

// Narrative providers.
const (
	NarrativeOpenAI = "openai"
	NarrativeStatic = "static"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string `validate:"required,numeric"`

	RequestTimeout                time.Duration
	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	ForecastURL     string `validate:"required,url"`
	ForecastModel   string `validate:"required"`
	ForecastTimeout time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int `validate:"gte=1"`
	CircuitBreakerSuccessThreshold int `validate:"gte=1"`
	CircuitBreakerTimeout          time.Duration

	NarrativeProvider         string `validate:"oneof=openai static"`
	NarrativeAPIKey           string
	NarrativeURL              string  `validate:"required,url"`
	NarrativeModel            string  `validate:"required"`
	NarrativeTemperature      float64 `validate:"gte=0,lte=2"`
	NarrativeTimeout          time.Duration
	NarrativeFailureThreshold int `validate:"gte=1"`
	NarrativeOpenTimeout      time.Duration

	DefaultLocation models.Coordinates

	NotificationTimezone string `validate:"required"`
	NotificationLocation *time.Location

	SMTPHost     string
	SMTPPort     int `validate:"gte=1,lte=65535"`
	SMTPUsername string
	SMTPPassword string
	SMTPTimeout  time.Duration
	EmailFrom    string `validate:"omitempty,email"`
	EmailTo      string `validate:"omitempty,email"`

	CardWebhookURL string `validate:"omitempty,url"`
	CardTimeout    time.Duration

	ScheduleEnabled bool
	ScheduleTime    string `validate:"required"`
	LedgerTTL       time.Duration

	CacheTTL              time.Duration
	CacheBackend          string `validate:"oneof=in_memory memcached"`
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	CoalesceTimeout       time.Duration
	WarmCache             bool
	WarmInterval          time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	OverloadWindow       time.Duration
	OverloadThresholdPct int `validate:"gte=1,lte=100"`
	DegradedWindow       time.Duration
	DegradedErrorPct     int `validate:"gte=1,lte=100"`
}

// EmailEnabled reports whether SMTP delivery is configured.
func (c *Config) EmailEnabled() bool {
	return c.SMTPHost != "" && c.EmailTo != ""
}

// CardEnabled reports whether the in-app card webhook is configured.
func (c *Config) CardEnabled() bool {
	return c.CardWebhookURL != ""
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Forecast struct {
		URL            string `yaml:"url"`
		Model          string `yaml:"model"`
		Timeout        string `yaml:"timeout"`
		CircuitBreaker struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"forecast"`

	Narrative struct {
		Provider         string   `yaml:"provider"`
		URL              string   `yaml:"url"`
		Model            string   `yaml:"model"`
		Temperature      *float64 `yaml:"temperature"`
		Timeout          string   `yaml:"timeout"`
		FailureThreshold int      `yaml:"failure_threshold"`
		OpenTimeout      string   `yaml:"open_timeout"`
	} `yaml:"narrative"`

	Location struct {
		Latitude  *float64 `yaml:"latitude"`
		Longitude *float64 `yaml:"longitude"`
	} `yaml:"default_location"`

	Notification struct {
		Timezone  string `yaml:"timezone"`
		LedgerTTL string `yaml:"ledger_ttl"`
		Schedule  struct {
			Enabled *bool  `yaml:"enabled"`
			Time    string `yaml:"time"`
		} `yaml:"schedule"`
		Email struct {
			From string `yaml:"from"`
			To   string `yaml:"to"`
			SMTP struct {
				Host     string `yaml:"host"`
				Port     int    `yaml:"port"`
				Username string `yaml:"username"`
				Timeout  string `yaml:"timeout"`
			} `yaml:"smtp"`
		} `yaml:"email"`
		Card struct {
			WebhookURL string `yaml:"webhook_url"`
			Timeout    string `yaml:"timeout"`
		} `yaml:"card"`
	} `yaml:"notification"`

	Cache struct {
		Backend         string `yaml:"backend"`
		TTL             string `yaml:"ttl"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
		Warm            bool   `yaml:"warm"`
		WarmInterval    string `yaml:"warm_interval"`
		Memcached       struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`
}

type secretsFile struct {
	NarrativeAPIKey string `yaml:"narrative_api_key"`
	SMTPPassword    string `yaml:"smtp_password"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// A .env file in the working directory is loaded first; it never overrides variables already set.
// Secrets come from NARRATIVE_API_KEY / SMTP_PASSWORD env or the secrets file. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 45*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.ForecastURL = firstNonEmpty(fc.Forecast.URL, "https://api.open-meteo.com/v1/forecast")
	cfg.ForecastModel = firstNonEmpty(fc.Forecast.Model, "gem_seamless")
	cfg.ForecastTimeout = parseDurationOrZero(fc.Forecast.Timeout, 10*time.Second)

	cfg.CircuitBreakerEnabled = true
	if fc.Forecast.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.Forecast.CircuitBreaker.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = positiveOr(fc.Forecast.CircuitBreaker.FailureThreshold, 5)
	cfg.CircuitBreakerSuccessThreshold = positiveOr(fc.Forecast.CircuitBreaker.SuccessThreshold, 1)
	cfg.CircuitBreakerTimeout = parseDuration(fc.Forecast.CircuitBreaker.Timeout, 30*time.Second)

	cfg.NarrativeProvider = strings.ToLower(firstNonEmpty(
		strings.TrimSpace(os.Getenv("NARRATIVE_PROVIDER")), strings.TrimSpace(fc.Narrative.Provider), NarrativeOpenAI))
	cfg.NarrativeAPIKey = firstNonEmpty(os.Getenv("NARRATIVE_API_KEY"), sec.NarrativeAPIKey)
	cfg.NarrativeURL = firstNonEmpty(fc.Narrative.URL, "https://api.openai.com/v1/chat/completions")
	cfg.NarrativeModel = firstNonEmpty(fc.Narrative.Model, "gpt-4o-mini")
	cfg.NarrativeTemperature = 0.7
	if fc.Narrative.Temperature != nil {
		cfg.NarrativeTemperature = *fc.Narrative.Temperature
	}
	cfg.NarrativeTimeout = parseDuration(fc.Narrative.Timeout, 30*time.Second)
	cfg.NarrativeFailureThreshold = positiveOr(fc.Narrative.FailureThreshold, 5)
	cfg.NarrativeOpenTimeout = parseDuration(fc.Narrative.OpenTimeout, time.Minute)

	cfg.DefaultLocation = models.DefaultCoordinates
	if fc.Location.Latitude != nil && fc.Location.Longitude != nil {
		cfg.DefaultLocation = models.Coordinates{Latitude: *fc.Location.Latitude, Longitude: *fc.Location.Longitude}
	}

	cfg.NotificationTimezone = firstNonEmpty(fc.Notification.Timezone, "America/Toronto")
	cfg.LedgerTTL = parseDuration(fc.Notification.LedgerTTL, 48*time.Hour)
	cfg.ScheduleEnabled = true
	if fc.Notification.Schedule.Enabled != nil {
		cfg.ScheduleEnabled = *fc.Notification.Schedule.Enabled
	}
	cfg.ScheduleTime = firstNonEmpty(strings.TrimSpace(fc.Notification.Schedule.Time), "07:00")

	cfg.SMTPHost = strings.TrimSpace(fc.Notification.Email.SMTP.Host)
	cfg.SMTPPort = positiveOr(fc.Notification.Email.SMTP.Port, 587)
	cfg.SMTPUsername = firstNonEmpty(os.Getenv("SMTP_USERNAME"), fc.Notification.Email.SMTP.Username)
	cfg.SMTPPassword = firstNonEmpty(os.Getenv("SMTP_PASSWORD"), sec.SMTPPassword)
	cfg.SMTPTimeout = parseDuration(fc.Notification.Email.SMTP.Timeout, 30*time.Second)
	cfg.EmailTo = strings.TrimSpace(firstNonEmpty(os.Getenv("EMAIL_TO"), fc.Notification.Email.To))
	cfg.EmailFrom = strings.TrimSpace(firstNonEmpty(fc.Notification.Email.From, cfg.SMTPUsername))

	cfg.CardWebhookURL = strings.TrimSpace(fc.Notification.Card.WebhookURL)
	cfg.CardTimeout = parseDuration(fc.Notification.Card.Timeout, 10*time.Second)

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 10*time.Minute)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = firstNonEmpty(strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")), strings.TrimSpace(fc.Cache.Memcached.Addrs), "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = positiveOr(fc.Cache.Memcached.MaxIdleConns, 2)
	cfg.CoalesceTimeout = parseDuration(fc.Cache.CoalesceTimeout, 15*time.Second)
	cfg.WarmCache = fc.Cache.Warm
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.WarmInterval, 0)

	cfg.RateLimitRPS = positiveOr(fc.Reliability.RateLimitRPS, 20)
	cfg.RateLimitBurst = positiveOr(fc.Reliability.RateLimitBurst, 40)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = positiveOr(fc.Lifecycle.OverloadThresholdPct, 80)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = positiveOr(fc.Lifecycle.DegradedErrorPct, 50)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// validate runs struct-tag validation, then the cross-field rules tags cannot express.
// RequestTimeout is raised above the slowest upstream timeout when needed.
func validate(cfg *Config) error {
	if err := validation.Validator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: %s failed %q validation (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	if cfg.ForecastTimeout <= 0 {
		return fmt.Errorf("forecast.timeout must be positive")
	}
	if err := validation.ValidateCoordinates(cfg.DefaultLocation); err != nil {
		return fmt.Errorf("default_location: %w", err)
	}
	if cfg.NarrativeProvider == NarrativeOpenAI && cfg.NarrativeAPIKey == "" {
		return fmt.Errorf("NARRATIVE_API_KEY required when narrative.provider is openai (set env or config/secrets.yaml narrative_api_key)")
	}
	if cfg.SMTPHost != "" && cfg.EmailTo == "" {
		return fmt.Errorf("notification.email.to required when smtp.host is set")
	}
	if cfg.EmailEnabled() && cfg.EmailFrom == "" {
		return fmt.Errorf("notification.email.from required when smtp.host is set")
	}
	if _, _, err := ParseScheduleTime(cfg.ScheduleTime); err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.NotificationTimezone)
	if err != nil {
		return fmt.Errorf("notification.timezone %q: %w", cfg.NotificationTimezone, err)
	}
	cfg.NotificationLocation = loc

	slowest := cfg.ForecastTimeout
	if cfg.NarrativeTimeout > slowest {
		slowest = cfg.NarrativeTimeout
	}
	if cfg.RequestTimeout <= slowest {
		cfg.RequestTimeout = slowest + 5*time.Second
	}
	return nil
}

// ParseScheduleTime parses an "HH:MM" 24-hour wall-clock time.
func ParseScheduleTime(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("notification.schedule.time %q must be HH:MM", s)
	}
	hour, errH := strconv.Atoi(h)
	minute, errM := strconv.Atoi(m)
	if errH != nil || errM != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 || len(m) != 2 {
		return 0, 0, fmt.Errorf("notification.schedule.time %q must be HH:MM", s)
	}
	return hour, minute, nil
}
