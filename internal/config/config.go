package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address            string   `yaml:"address"`
		AllowedOrigins     []string `yaml:"allowed_origins"`
		RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
		ReferralCookie     string   `yaml:"referral_cookie"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	// Calendar selects the busy-interval source: "webhook" (default) or "google".
	Calendar struct {
		Source          string `yaml:"source"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
		Google          struct {
			CalendarID      string `yaml:"calendar_id"`
			CredentialsFile string `yaml:"credentials_file"`
		} `yaml:"google"`
	} `yaml:"calendar"`

	Webhooks struct {
		CalendarURL    string  `yaml:"calendar_url"`
		BookingURL     string  `yaml:"booking_url"`
		ReferralURL    string  `yaml:"referral_url"`
		APIKey         string  `yaml:"api_key"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		RatePerSecond  float64 `yaml:"rate_per_second"`
	} `yaml:"webhooks"`

	Booking struct {
		SubmitTimeoutSeconds  int    `yaml:"submit_timeout_seconds"`
		SessionTimeoutMinutes int    `yaml:"session_timeout_minutes"`
		SessionStore          string `yaml:"session_store"`
		ScheduleFile          string `yaml:"schedule_file"`
	} `yaml:"booking"`

	Telegram struct {
		BotToken string  `yaml:"bot_token"`
		Managers []int64 `yaml:"managers"`
	} `yaml:"telegram"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Path returns the config file location from SLOTDESK_CONFIG_PATH or the default.
func Path() string {
	if p := os.Getenv("SLOTDESK_CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReferralCookie == "" {
		c.Server.ReferralCookie = "ref"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/slotdesk.db"
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "data/backups"
	}
	if c.Calendar.Source == "" {
		c.Calendar.Source = "webhook"
	}
	if c.Booking.SessionStore == "" {
		c.Booking.SessionStore = "memory"
	}
	if c.Booking.ScheduleFile == "" {
		c.Booking.ScheduleFile = "configs/schedule.yaml"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	switch c.Calendar.Source {
	case "webhook":
		if c.Webhooks.CalendarURL == "" {
			return fmt.Errorf("webhooks.calendar_url is required for the webhook calendar source")
		}
	case "google":
		if c.Calendar.Google.CredentialsFile == "" {
			return fmt.Errorf("calendar.google.credentials_file is required for the google calendar source")
		}
	default:
		return fmt.Errorf("unknown calendar source %q", c.Calendar.Source)
	}
	if c.Webhooks.BookingURL == "" {
		return fmt.Errorf("webhooks.booking_url is required")
	}
	switch c.Booking.SessionStore {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address is required for the redis session store")
		}
	default:
		return fmt.Errorf("unknown session store %q", c.Booking.SessionStore)
	}
	return nil
}

func (c *Config) SubmitTimeout() time.Duration {
	if c.Booking.SubmitTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Booking.SubmitTimeoutSeconds) * time.Second
}

func (c *Config) SessionTimeout() time.Duration {
	if c.Booking.SessionTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Booking.SessionTimeoutMinutes) * time.Minute
}

func (c *Config) CacheTTL() time.Duration {
	if c.Calendar.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Calendar.CacheTTLSeconds) * time.Second
}

func (c *Config) WebhookTimeout() time.Duration {
	if c.Webhooks.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Webhooks.TimeoutSeconds) * time.Second
}

func (c *Config) RateLimitPerMinute() int {
	if c.Server.RateLimitPerMinute <= 0 {
		return 120
	}
	return c.Server.RateLimitPerMinute
}

func (b BackupConfig) Interval() time.Duration {
	if b.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(b.IntervalHours) * time.Hour
}
