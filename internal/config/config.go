// Package config loads process configuration from the environment, with
// command-line flags layered on top.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Database holds connection settings for the registration store.
type Database struct {
	Driver     string `env:"DB_DRIVER" envDefault:"postgres"`
	Host       string `env:"DB_HOST" envDefault:"localhost"`
	Port       string `env:"DB_PORT" envDefault:"5432"`
	User       string `env:"DB_USER" envDefault:"postgres"`
	Password   string `env:"DB_PASSWORD" envDefault:"postgres"`
	Name       string `env:"DB_NAME" envDefault:"registration"`
	SSLMode    string `env:"DB_SSLMODE" envDefault:"disable"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"data/registration.db"`
}

// DSN builds a libpq-compatible connection string.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// Mail configures the outbound notification channel.
type Mail struct {
	Backend  string        `env:"MAIL_BACKEND" envDefault:"console"`
	Host     string        `env:"SMTP_HOST" envDefault:"localhost"`
	Port     int           `env:"SMTP_PORT" envDefault:"25"`
	User     string        `env:"SMTP_USER"`
	Password string        `env:"SMTP_PASSWORD"`
	From     string        `env:"MAIL_FROM" envDefault:"registration@localhost"`
	Timeout  time.Duration `env:"MAIL_TIMEOUT" envDefault:"30s"`
	// Cooldown is the pause enforced after every successful send; the mail
	// server accepts a limited number of messages per minute.
	Cooldown time.Duration `env:"SEND_COOLDOWN" envDefault:"10s"`
}

// Config is the full process configuration shared by both commands.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	Language    string `env:"MAIL_LANGUAGE" envDefault:"en"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// AdminToken guards event administration and registration listings.
	// The admin routes are disabled while it is empty.
	AdminToken string `env:"ADMIN_TOKEN"`

	// CountUnconfirmedSeats makes unconfirmed registrations count against
	// event capacity; when false only confirmed ones do.
	CountUnconfirmedSeats bool `env:"COUNT_UNCONFIRMED_SEATS" envDefault:"true"`

	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	SkipUndeliverable bool          `env:"SCHEDULER_SKIP_UNDELIVERABLE" envDefault:"false"`

	Database Database
	Mail     Mail
}

// Load reads the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Parse loads the environment and then applies command-line overrides.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	if fs == nil {
		return Config{}, errors.New("flag set is required")
	}
	cfg, err := Load()
	if err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	fs.StringVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Prometheus metrics port for the scheduler")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Public base URL used in confirmation links")
	fs.StringVar(&cfg.Database.Driver, "db-driver", cfg.Database.Driver, "Registration store driver (postgres|sqlite)")
	fs.StringVar(&cfg.Database.SQLitePath, "sqlite-path", cfg.Database.SQLitePath, "SQLite database path")
	fs.StringVar(&cfg.Mail.Backend, "mail-backend", cfg.Mail.Backend, "Notification backend (smtp|console)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Scheduler polling interval")
	fs.DurationVar(&cfg.Mail.Cooldown, "send-cooldown", cfg.Mail.Cooldown, "Pause after each successful notification")
	fs.BoolVar(&cfg.SkipUndeliverable, "skip-undeliverable", cfg.SkipUndeliverable, "Skip permanently undeliverable recipients instead of blocking the cycle")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations no command can run with.
func (c Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported db driver %q", c.Database.Driver)
	}
	switch strings.ToLower(c.Mail.Backend) {
	case "smtp", "console":
	default:
		return fmt.Errorf("unsupported mail backend %q", c.Mail.Backend)
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.Mail.Cooldown < 0 {
		return errors.New("send cooldown must not be negative")
	}
	return nil
}
