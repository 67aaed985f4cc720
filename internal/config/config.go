package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stirka/internal/directory"
	"stirka/internal/model"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DefaultResetSchedule = "0 0 * * 1"
	DefaultResetMessage  = "Новая неделя! Не забудьте записаться на стирку."
)

type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"telegram"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address        string `yaml:"address"`
		Password       string `yaml:"password"`
		DB             int    `yaml:"db"`
		FlowTTLMinutes int    `yaml:"flow_ttl_minutes"`
	} `yaml:"redis"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		Timezone      string                   `yaml:"timezone"`
		MachineLabels map[model.Machine]string `yaml:"machine_labels"`
	} `yaml:"booking"`

	Reminders struct {
		Enabled         *bool `yaml:"enabled"`
		IntervalMinutes int   `yaml:"interval_minutes"`
		WindowMinutes   int   `yaml:"window_minutes"`
		MaxConcurrent   int   `yaml:"max_concurrent"`
	} `yaml:"reminders"`

	Reset struct {
		Schedule    string `yaml:"schedule"`
		Message     string `yaml:"message"`
		ArchivePath string `yaml:"archive_path"`
	} `yaml:"reset"`

	Directory struct {
		UsersFile string            `yaml:"users_file"`
		Users     []directory.Entry `yaml:"users"`
	} `yaml:"directory"`

	Notifications struct {
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
		MaxRetries    int     `yaml:"max_retries"`
	} `yaml:"notifications"`

	Admins []int64 `yaml:"admins"`
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
		return nil, err
	}

	if cfg.Telegram.BotToken == "" {
		cfg.Telegram.BotToken = os.Getenv("TOKEN")
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/stirka.db"
	}
	if cfg.Reset.Schedule == "" {
		cfg.Reset.Schedule = DefaultResetSchedule
	}
	if cfg.Reset.Message == "" {
		cfg.Reset.Message = DefaultResetMessage
	}
	if cfg.Directory.UsersFile != "" && !filepath.IsAbs(cfg.Directory.UsersFile) {
		cfg.Directory.UsersFile = filepath.Join(filepath.Dir(path), cfg.Directory.UsersFile)
	}

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that would otherwise fail late at runtime and
// reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("booking.timezone: %w", err))
	}
	if _, err := cron.ParseStandard(c.Reset.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("reset.schedule: invalid cron expression '%s': %w", c.Reset.Schedule, err))
	}
	for m := range c.Booking.MachineLabels {
		if !m.Valid() {
			errs = append(errs, fmt.Errorf("booking.machine_labels: unknown machine %d", m))
		}
	}
	if c.Reminders.IntervalMinutes < 0 || c.Reminders.WindowMinutes < 0 {
		errs = append(errs, fmt.Errorf("reminders: interval and window cannot be negative"))
	}
	if c.Notifications.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("notifications.rate_per_second cannot be negative"))
	}
	if len(c.Directory.Users) == 0 && c.Directory.UsersFile == "" {
		errs = append(errs, fmt.Errorf("directory: either users or users_file is required"))
	}
	for i, u := range c.Directory.Users {
		if u.UserID <= 0 {
			errs = append(errs, fmt.Errorf("directory.users[%d]: telegram_id must be positive, got %d", i, u.UserID))
		}
	}
	return errors.Join(errs...)
}

// Location returns the zone all booking dates are interpreted in.
func (c *Config) Location() (*time.Location, error) {
	if c.Booking.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Booking.Timezone)
}

// LogLevel falls back to info, or debug when telegram.debug is set.
func (c *Config) LogLevel() zerolog.Level {
	if c.Telegram.Debug {
		return zerolog.DebugLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level))
	if err != nil || c.Logging.Level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// DirectoryEntries merges inline users with the users file.
func (c *Config) DirectoryEntries() ([]directory.Entry, error) {
	entries := append([]directory.Entry(nil), c.Directory.Users...)
	if c.Directory.UsersFile != "" {
		fromFile, err := directory.LoadCSV(c.Directory.UsersFile)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fromFile...)
	}
	return entries, nil
}

func (c *Config) RemindersEnabled() bool {
	return c.Reminders.Enabled == nil || *c.Reminders.Enabled
}

func (c *Config) ReminderInterval() time.Duration {
	if c.Reminders.IntervalMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Reminders.IntervalMinutes) * time.Minute
}

func (c *Config) ReminderWindow() time.Duration {
	if c.Reminders.WindowMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Reminders.WindowMinutes) * time.Minute
}

func (c *Config) FlowTTL() time.Duration {
	if c.Redis.FlowTTLMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Redis.FlowTTLMinutes) * time.Minute
}
