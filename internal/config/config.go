package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Config is the full process configuration. Zero values are replaced by
// Default() before validation.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Reports   ReportsConfig   `yaml:"reports"`
	Notify    NotifyConfig    `yaml:"notify"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Debug           bool          `yaml:"debug"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres or redis

	// sqlite
	Path string `yaml:"path"`

	// postgres
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`

	// redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`

	OpTimeout time.Duration `yaml:"op_timeout"`
}

type SchedulerConfig struct {
	DefaultTask string `yaml:"default_task"`
	// DefaultCron is used for a task that has no stored schedule row.
	DefaultCron string        `yaml:"default_cron"`
	Timezone    string        `yaml:"timezone"`
	Workers     int           `yaml:"workers"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
	RunTimeout  time.Duration `yaml:"run_timeout"`
}

type ReportsConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

type NotifyConfig struct {
	Concurrency int           `yaml:"concurrency"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	RatePerSec  float64       `yaml:"rate_per_sec"`
	Burst       int           `yaml:"burst"`

	Email EmailConfig `yaml:"email"`
	SMS   SMSConfig   `yaml:"sms"`

	// Recipients maps a recipient kind (customer, employee) to its address book.
	Recipients map[string]RecipientBook `yaml:"recipients"`
	// Routes overrides the audiences for a report type (CUSTOMER, SALES, ...).
	Routes map[string][]RouteConfig `yaml:"routes"`
}

type EmailConfig struct {
	Mode         string `yaml:"mode"` // sendmail or log
	SendmailPath string `yaml:"sendmail_path"`
	From         string `yaml:"from"`
}

type SMSConfig struct {
	Mode       string `yaml:"mode"` // gateway or log
	GatewayURL string `yaml:"gateway_url"`
	Token      string `yaml:"token"`
	Sender     string `yaml:"sender"`
}

type RecipientBook struct {
	Emails []string `yaml:"emails"`
	Phones []string `yaml:"phones"`
}

type RouteConfig struct {
	Recipient string `yaml:"recipient"`
	Channel   string `yaml:"channel"`
	Subject   string `yaml:"subject"`
	Body      string `yaml:"body"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration usable for a single-node deployment.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{Addr: ":8080", ShutdownTimeout: 5 * time.Second},
		Log:  LogConfig{Level: "info", Format: "console"},
		Store: StoreConfig{
			Driver:       "sqlite",
			Path:         "reportflow.db",
			MaxOpenConns: 4,
			KeyPrefix:    "reportflow:schedule:",
			OpTimeout:    5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			DefaultTask: "notify",
			DefaultCron: "0 0 * * * ?",
			Timezone:    "UTC",
			Workers:     4,
			StopTimeout: 30 * time.Second,
			RunTimeout:  10 * time.Minute,
		},
		Reports: ReportsConfig{Timeout: 10 * time.Second, Concurrency: 4},
		Notify: NotifyConfig{
			Concurrency: 4,
			SendTimeout: 10 * time.Second,
			RatePerSec:  5,
			Burst:       5,
			Email:       EmailConfig{Mode: "log", SendmailPath: "/usr/sbin/sendmail", From: "reports@localhost"},
			SMS:         SMSConfig{Mode: "log"},
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads a YAML file on top of Default(). An empty path yields the
// defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail late at startup.
func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of sqlite, postgres, redis", c.Store.Driver))
	}
	if c.Scheduler.DefaultTask == "" {
		errs = append(errs, errors.New("scheduler.default_task is required"))
	}
	if c.Scheduler.DefaultCron == "" {
		errs = append(errs, errors.New("scheduler.default_cron is required"))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}
	if c.Scheduler.Workers <= 0 {
		errs = append(errs, errors.New("scheduler.workers must be positive"))
	}
	if c.Notify.Concurrency <= 0 || c.Reports.Concurrency <= 0 {
		errs = append(errs, errors.New("notify.concurrency and reports.concurrency must be positive"))
	}
	if c.Notify.SendTimeout <= 0 {
		errs = append(errs, errors.New("notify.send_timeout must be positive"))
	}
	switch c.Notify.Email.Mode {
	case "log", "sendmail":
	default:
		errs = append(errs, fmt.Errorf("notify.email.mode %q is not one of log, sendmail", c.Notify.Email.Mode))
	}
	switch c.Notify.SMS.Mode {
	case "log":
	case "gateway":
		if c.Notify.SMS.GatewayURL == "" {
			errs = append(errs, errors.New("notify.sms.gateway_url is required for gateway mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("notify.sms.mode %q is not one of log, gateway", c.Notify.SMS.Mode))
	}
	return errors.Join(errs...)
}
