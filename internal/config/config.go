package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config models submit.yml. Every field can be overridden by a SUBMIT_*
// environment variable or a flag; see Overrides.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	DBPath   string `yaml:"db_path"`
	Timezone string `yaml:"timezone"`
	Log      struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Server struct {
		Addr       string `yaml:"addr"`
		BasePath   string `yaml:"base_path"`
		JWTSecret  string `yaml:"jwt_secret"`
		CronSecret string `yaml:"cron_secret"`
		DevLogin   bool   `yaml:"dev_login"`
	} `yaml:"server"`
	Line struct {
		ChannelAccessToken string `yaml:"channel_access_token"`
		ChannelSecret      string `yaml:"channel_secret"`
		APIBase            string `yaml:"api_base"`
	} `yaml:"line"`
	Notify struct {
		Delay time.Duration `yaml:"delay"`
	} `yaml:"notify"`
	Penalty struct {
		Min     int `yaml:"min"`
		Default int `yaml:"default"`
	} `yaml:"penalty"`
	RateLimit struct {
		Backend  string `yaml:"backend"`
		RedisURL string `yaml:"redis_url"`
		// TrustProxy reads the client address from X-Forwarded-For and
		// friends. Leave it off unless a proxy overwrites those headers.
		TrustProxy bool `yaml:"trust_proxy"`
		Webhook    Rule `yaml:"webhook"`
		API        Rule `yaml:"api"`
		Auth       Rule `yaml:"auth"`
	} `yaml:"rate_limit"`
	Partners struct {
		InviteTTL time.Duration `yaml:"invite_ttl"`
	} `yaml:"partners"`
	Schedule struct {
		Enabled  bool   `yaml:"enabled"`
		Judgment string `yaml:"judgment"`
		Morning  string `yaml:"morning"`
		Evening  string `yaml:"evening"`
		Urgent   string `yaml:"urgent"`
	} `yaml:"schedule"`
	Hooks []Hook `yaml:"hooks"`
}

// Hook forwards audit events to an outside endpoint, such as the payment
// service that captures penalties.
type Hook struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Rule is a fixed-window allowance.
type Rule struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses config on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Load builds the effective config: defaults, then the file named by the
// "config" key (if any), then every override set in v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if path := v.GetString("config"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config yaml: %w", err)
		}
	}
	for _, o := range Overrides {
		if v.IsSet(o.Key) {
			if err := o.apply(cfg, v); err != nil {
				return nil, fmt.Errorf("%s: %w", o.Key, err)
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// replacing variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Override binds one viper key (flag or SUBMIT_* env var) to a config field.
type Override struct {
	Key   string
	Usage string
	apply func(*Config, *viper.Viper) error
}

func str(key, usage string, field func(*Config) *string) Override {
	return Override{Key: key, Usage: usage, apply: func(c *Config, v *viper.Viper) error {
		*field(c) = v.GetString(key)
		return nil
	}}
}

func boolean(key, usage string, field func(*Config) *bool) Override {
	return Override{Key: key, Usage: usage, apply: func(c *Config, v *viper.Viper) error {
		*field(c) = v.GetBool(key)
		return nil
	}}
}

func duration(key, usage string, field func(*Config) *time.Duration) Override {
	return Override{Key: key, Usage: usage, apply: func(c *Config, v *viper.Viper) error {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}}
}

// Overrides lists the keys recognised by Load.
var Overrides = []Override{
	str("data-dir", "data directory", func(c *Config) *string { return &c.DataDir }),
	str("db", "database file (default <data-dir>/submit.db)", func(c *Config) *string { return &c.DBPath }),
	str("timezone", "default IANA timezone for users without one", func(c *Config) *string { return &c.Timezone }),
	str("log-level", "debug, info, warn or error", func(c *Config) *string { return &c.Log.Level }),
	str("addr", "HTTP listen address", func(c *Config) *string { return &c.Server.Addr }),
	str("base-path", "API base path", func(c *Config) *string { return &c.Server.BasePath }),
	str("jwt-secret", "HS256 secret for bearer tokens", func(c *Config) *string { return &c.Server.JWTSecret }),
	str("cron-secret", "bearer secret for cron endpoints", func(c *Config) *string { return &c.Server.CronSecret }),
	boolean("dev-login", "enable POST /auth/dev/login", func(c *Config) *bool { return &c.Server.DevLogin }),
	str("line-channel-token", "LINE channel access token", func(c *Config) *string { return &c.Line.ChannelAccessToken }),
	str("line-channel-secret", "LINE channel secret", func(c *Config) *string { return &c.Line.ChannelSecret }),
	str("line-api-base", "LINE Messaging API base URL", func(c *Config) *string { return &c.Line.APIBase }),
	duration("notify-delay", "pause between outbound notifications", func(c *Config) *time.Duration { return &c.Notify.Delay }),
	str("rate-limit-backend", "memory or redis", func(c *Config) *string { return &c.RateLimit.Backend }),
	str("redis-url", "redis URL for the shared rate-limit store", func(c *Config) *string { return &c.RateLimit.RedisURL }),
	boolean("trust-proxy", "take client addresses from proxy headers", func(c *Config) *bool { return &c.RateLimit.TrustProxy }),
	duration("invite-ttl", "how long a supporter invite stays valid", func(c *Config) *time.Duration { return &c.Partners.InviteTTL }),
	boolean("scheduler", "run judgment and reminders in-process", func(c *Config) *bool { return &c.Schedule.Enabled }),
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil || c.Timezone == "" {
		return fmt.Errorf("config.timezone %q is not a valid IANA zone", c.Timezone)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be debug, info, warn or error")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Notify.Delay < 0 {
		return fmt.Errorf("config.notify.delay must not be negative")
	}
	if c.Penalty.Min <= 0 {
		return fmt.Errorf("config.penalty.min must be positive")
	}
	if c.Penalty.Default < c.Penalty.Min {
		return fmt.Errorf("config.penalty.default must be at least %d", c.Penalty.Min)
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RateLimit.RedisURL == "" {
			return fmt.Errorf("config.rate_limit.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("config.rate_limit.backend must be memory or redis")
	}
	for name, r := range map[string]Rule{"webhook": c.RateLimit.Webhook, "api": c.RateLimit.API, "auth": c.RateLimit.Auth} {
		if r.Limit <= 0 || r.Window <= 0 {
			return fmt.Errorf("config.rate_limit.%s needs a positive limit and window", name)
		}
	}
	if c.Partners.InviteTTL <= 0 {
		return fmt.Errorf("config.partners.invite_ttl must be positive")
	}
	for name, at := range map[string]string{
		"judgment": c.Schedule.Judgment,
		"morning":  c.Schedule.Morning,
		"evening":  c.Schedule.Evening,
		"urgent":   c.Schedule.Urgent,
	} {
		if at == "" {
			continue
		}
		if _, _, err := ParseClock(at); err != nil {
			return fmt.Errorf("config.schedule.%s: %w", name, err)
		}
	}
	for i, h := range c.Hooks {
		if !strings.HasPrefix(h.URL, "http://") && !strings.HasPrefix(h.URL, "https://") {
			return fmt.Errorf("config.hooks[%d].url must be an http(s) URL", i)
		}
		if h.TimeoutSeconds < 0 {
			return fmt.Errorf("config.hooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Location returns the service default timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseClock parses a daily "HH:MM" time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%q is not HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// Marshal renders cfg as YAML with secrets redacted.
func (c *Config) Marshal() ([]byte, error) {
	cp := *c
	cp.Hooks = nil
	for _, h := range c.Hooks {
		if h.Secret != "" {
			h.Secret = "***"
		}
		cp.Hooks = append(cp.Hooks, h)
	}
	for _, s := range []*string{&cp.Server.JWTSecret, &cp.Server.CronSecret, &cp.Line.ChannelAccessToken, &cp.Line.ChannelSecret} {
		if *s != "" {
			*s = "***"
		}
	}
	return yaml.Marshal(&cp)
}

const defaultTemplate = `data_dir: .submit
timezone: Asia/Tokyo
log:
  level: info
server:
  addr: 127.0.0.1:8080
  base_path: /v1
line:
  api_base: https://api.line.me
notify:
  delay: 100ms
penalty:
  min: 100
  default: 1000
rate_limit:
  backend: memory
  trust_proxy: false
  webhook:
    limit: 100
    window: 1m
  api:
    limit: 60
    window: 1m
  auth:
    limit: 5
    window: 1m
partners:
  invite_ttl: 24h
schedule:
  enabled: false
  judgment: "00:05"
  morning: "08:00"
  evening: "20:00"
  urgent: "00:15"
`
