// Package config loads the scheduler configuration from an optional YAML file
// and SCHED_* environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"agentsched.org/internal/auth"
	"agentsched.org/internal/sink"
)

// Storage and delivery drivers.
const (
	DriverMemory   = "memory"
	DriverICS      = "ics"
	DriverPostgres = "postgres"

	DriverLog   = "log"
	DriverAMQP  = "amqp"
	DriverRedis = "redis"
)

// Config is the full process configuration. It is not modified after Load.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Postgres PostgresConfig `yaml:"postgres"`
	Auth     AuthConfig     `yaml:"auth"`
	Extract  ExtractConfig  `yaml:"extract"`
	Calendar CalendarConfig `yaml:"calendar"`
	Notify   NotifyConfig   `yaml:"notify"`
	Audit    AuditConfig    `yaml:"audit"`
	Policy   PolicyConfig   `yaml:"policy"`
}

// HTTPConfig controls the public API listener.
type HTTPConfig struct {
	Addr         string   `yaml:"addr"`
	RateRPS      float64  `yaml:"rate_rps"`
	RateBurst    int      `yaml:"rate_burst"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
	CORSOrigins  []string `yaml:"cors_origins"`
}

// GRPCConfig controls the health service listener. The address "off" disables it.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// PostgresConfig is used by the postgres calendar driver and the audit store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// AuthConfig describes the token signing key.
type AuthConfig struct {
	// Secret is hex encoded. When empty a random key is generated at startup.
	Secret   string        `yaml:"secret"`
	KeyEpoch uint64        `yaml:"key_epoch"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// ExtractConfig holds the extractor defaults.
type ExtractConfig struct {
	DefaultDuration  time.Duration `yaml:"default_duration"`
	DefaultTimeOfDay string        `yaml:"default_time_of_day"`
}

// CalendarConfig selects where planned events are written.
type CalendarConfig struct {
	Driver        string `yaml:"driver"`
	Dir           string `yaml:"dir"`
	ConflictCheck bool   `yaml:"conflict_check"`
}

// NotifyConfig selects the notification sink.
type NotifyConfig struct {
	Driver  string        `yaml:"driver"`
	Channel string        `yaml:"channel"`
	Timeout time.Duration `yaml:"timeout"`
	AMQP    AMQPConfig    `yaml:"amqp"`
	Redis   RedisConfig   `yaml:"redis"`
}

// AMQPConfig is the RabbitMQ queue used by the amqp driver.
type AMQPConfig struct {
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
	Durable bool   `yaml:"durable"`
}

// RedisConfig is the list used by the redis driver.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	List     string `yaml:"list"`
}

// AuditConfig selects the audit store.
type AuditConfig struct {
	Driver string `yaml:"driver"`
}

// PolicyConfig is the least-privilege grant table.
type PolicyConfig struct {
	Grants []auth.Grant `yaml:"grants"`
}

// Load reads path (optional), applies SCHED_* overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	baseDir := "."
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		baseDir = filepath.Dir(path)
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("SCHED_HTTP_ADDR", &c.HTTP.Addr)
	str("SCHED_GRPC_ADDR", &c.GRPC.Addr)
	str("SCHED_PG_DSN", &c.Postgres.DSN)
	str("SCHED_AUTH_SECRET", &c.Auth.Secret)
	str("SCHED_DEFAULT_TIME_OF_DAY", &c.Extract.DefaultTimeOfDay)
	str("SCHED_CALENDAR_DRIVER", &c.Calendar.Driver)
	str("SCHED_CALENDAR_DIR", &c.Calendar.Dir)
	str("SCHED_NOTIFY_DRIVER", &c.Notify.Driver)
	str("SCHED_NOTIFY_CHANNEL", &c.Notify.Channel)
	str("SCHED_AMQP_URL", &c.Notify.AMQP.URL)
	str("SCHED_AMQP_QUEUE", &c.Notify.AMQP.Queue)
	str("SCHED_REDIS_ADDR", &c.Notify.Redis.Addr)
	str("SCHED_REDIS_PASSWORD", &c.Notify.Redis.Password)
	str("SCHED_REDIS_LIST", &c.Notify.Redis.List)
	str("SCHED_AUDIT_DRIVER", &c.Audit.Driver)

	if v, ok := lookup("SCHED_AUTH_KEY_EPOCH"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: SCHED_AUTH_KEY_EPOCH: %w", err)
		}
		c.Auth.KeyEpoch = n
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SCHED_TOKEN_TTL", &c.Auth.TokenTTL},
		{"SCHED_DEFAULT_DURATION", &c.Extract.DefaultDuration},
		{"SCHED_NOTIFY_TIMEOUT", &c.Notify.Timeout},
	}
	for _, d := range durations {
		v, ok := lookup(d.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	if v, ok := lookup("SCHED_CONFLICT_CHECK"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: SCHED_CONFLICT_CHECK: %w", err)
		}
		c.Calendar.ConflictCheck = b
	}
	if v, ok := lookup("SCHED_RATE_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: SCHED_RATE_RPS: %w", err)
		}
		c.HTTP.RateRPS = f
	}
	if v, ok := lookup("SCHED_CORS_ORIGINS"); ok && v != "" {
		c.HTTP.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.HTTP.CORSOrigins = append(c.HTTP.CORSOrigins, o)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RateRPS == 0 {
		c.HTTP.RateRPS = 20
	}
	if c.HTTP.RateBurst == 0 {
		c.HTTP.RateBurst = 40
	}
	if c.HTTP.MaxBodyBytes == 0 {
		c.HTTP.MaxBodyBytes = 1 << 20
	}
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":9090"
	}
	if c.Auth.KeyEpoch == 0 {
		c.Auth.KeyEpoch = 1
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 2 * time.Minute
	}
	if c.Extract.DefaultDuration == 0 {
		c.Extract.DefaultDuration = 30 * time.Minute
	}
	if c.Extract.DefaultTimeOfDay == "" {
		c.Extract.DefaultTimeOfDay = "09:00"
	}
	if c.Calendar.Driver == "" {
		c.Calendar.Driver = DriverMemory
	}
	if c.Calendar.Driver == DriverICS {
		if c.Calendar.Dir == "" {
			c.Calendar.Dir = filepath.Join(baseDir, "data", "calendar")
		} else if !filepath.IsAbs(c.Calendar.Dir) {
			c.Calendar.Dir = filepath.Join(baseDir, c.Calendar.Dir)
		}
	}
	if c.Notify.Driver == "" {
		c.Notify.Driver = DriverLog
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 5 * time.Second
	}
	if c.Notify.AMQP.Queue == "" {
		c.Notify.AMQP.Queue = "agentsched.notifications"
	}
	if c.Notify.Redis.List == "" {
		c.Notify.Redis.List = "agentsched:notifications"
	}
	if c.Audit.Driver == "" {
		if c.Postgres.DSN != "" {
			c.Audit.Driver = DriverPostgres
		} else {
			c.Audit.Driver = DriverMemory
		}
	}
	if len(c.Policy.Grants) == 0 {
		c.Policy.Grants = auth.DefaultGrants()
	}
}

// Validate reports the first inconsistency in c.
func (c *Config) Validate() error {
	switch c.Calendar.Driver {
	case DriverMemory, DriverICS:
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("config: calendar driver postgres requires postgres.dsn")
		}
	default:
		return fmt.Errorf("config: unknown calendar driver %q", c.Calendar.Driver)
	}
	switch c.Notify.Driver {
	case DriverLog:
	case DriverAMQP:
		if c.Notify.AMQP.URL == "" {
			return errors.New("config: notify driver amqp requires notify.amqp.url")
		}
	case DriverRedis:
		if c.Notify.Redis.Addr == "" {
			return errors.New("config: notify driver redis requires notify.redis.addr")
		}
	default:
		return fmt.Errorf("config: unknown notify driver %q", c.Notify.Driver)
	}
	switch c.Audit.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("config: audit driver postgres requires postgres.dsn")
		}
	default:
		return fmt.Errorf("config: unknown audit driver %q", c.Audit.Driver)
	}
	if _, err := sink.ParseChannel(c.Notify.Channel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.TimeOfDay(); err != nil {
		return err
	}
	if c.Extract.DefaultDuration <= 0 {
		return errors.New("config: extract.default_duration must be positive")
	}
	if c.Auth.Secret != "" {
		if _, err := c.secret(); err != nil {
			return err
		}
	}
	return nil
}

// TimeOfDay parses Extract.DefaultTimeOfDay ("HH:MM") as an offset from midnight.
func (c *Config) TimeOfDay() (time.Duration, error) {
	t, err := time.Parse("15:04", c.Extract.DefaultTimeOfDay)
	if err != nil {
		return 0, fmt.Errorf("config: default_time_of_day %q: want HH:MM", c.Extract.DefaultTimeOfDay)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// CompilePolicy builds the immutable grant table.
func (c *Config) CompilePolicy() (*auth.Policy, error) {
	return auth.NewPolicy(c.Policy.Grants)
}

// Keys returns the signing key source. Ephemeral reports whether the secret
// was generated because none was configured.
func (c *Config) Keys() (keys *auth.RotatingKeys, ephemeral bool, err error) {
	secret, err := c.secret()
	if err != nil {
		return nil, false, err
	}
	if secret == nil {
		if secret, err = auth.GenerateSecret(32); err != nil {
			return nil, false, err
		}
		ephemeral = true
	}
	keys, err = auth.NewRotatingKeys(auth.SigningKey{Epoch: c.Auth.KeyEpoch, Secret: secret})
	return keys, ephemeral, err
}

func (c *Config) secret() ([]byte, error) {
	if c.Auth.Secret == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(c.Auth.Secret)
	if err != nil {
		return nil, fmt.Errorf("config: auth.secret must be hex: %w", err)
	}
	return b, nil
}

// AMQPSink converts the amqp section for sink.NewAMQPNotifier.
func (c *Config) AMQPSink() sink.AMQPConfig {
	return sink.AMQPConfig{URL: c.Notify.AMQP.URL, Queue: c.Notify.AMQP.Queue, Durable: c.Notify.AMQP.Durable}
}

// RedisSink converts the redis section for sink.NewRedisNotifier.
func (c *Config) RedisSink() sink.RedisConfig {
	r := c.Notify.Redis
	return sink.RedisConfig{Address: r.Addr, Password: r.Password, DB: r.DB, List: r.List}
}
