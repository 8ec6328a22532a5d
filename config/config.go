// Package config loads opsdesk settings from defaults, an optional YAML
// file, an optional .env file and OPSDESK_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "OPSDESK"

type Config struct {
	Env       string          `mapstructure:"env"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Store     StoreConfig     `mapstructure:"store"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	DatabaseURL string `mapstructure:"databaseURL"`
	MaxConns    int32  `mapstructure:"maxConns"`
}

type RealtimeConfig struct {
	Driver        string      `mapstructure:"driver"`
	SessionBuffer int         `mapstructure:"sessionBuffer"`
	Redis         RedisConfig `mapstructure:"redis"`
	NATS          NATSConfig  `mapstructure:"nats"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type NotifyConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queueSize"`
	MaxRetries     int           `mapstructure:"maxRetries"`
	RetryInterval  time.Duration `mapstructure:"retryInterval"`
	PublishTimeout time.Duration `mapstructure:"publishTimeout"`
}

type AuthConfig struct {
	JWTSecret string          `mapstructure:"jwtSecret"`
	TokenTTL  time.Duration   `mapstructure:"tokenTTL"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
}

// BootstrapConfig names the first manager account, created at startup when
// Email is set. Public sign-up cannot grant manager roles.
type BootstrapConfig struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
	FullName string `mapstructure:"fullName"`
	Role     string `mapstructure:"role"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelemetryConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverNATS     = "nats"
)

const devSecret = "dev-only-secret-change-me"

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", 15*time.Second)
	v.SetDefault("http.writeTimeout", 15*time.Second)
	v.SetDefault("http.shutdownTimeout", 10*time.Second)
	v.SetDefault("http.allowedOrigins", []string{})
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.databaseURL", "")
	v.SetDefault("store.maxConns", 16)
	v.SetDefault("realtime.driver", DriverMemory)
	v.SetDefault("realtime.sessionBuffer", 32)
	v.SetDefault("realtime.redis.addr", "localhost:6379")
	v.SetDefault("realtime.redis.password", "")
	v.SetDefault("realtime.redis.db", 0)
	v.SetDefault("realtime.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("realtime.nats.token", "")
	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.queueSize", 256)
	v.SetDefault("notify.maxRetries", 3)
	v.SetDefault("notify.retryInterval", 200*time.Millisecond)
	v.SetDefault("notify.publishTimeout", 5*time.Second)
	v.SetDefault("auth.jwtSecret", devSecret)
	v.SetDefault("auth.tokenTTL", 24*time.Hour)
	v.SetDefault("auth.bootstrap.email", "")
	v.SetDefault("auth.bootstrap.password", "")
	v.SetDefault("auth.bootstrap.fullName", "Operations Admin")
	v.SetDefault("auth.bootstrap.role", "coo")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.interval", 30*time.Second)
}

// Load reads configuration. path may name a YAML/JSON/TOML file; an empty
// path skips the file. A .env file in the working directory is loaded into
// the environment when present.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("config: store.databaseURL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	switch c.Realtime.Driver {
	case DriverMemory, DriverRedis, DriverNATS:
	default:
		return fmt.Errorf("config: unknown realtime.driver %q", c.Realtime.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: auth.jwtSecret is required")
	}
	if c.Env == "prod" && c.Auth.JWTSecret == devSecret {
		return fmt.Errorf("config: auth.jwtSecret must be set in prod")
	}
	if c.Auth.Bootstrap.Email != "" && len(c.Auth.Bootstrap.Password) < 8 {
		return fmt.Errorf("config: auth.bootstrap.password needs at least 8 characters")
	}
	if c.Notify.Workers <= 0 {
		return fmt.Errorf("config: notify.workers must be positive")
	}
	return nil
}

// NewLogger builds the process logger from the log settings.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
