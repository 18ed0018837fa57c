package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"mpsdash/internal/bootstrap/logging"
	"mpsdash/internal/errs"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
	Cache    CacheConfig    `mapstructure:"cache"`
	OAuth    OAuthConfig    `mapstructure:"oauth"`
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CacheConfig drives the API response cache. Backend is one of file,
// sqlite (database.dsn), s3 or redis. The token cache is always a file
// store under OAuthConfig.CacheDir that shares Compress, MaxEntrySize and
// DefaultTTL.
type CacheConfig struct {
	Backend      string        `mapstructure:"backend"`
	Dir          string        `mapstructure:"dir"`
	Compress     bool          `mapstructure:"compress"`
	MaxEntrySize int64         `mapstructure:"max_entry_size"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	GCInterval   time.Duration `mapstructure:"gc_interval"`
	S3           S3Config      `mapstructure:"s3"`
	Redis        RedisConfig   `mapstructure:"redis"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	PathStyle bool   `mapstructure:"path_style"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type OAuthConfig struct {
	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Scope        string `mapstructure:"scope"`
	// SafetyBuffer is subtracted from expires_in so a token is never sent
	// after the moment the upstream would reject it.
	SafetyBuffer     time.Duration `mapstructure:"safety_buffer"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RefreshRetention time.Duration `mapstructure:"refresh_retention"`
	// Store is "cache" (dedicated cache directory) or "sqlite" (database table).
	Store    string `mapstructure:"store"`
	CacheDir string `mapstructure:"cache_dir"`
}

type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	Burst      int           `mapstructure:"burst"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	EndpointsFile string        `mapstructure:"endpoints_file"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithComponent(ctx, "bootstrap.config")

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("cache_backend", cfg.Cache.Backend),
		slog.String("token_store", cfg.OAuth.Store),
		slog.String("api_base_url", cfg.API.BaseURL),
	)

	return cfg, nil
}

// Validate checks the settings the access layer cannot run without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("api.base_url is required")
	}
	if strings.TrimSpace(c.OAuth.TokenURL) == "" {
		return errors.New("oauth.token_url is required")
	}
	if c.OAuth.SafetyBuffer < 0 {
		return errors.New("oauth.safety_buffer must not be negative")
	}
	if c.Cache.MaxEntrySize <= 0 {
		return errors.New("cache.max_entry_size must be positive")
	}
	if c.API.RateLimit < 0 {
		return errors.New("api.rate_limit must not be negative")
	}

	switch strings.ToLower(c.Cache.Backend) {
	case "file", "sqlite":
	case "s3":
		if c.Cache.S3.Endpoint == "" || c.Cache.S3.Bucket == "" {
			return errors.New("cache.s3.endpoint and cache.s3.bucket are required for the s3 backend")
		}
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return errors.New("cache.redis.addr is required for the redis backend")
		}
		if strings.TrimSpace(c.Cache.Redis.Prefix) == "" {
			return errors.New("cache.redis.prefix must not be empty")
		}
	default:
		return fmt.Errorf("unsupported cache backend %q", c.Cache.Backend)
	}

	switch strings.ToLower(c.OAuth.Store) {
	case "cache", "sqlite":
	default:
		return fmt.Errorf("unsupported token store %q", c.OAuth.Store)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mpsdash")
	v.SetDefault("app.env", "local")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.dir", "./cache/api_responses")
	v.SetDefault("cache.compress", true)
	v.SetDefault("cache.max_entry_size", 5*1024*1024)
	v.SetDefault("cache.default_ttl", 5*time.Minute)
	v.SetDefault("cache.gc_interval", 10*time.Minute)
	v.SetDefault("cache.s3.prefix", "mps-cache/")
	v.SetDefault("cache.redis.prefix", "mps:cache:")

	// Empty defaults register the keys so MPS_* env vars reach Unmarshal.
	v.SetDefault("oauth.token_url", "")
	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.client_secret", "")
	v.SetDefault("oauth.username", "")
	v.SetDefault("oauth.password", "")
	v.SetDefault("api.base_url", "")
	v.SetDefault("cache.s3.endpoint", "")
	v.SetDefault("cache.s3.bucket", "")
	v.SetDefault("cache.s3.access_key", "")
	v.SetDefault("cache.s3.secret_key", "")
	v.SetDefault("cache.redis.addr", "")
	v.SetDefault("cache.redis.password", "")

	v.SetDefault("oauth.scope", "account")
	v.SetDefault("oauth.safety_buffer", 30*time.Second)
	v.SetDefault("oauth.timeout", 30*time.Second)
	v.SetDefault("oauth.refresh_retention", 24*time.Hour)
	v.SetDefault("oauth.store", "cache")
	v.SetDefault("oauth.cache_dir", "./cache/tokens")

	v.SetDefault("api.timeout", 60*time.Second)
	v.SetDefault("api.default_ttl", 5*time.Minute)
	v.SetDefault("api.rate_limit", 0)
	v.SetDefault("api.burst", 1)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./var/mpsdash.sqlite")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.endpoints_file", "./configs/endpoints.toml")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
}
