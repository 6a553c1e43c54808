// Package config loads service settings from defaults, an optional YAML file,
// environment variables (QRIS_ prefix) and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. QRIS_DATABASE_DSN.
const EnvPrefix = "QRIS"

const placeholderSecret = "CHANGE_ME"

// MaxTokenTTL caps issued JWT lifetimes.
const MaxTokenTTL = 24 * time.Hour

// Config is the complete service configuration.
type Config struct {
	Server struct {
		Address         string        `mapstructure:"address"`
		MaxRequestBytes int64         `mapstructure:"max_request_bytes"`
		CORSOrigins     []string      `mapstructure:"cors_origins"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		TrustProxy      bool          `mapstructure:"trust_proxy"` // honor X-Forwarded-For
	} `mapstructure:"server"`

	Database struct {
		DSN            string        `mapstructure:"dsn"` // empty runs on in-memory storage
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	} `mapstructure:"database"`

	Auth struct {
		JWTSecret string        `mapstructure:"jwt_secret"`
		TokenTTL  time.Duration `mapstructure:"token_ttl"`
	} `mapstructure:"auth"`

	Bootstrap struct {
		AdminEmail    string `mapstructure:"admin_email"`
		AdminPassword string `mapstructure:"admin_password"`
		AdminAPIKey   string `mapstructure:"admin_api_key"`
	} `mapstructure:"bootstrap"`

	RateLimit struct {
		Backend          string        `mapstructure:"backend"` // memory|postgres
		Window           time.Duration `mapstructure:"window"`
		DefaultUserLimit int           `mapstructure:"default_user_limit"`
		AnonymousLimit   int           `mapstructure:"anonymous_limit"`
		CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
	} `mapstructure:"ratelimit"`

	Classifier struct {
		Provider    string        `mapstructure:"provider"` // gemini|static
		APIKey      string        `mapstructure:"api_key"`
		Model       string        `mapstructure:"model"`
		BaseURL     string        `mapstructure:"base_url"`
		Timeout     time.Duration `mapstructure:"timeout"`
		StaticLabel string        `mapstructure:"static_label"`
	} `mapstructure:"classifier"`

	Compare struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"compare"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logs"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.max_request_bytes", int64(40<<20))
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.trust_proxy", false)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.connect_timeout", 5*time.Second)

	v.SetDefault("auth.jwt_secret", placeholderSecret)
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("bootstrap.admin_email", "admin@qris.local")
	v.SetDefault("bootstrap.admin_password", "")
	v.SetDefault("bootstrap.admin_api_key", "")

	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.window", time.Hour)
	v.SetDefault("ratelimit.default_user_limit", 100)
	v.SetDefault("ratelimit.anonymous_limit", 20)
	v.SetDefault("ratelimit.cleanup_interval", 5*time.Minute)

	v.SetDefault("classifier.provider", "gemini")
	v.SetDefault("classifier.api_key", "")
	v.SetDefault("classifier.model", "gemini-1.5-flash")
	v.SetDefault("classifier.base_url", "")
	v.SetDefault("classifier.timeout", 30*time.Second)
	v.SetDefault("classifier.static_label", "retail")

	v.SetDefault("compare.timeout", 10*time.Second)

	v.SetDefault("logs.level", "info")
	v.SetDefault("logs.format", "json")
}

// Flags returns the command-line flags bound into the configuration.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("qris-server", pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.String("addr", "", "listen address (server.address)")
	fs.String("dsn", "", "PostgreSQL DSN (database.dsn)")
	fs.String("log-level", "", "log level (logs.level)")
	return fs
}

var flagKeys = map[string]string{
	"addr":      "server.address",
	"dsn":       "database.dsn",
	"log-level": "logs.level",
}

// Load resolves configuration. fs may be nil; when set it must already be parsed.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfgFile := os.Getenv(EnvPrefix + "_CONFIG_FILE")
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Changed {
			cfgFile = f.Value.String()
		}
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config read error: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/qris-classifier")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("config read error: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	s := strings.TrimSpace(c.Auth.JWTSecret)
	if s == "" || s == placeholderSecret {
		return errors.New("auth.jwt_secret must be set (not empty and not CHANGE_ME)")
	}
	if c.Auth.TokenTTL <= 0 || c.Auth.TokenTTL > MaxTokenTTL {
		return fmt.Errorf("auth.token_ttl must be in (0, %s]", MaxTokenTTL)
	}
	if strings.TrimSpace(c.Server.Address) == "" {
		return errors.New("server.address must not be empty")
	}
	if c.Server.MaxRequestBytes <= 0 {
		return errors.New("server.max_request_bytes must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("ratelimit.window must be positive")
	}
	if c.RateLimit.DefaultUserLimit <= 0 || c.RateLimit.AnonymousLimit <= 0 {
		return errors.New("ratelimit limits must be positive")
	}
	switch c.RateLimit.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("ratelimit.backend %q is not one of memory, postgres", c.RateLimit.Backend)
	}
	switch c.Classifier.Provider {
	case "gemini":
		if strings.TrimSpace(c.Classifier.APIKey) == "" {
			return errors.New("classifier.api_key is required for the gemini provider")
		}
	case "static":
	default:
		return fmt.Errorf("classifier.provider %q is not one of gemini, static", c.Classifier.Provider)
	}
	if c.Classifier.Timeout <= 0 || c.Compare.Timeout <= 0 {
		return errors.New("classifier.timeout and compare.timeout must be positive")
	}
	return nil
}
