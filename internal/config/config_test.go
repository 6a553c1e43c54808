package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func minimalEnv(t *testing.T) {
	t.Setenv("QRIS_AUTH_JWT_SECRET", "test-secret")
	t.Setenv("QRIS_CLASSIFIER_PROVIDER", "static")
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	minimalEnv(t)

	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Address)
	require.EqualValues(t, 40<<20, cfg.Server.MaxRequestBytes)
	require.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	require.Equal(t, "", cfg.Database.DSN)
	require.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	require.Equal(t, "memory", cfg.RateLimit.Backend)
	require.Equal(t, time.Hour, cfg.RateLimit.Window)
	require.Equal(t, 100, cfg.RateLimit.DefaultUserLimit)
	require.Equal(t, 20, cfg.RateLimit.AnonymousLimit)
	require.Equal(t, 30*time.Second, cfg.Classifier.Timeout)
	require.Equal(t, 10*time.Second, cfg.Compare.Timeout)
	require.Equal(t, "admin@qris.local", cfg.Bootstrap.AdminEmail)
}

func TestLoad_EnvOverrides(t *testing.T) {
	minimalEnv(t)
	t.Setenv("QRIS_DATABASE_DSN", "postgres://u:p@db/qris")
	t.Setenv("QRIS_RATELIMIT_WINDOW", "15m")
	t.Setenv("QRIS_RATELIMIT_DEFAULT_USER_LIMIT", "7")

	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, "postgres://u:p@db/qris", cfg.Database.DSN)
	require.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
	require.Equal(t, 7, cfg.RateLimit.DefaultUserLimit)
}

func TestLoad_FileAndFlags(t *testing.T) {
	minimalEnv(t)
	path := filepath.Join(t.TempDir(), "qris.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \":9000\"\nlogs:\n  level: debug\n"), 0o600))

	fs := Flags()
	require.NoError(t, fs.Parse([]string{"--config", path, "--addr", ":9100"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	require.Equal(t, ":9100", cfg.Server.Address, "flag wins over file")
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_MissingFileIsError(t *testing.T) {
	minimalEnv(t)
	t.Setenv("QRIS_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load(nil)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	minimalEnv(t)
	base, err := Load(nil)
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"placeholder secret": func(c *Config) { c.Auth.JWTSecret = "CHANGE_ME" },
		"empty secret":       func(c *Config) { c.Auth.JWTSecret = " " },
		"ttl too long":       func(c *Config) { c.Auth.TokenTTL = 25 * time.Hour },
		"zero ttl":           func(c *Config) { c.Auth.TokenTTL = 0 },
		"bad backend":        func(c *Config) { c.RateLimit.Backend = "redis" },
		"zero limit":         func(c *Config) { c.RateLimit.AnonymousLimit = 0 },
		"bad provider":       func(c *Config) { c.Classifier.Provider = "openai" },
		"gemini without key": func(c *Config) { c.Classifier.Provider = "gemini"; c.Classifier.APIKey = "" },
		"zero timeout":       func(c *Config) { c.Classifier.Timeout = 0 },
	}
	for name, mutate := range cases {
		c := *base
		mutate(&c)
		require.Error(t, c.Validate(), name)
	}

	ok := *base
	ok.Classifier.Provider = "gemini"
	ok.Classifier.APIKey = "k"
	require.NoError(t, ok.Validate())
}
