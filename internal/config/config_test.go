package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	os.Setenv("LANTERN_STORE_DSN", "postgres://localhost/lanternchat")
	os.Setenv("LANTERN_TOKEN_SECRET", "0123456789abcdef")
	defer os.Unsetenv("LANTERN_STORE_DSN")
	defer os.Unsetenv("LANTERN_TOKEN_SECRET")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":9500", cfg.ListenAddr)
	require.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	require.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, "postgres", cfg.Store.Driver)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "console", cfg.Logging.Format)
	require.Equal(t, 24*time.Hour, cfg.Token.Lifetime)
}

func TestLoadEnvOverride(t *testing.T) {
	os.Setenv("LANTERN_LISTEN_ADDR", ":7000")
	os.Setenv("LANTERN_STORE_DRIVER", "mysql")
	os.Setenv("LANTERN_STORE_DSN", "user:pass@tcp(localhost:3306)/lanternchat")
	os.Setenv("LANTERN_TOKEN_SECRET", "0123456789abcdef")
	defer os.Unsetenv("LANTERN_LISTEN_ADDR")
	defer os.Unsetenv("LANTERN_STORE_DRIVER")
	defer os.Unsetenv("LANTERN_STORE_DSN")
	defer os.Unsetenv("LANTERN_TOKEN_SECRET")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.ListenAddr)
	require.Equal(t, "mysql", cfg.Store.Driver)
}

func TestLoadMissingRequiredFieldFails(t *testing.T) {
	os.Unsetenv("LANTERN_STORE_DSN")
	os.Unsetenv("LANTERN_TOKEN_SECRET")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRejectsShortTokenSecret(t *testing.T) {
	os.Setenv("LANTERN_STORE_DSN", "postgres://localhost/lanternchat")
	os.Setenv("LANTERN_TOKEN_SECRET", "short")
	defer os.Unsetenv("LANTERN_STORE_DSN")
	defer os.Unsetenv("LANTERN_TOKEN_SECRET")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRejectsUnknownStoreDriver(t *testing.T) {
	os.Setenv("LANTERN_STORE_DRIVER", "sqlite")
	os.Setenv("LANTERN_STORE_DSN", "file::memory:")
	os.Setenv("LANTERN_TOKEN_SECRET", "0123456789abcdef")
	defer os.Unsetenv("LANTERN_STORE_DRIVER")
	defer os.Unsetenv("LANTERN_STORE_DSN")
	defer os.Unsetenv("LANTERN_TOKEN_SECRET")

	_, err := Load("")
	require.Error(t, err)
}
