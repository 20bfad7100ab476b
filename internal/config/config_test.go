package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hyperjs.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":3000", cfg.Server.Addr)
	require.Equal(t, 30*time.Second, cfg.Server.HandlerTimeout.Std())
	require.Equal(t, "handlers", cfg.Handlers.Dir)
	require.Equal(t, ":memory:", cfg.Database.DSN)
	require.Equal(t, "info", cfg.Log.Level)
	require.Zero(t, cfg.Worker.Engine().ExecutionTimeout, "handlers run until they settle unless a deadline is configured")
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
[server]
addr = ":9000"
handler_timeout = "5s"
rate_limit = 10.5
compression = true

[worker]
execution_timeout = "250ms"

[database]
dsn = "file:app.db"
init_scripts = ["schema.sql"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Server.Addr)
	require.Equal(t, 5*time.Second, cfg.Server.HandlerTimeout.Std())
	require.InDelta(t, 10.5, cfg.Server.RateLimit, 0.0001)
	require.True(t, cfg.Server.Compression)
	require.Equal(t, 250*time.Millisecond, cfg.Worker.Engine().ExecutionTimeout)
	require.Equal(t, 128, cfg.Worker.Engine().MemoryLimitMB, "untouched keys keep defaults")
	require.Equal(t, "file:app.db", cfg.Database.DSN)
	require.Equal(t, []string{"schema.sql"}, cfg.Database.InitScripts)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "[server]\naddr = \":9000\"\n")
	t.Setenv("HYPERJS_SERVER_ADDR", ":7000")
	t.Setenv("HYPERJS_SERVER_HANDLER_TIMEOUT", "2s")
	t.Setenv("HYPERJS_HANDLERS_DIR", "/srv/handlers")
	t.Setenv("HYPERJS_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Server.Addr)
	require.Equal(t, 2*time.Second, cfg.Server.HandlerTimeout.Std())
	require.Equal(t, "/srv/handlers", cfg.Handlers.Dir)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	cfg := Default()
	err := Parse([]byte("[server]\nlisten = \":1\"\n"), &cfg)
	require.Error(t, err)
}

func TestParse_BadDuration(t *testing.T) {
	cfg := Default()
	err := Parse([]byte("[server]\nhandler_timeout = \"soon\"\n"), &cfg)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Server.HandlerTimeout = 0
	cfg.Server.RateLimit = 5
	cfg.Server.RateBurst = 0
	cfg.Log.Level = "loud"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "handler_timeout")
	require.Contains(t, err.Error(), "rate_burst")
	require.Contains(t, err.Error(), "log.level")
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	require.Equal(t, 90*time.Second, d.Std())
	b, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(b))
}
