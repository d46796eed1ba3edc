package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/indigo-web/awsgi/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		opts, err := parseFlags(nil)
		require.NoError(t, err)
		require.Equal(t, "localhost", opts.host)
		require.Equal(t, 8080, opts.port)
		require.Equal(t, "mux", opts.app)
		require.Equal(t, "cooperative", opts.kind)
	})

	t.Run("overrides", func(t *testing.T) {
		opts, err := parseFlags([]string{
			"-host", "0.0.0.0", "-port", "9000", "-workers", "8", "-kind", "blocking", "-app", "echo",
		})
		require.NoError(t, err)
		require.Equal(t, "0.0.0.0", opts.host)
		require.Equal(t, 9000, opts.port)
		require.Equal(t, 8, opts.workers)
		require.Equal(t, "blocking", opts.kind)
		require.Equal(t, "echo", opts.app)
	})

	t.Run("bad values", func(t *testing.T) {
		_, err := parseFlags([]string{"-kind", "threaded"})
		require.Error(t, err)
		_, err = parseFlags([]string{"-port", "70000"})
		require.Error(t, err)
	})
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "awsgi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers:\n  size: 4\nlog:\n  level: warn\n  format: json\n"), 0600))

	cfg, err := loadConfig(options{configPath: path})
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Workers.Size)
	require.Equal(t, "warn", cfg.Log.Level)

	cfg, err = loadConfig(options{configPath: path, workers: 16, logLevel: "debug"})
	require.NoError(t, err)
	require.Equal(t, 16, cfg.Workers.Size)
	require.Equal(t, "debug", cfg.Log.Level)

	logger, err := newLogger(cfg.Log)
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = loadConfig(options{configPath: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger(config.Log{Level: "verbose", Format: "console"})
	require.Error(t, err)
}
