package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads a configuration file and overlays it on top of Default(). The format is
// chosen by the file extension: .yaml/.yml or .toml. Environment variables in the
// form of ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	expanded := expandEnvVars(string(data))

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal([]byte(expanded), cfg)
	case ".toml":
		err = toml.Unmarshal([]byte(expanded), cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err = parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate reports the first setting that can't be served.
func (c *Config) Validate() error {
	switch {
	case c.NET.ReadBufferSize <= 0:
		return errors.New("net.read_buffer_size must be positive")
	case c.NET.ReadTimeout < 0:
		return errors.New("net.read_timeout must not be negative")
	case c.NET.AcceptLoopInterruptPeriod <= 0:
		return errors.New("net.accept_loop_interrupt_period must be positive")
	case c.Workers.Size <= 0:
		return errors.New("workers.size must be positive")
	case c.Headers.Number.Maximal <= 0:
		return errors.New("headers.number.maximal must be positive")
	case c.Headers.Space.Maximal <= 0:
		return errors.New("headers.space.maximal must be positive")
	case c.Headers.RequestLineSize.Maximal <= 0:
		return errors.New("headers.request_line_size.maximal must be positive")
	case (c.TLS.CertFile == "") != (c.TLS.KeyFile == ""):
		return errors.New("tls.cert_file and tls.key_file must be set together")
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be either json or console, got %q", c.Log.Format)
	}

	return nil
}

func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) (err error) {
	if raw := cfg.NET.ReadTimeoutRaw; raw != "" {
		if cfg.NET.ReadTimeout, err = time.ParseDuration(raw); err != nil {
			return fmt.Errorf("parsing net.read_timeout %q: %w", raw, err)
		}
	}

	if raw := cfg.NET.AcceptLoopInterruptPeriodRaw; raw != "" {
		if cfg.NET.AcceptLoopInterruptPeriod, err = time.ParseDuration(raw); err != nil {
			return fmt.Errorf("parsing net.accept_loop_interrupt_period %q: %w", raw, err)
		}
	}

	return nil
}
