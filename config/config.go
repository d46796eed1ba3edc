package config

import (
	"time"
)

type (
	HeadersNumber struct {
		Maximal int `yaml:"maximal" toml:"maximal"`
	}

	HeadersSpace struct {
		Maximal int `yaml:"maximal" toml:"maximal"`
	}

	URIRequestLineSize struct {
		Maximal int `yaml:"maximal" toml:"maximal"`
	}
)

type (
	Headers struct {
		// Number limits how many header fields a single request may carry.
		Number HeadersNumber `yaml:"number" toml:"number"`
		// Space limits the memory occupied by all the header names and values of a
		// single request.
		Space HeadersSpace `yaml:"space" toml:"space"`
		// RequestLineSize limits the request line (method, target and protocol).
		RequestLineSize URIRequestLineSize `yaml:"request_line_size" toml:"request_line_size"`
	}

	Body struct {
		// MaxSize is the maximal number of request body bytes retained for a single
		// request. Zero disables the limit: the whole body is kept in memory for the
		// request's lifetime, whatever its size is.
		MaxSize uint64 `yaml:"max_size" toml:"max_size"`
	}

	NET struct {
		// ReadBufferSize is a size of buffer in bytes which will be used to read from
		// socket
		ReadBufferSize int `yaml:"read_buffer_size" toml:"read_buffer_size"`
		// ReadTimeout controls the maximal idle period while the connection speaks HTTP.
		// Zero disables it. Upgraded connections are never affected.
		ReadTimeout time.Duration `yaml:"-" toml:"-"`
		// AcceptLoopInterruptPeriod controls how often will the Accept() call be interrupted
		// in order to check whether it's time to stop. Defaults to 5 seconds.
		AcceptLoopInterruptPeriod time.Duration `yaml:"-" toml:"-"`
		// NoDelay disables Nagle's algorithm on accepted connections. Failing to do so
		// is never fatal.
		NoDelay bool `yaml:"no_delay" toml:"no_delay"`

		ReadTimeoutRaw               string `yaml:"read_timeout" toml:"read_timeout"`
		AcceptLoopInterruptPeriodRaw string `yaml:"accept_loop_interrupt_period" toml:"accept_loop_interrupt_period"`
	}

	Workers struct {
		// Size is the number of blocking applications allowed to run at the same time.
		// Cooperative applications are not bounded by it.
		Size int `yaml:"size" toml:"size"`
	}

	WebSocket struct {
		// ReadLimit is the maximal size of a single message. Bigger messages close the
		// connection with 1009.
		ReadLimit int64 `yaml:"read_limit" toml:"read_limit"`
		// Subprotocols are offered to clients in the order of preference.
		Subprotocols []string `yaml:"subprotocols" toml:"subprotocols"`
		// OriginPatterns authorize cross-origin handshakes. The request host is
		// always authorized.
		OriginPatterns []string `yaml:"origin_patterns" toml:"origin_patterns"`
		// InsecureSkipVerify disables the origin check completely.
		InsecureSkipVerify bool `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
	}

	TLS struct {
		CertFile string `yaml:"cert_file" toml:"cert_file"`
		KeyFile  string `yaml:"key_file" toml:"key_file"`
		// Port is the port the TLS listener binds to. Zero disables TLS.
		Port uint16 `yaml:"port" toml:"port"`
		// Autocert lists domains to obtain certificates for via ACME. Used only when
		// no certificate files are set.
		Autocert []string `yaml:"autocert" toml:"autocert"`
		CacheDir string   `yaml:"cache_dir" toml:"cache_dir"`
	}

	Log struct {
		Level  string `yaml:"level" toml:"level"`
		Format string `yaml:"format" toml:"format"`
	}

	Metrics struct {
		// Addr is where the prometheus endpoint listens. Empty disables it.
		Addr string `yaml:"addr" toml:"addr"`
		Path string `yaml:"path" toml:"path"`
	}
)

// Config holds settings used across the gateway, mainly restrictions, limitations
// and pre-allocations.
//
// You must ALWAYS modify defaults (returned via Default()) and NEVER try to initialize the
// config manually, because most likely this will result in ambiguous errors.
type Config struct {
	Headers   Headers   `yaml:"headers" toml:"headers"`
	Body      Body      `yaml:"body" toml:"body"`
	NET       NET       `yaml:"net" toml:"net"`
	Workers   Workers   `yaml:"workers" toml:"workers"`
	WebSocket WebSocket `yaml:"websocket" toml:"websocket"`
	TLS       TLS       `yaml:"tls" toml:"tls"`
	Log       Log       `yaml:"log" toml:"log"`
	Metrics   Metrics   `yaml:"metrics" toml:"metrics"`
}

// Default returns default config.
func Default() *Config {
	return &Config{
		Headers: Headers{
			Number: HeadersNumber{
				Maximal: 100,
			},
			Space: HeadersSpace{
				Maximal: 64 * 1024, // there might be extremely long cookies.
			},
			RequestLineSize: URIRequestLineSize{
				Maximal: 16 * 1024,
			},
		},
		Body: Body{
			MaxSize: 0,
		},
		NET: NET{
			ReadBufferSize:            4 * 1024,
			ReadTimeout:               0,
			AcceptLoopInterruptPeriod: 5 * time.Second,
			NoDelay:                   true,
		},
		Workers: Workers{
			Size: 1,
		},
		WebSocket: WebSocket{
			ReadLimit: 32 * 1024,
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
		Metrics: Metrics{
			Path: "/metrics",
		},
	}
}
