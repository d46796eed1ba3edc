package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/indigo-web/awsgi"
	"github.com/indigo-web/awsgi/config"
	"github.com/indigo-web/awsgi/internal/demo"
	"github.com/indigo-web/awsgi/websocket"
	"github.com/indigo-web/awsgi/wsgi"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "dev"

const banner = `
  __ ___      _____  __ _(_)
 / _' \ \ /\ / / __|/ _' | |
| (_| |\ V  V /\__ \ (_| | |
 \__,_| \_/\_/ |___/\__, |_|
                    |___/
`

type options struct {
	configPath string
	host       string
	port       int
	workers    int
	app        string
	kind       string
	logLevel   string
}

func parseFlags(args []string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("awsgi", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to a YAML or TOML config file")
	fs.StringVar(&opts.host, "host", "localhost", "host to listen on")
	fs.IntVar(&opts.port, "port", 8080, "port to listen on")
	fs.IntVar(&opts.workers, "workers", 0, "size of the blocking applications pool (overrides the config)")
	fs.StringVar(&opts.app, "app", "mux", "application to serve: "+strings.Join(demo.Names, ", "))
	fs.StringVar(&opts.kind, "kind", "cooperative", "how the application is run: cooperative or blocking")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level (overrides the config)")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	switch {
	case opts.port < 0 || opts.port > 65535:
		return opts, fmt.Errorf("bad port: %d", opts.port)
	case wsgi.ParseKind(opts.kind) == 0:
		return opts, fmt.Errorf("bad application kind: %q", opts.kind)
	}

	return opts, nil
}

// loadConfig reads the config file, if any, and applies the flags on top of it.
func loadConfig(opts options) (*config.Config, error) {
	cfg := config.Default()
	if len(opts.configPath) > 0 {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}

	if opts.workers > 0 {
		cfg.Workers.Size = opts.workers
	}

	if len(opts.logLevel) > 0 {
		cfg.Log.Level = opts.logLevel
	}

	return cfg, cfg.Validate()
}

func newLogger(cfg config.Log) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zcfg zap.Config
	switch cfg.Format {
	case "json":
		zcfg = zap.NewProductionConfig()
	default:
		zcfg = zap.NewDevelopmentConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}

		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("setting up logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	addr := net.JoinHostPort(opts.host, strconv.Itoa(opts.port))
	app := awsgi.New(addr).Tune(cfg).Logger(logger)

	if cfg.TLS.Port != 0 {
		tlsAddr := net.JoinHostPort(opts.host, strconv.Itoa(int(cfg.TLS.Port)))
		if len(cfg.TLS.CertFile) > 0 {
			app.HTTPS(tlsAddr, cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			app.AutoHTTPS(tlsAddr, cfg.TLS.Autocert...)
		}
	}

	application, err := demo.New(opts.app, websocket.NewOptions(cfg.WebSocket, logger, app.Metrics()))
	if err != nil {
		return err
	}

	handler := wsgi.Handler{Kind: wsgi.ParseKind(opts.kind), App: application}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app.NotifyOnStart(func() {
		printBanner(app, opts, cfg)
	})

	errs := make(chan error, 1)
	go func() {
		errs <- app.Serve(handler)
	}()

	select {
	case err = <-errs:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		app.Stop()

		return <-errs
	}
}

func printBanner(app *awsgi.App, opts options, cfg *config.Config) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	_, _ = cyan.Print(banner)
	_, _ = gray.Printf("    version: %s\n\n", version)

	for _, addr := range app.Addrs() {
		_, _ = green.Printf("    listening on %s\n", addr)
	}

	_, _ = gray.Printf("    application: %s (%s), workers: %d\n", opts.app, opts.kind, cfg.Workers.Size)
	if len(cfg.Metrics.Addr) > 0 {
		_, _ = gray.Printf("    metrics: http://%s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}

	fmt.Println()
}
