// Package config holds the server settings. Values come from command-line
// flags; PDFEDIT_* environment variables supply the flag defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/wudi/pdfedit/observability"
)

const envPrefix = "PDFEDIT_"

// Config is passed explicitly to the server at startup.
type Config struct {
	Addr           string
	UploadDir      string
	ModifiedDir    string
	MaxUploadBytes int64
	RenderDPI      float64
	MaxConnections int
	ShutdownGrace  time.Duration
	LogLevel       string
	LogFormat      string
}

// Default returns the settings the service runs with when nothing is set.
func Default() Config {
	return Config{
		Addr:           ":5000",
		UploadDir:      "uploads",
		ModifiedDir:    "modified",
		MaxUploadBytes: 16 << 20,
		RenderDPI:      150,
		ShutdownGrace:  10 * time.Second,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load parses args over Default, using getenv to override defaults before
// flags are applied. A nil getenv ignores the environment.
func Load(name string, args []string, getenv func(string) string, output io.Writer) (Config, error) {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	cfg := Default()
	if err := cfg.fromEnv(getenv); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags]\n", name)
		fs.PrintDefaults()
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	fs.StringVar(&cfg.UploadDir, "upload-dir", cfg.UploadDir, "Directory for uploaded PDFs")
	fs.StringVar(&cfg.ModifiedDir, "modified-dir", cfg.ModifiedDir, "Directory for edited PDFs")
	fs.Int64Var(&cfg.MaxUploadBytes, "max-upload-bytes", cfg.MaxUploadBytes, "Largest accepted request body")
	fs.Float64Var(&cfg.RenderDPI, "render-dpi", cfg.RenderDPI, "Resolution of page previews")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "Concurrent connection limit (0 = unlimited)")
	fs.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", cfg.ShutdownGrace, "Time allowed for in-flight requests on shutdown")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() != 0 {
		fs.Usage()
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) fromEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	str("ADDR", &c.Addr)
	str("UPLOAD_DIR", &c.UploadDir)
	str("MODIFIED_DIR", &c.ModifiedDir)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	if v := getenv(envPrefix + "MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sMAX_UPLOAD_BYTES: %w", envPrefix, err)
		}
		c.MaxUploadBytes = n
	}
	if v := getenv(envPrefix + "RENDER_DPI"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sRENDER_DPI: %w", envPrefix, err)
		}
		c.RenderDPI = f
	}
	if v := getenv(envPrefix + "MAX_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_CONNECTIONS: %w", envPrefix, err)
		}
		c.MaxConnections = n
	}
	if v := getenv(envPrefix + "SHUTDOWN_GRACE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sSHUTDOWN_GRACE: %w", envPrefix, err)
		}
		c.ShutdownGrace = d
	}
	return nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("addr must not be empty")
	case c.UploadDir == "":
		return errors.New("upload dir must not be empty")
	case c.ModifiedDir == "":
		return errors.New("modified dir must not be empty")
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	case c.RenderDPI <= 0:
		return fmt.Errorf("render dpi must be positive, got %g", c.RenderDPI)
	case c.MaxConnections < 0:
		return fmt.Errorf("max connections must not be negative, got %d", c.MaxConnections)
	case c.ShutdownGrace < 0:
		return fmt.Errorf("shutdown grace must not be negative, got %s", c.ShutdownGrace)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if _, err := observability.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
