// Package config loads channelecho's runtime configuration: a baseline
// overlaid with environment variables (optionally backed by a .env file,
// the same GetEnv[T]-with-default shape ezex-io/gopkg/env uses) and then
// with command-line flags, the two-stage layering
// randomizedcoder-go-ffmpeg-hls-swarm/internal/config uses (its
// flags.go/validate.go split of ParseFlags and Validate).
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ezex-io/gopkg/env"
)

// Config holds channelecho's runtime configuration.
type Config struct {
	ListenAddr        string        `json:"listen_addr"`
	MetricsAddr       string        `json:"metrics_addr"`
	ReceiveBufferSize int           `json:"receive_buffer_size"`
	MaxPackageLength  int64         `json:"max_package_length"`
	QueueCapacity     int           `json:"queue_capacity"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	LogLevel          string        `json:"log_level"`  // debug, info, warn, error
	LogFormat         string        `json:"log_format"` // json, text
}

// Default returns a Config with the example server's baseline settings.
func Default() *Config {
	return &Config{
		ListenAddr:        ":9000",
		MetricsAddr:       ":9090",
		ReceiveBufferSize: 4096,
		MaxPackageLength:  1 << 20,
		QueueCapacity:     256,
		ReadTimeout:       0,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// envSupported narrows env.SupportedTypes to the scalar types Load's
// generic env getter actually needs. env.SupportedTypes has no int64 case,
// so MaxPackageLength is read as an int (Go's int is 64-bit on every
// platform this server targets) and widened below.
type envSupported interface {
	~string | ~int | time.Duration
}

// getEnv wraps env.GetEnv[T], which panics on a malformed value, in a
// recover so Load can report it the same way every other failure in this
// package is reported: as a returned error, not a crash.
func getEnv[T envSupported](key string, def T) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("config: %s: %v", key, r)
		}
	}()
	return env.GetEnv[T](key, env.WithDefault(fmt.Sprint(def))), nil
}

// Load starts from Default, loads envFiles with godotenv if any are given
// (a missing file is not an error, matching env.LoadEnvsFromFile), then
// overlays recognized environment variables. It does not validate; callers
// that also call ParseFlags should validate once, after flags are applied.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := env.LoadEnvsFromFile(envFiles...); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: load env file: %w", err)
		}
	}

	c := Default()
	var err error
	if c.ListenAddr, err = getEnv("CHANNELECHO_LISTEN_ADDR", c.ListenAddr); err != nil {
		return nil, err
	}
	if c.MetricsAddr, err = getEnv("CHANNELECHO_METRICS_ADDR", c.MetricsAddr); err != nil {
		return nil, err
	}
	if c.ReceiveBufferSize, err = getEnv("CHANNELECHO_RECEIVE_BUFFER_SIZE", c.ReceiveBufferSize); err != nil {
		return nil, err
	}
	maxPackageLength, err := getEnv("CHANNELECHO_MAX_PACKAGE_LENGTH", int(c.MaxPackageLength))
	if err != nil {
		return nil, err
	}
	c.MaxPackageLength = int64(maxPackageLength)
	if c.QueueCapacity, err = getEnv("CHANNELECHO_QUEUE_CAPACITY", c.QueueCapacity); err != nil {
		return nil, err
	}
	if c.ReadTimeout, err = getEnv("CHANNELECHO_READ_TIMEOUT", c.ReadTimeout); err != nil {
		return nil, err
	}
	if c.LogLevel, err = getEnv("CHANNELECHO_LOG_LEVEL", c.LogLevel); err != nil {
		return nil, err
	}
	if c.LogFormat, err = getEnv("CHANNELECHO_LOG_FORMAT", c.LogFormat); err != nil {
		return nil, err
	}

	return c, nil
}

// ParseFlags loads the environment baseline via Load(".env"), then overlays
// command-line flags from args (typically os.Args[1:]) on top of it, the
// same env-then-flags layering order the example server lets an operator
// override one-off settings without editing the .env file. It does not
// validate; call Validate on the result.
func ParseFlags(args []string) (*Config, error) {
	c, err := Load(".env")
	if err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("channelecho", flag.ContinueOnError)
	fs.StringVar(&c.ListenAddr, "listen-addr", c.ListenAddr, "TCP address to listen on")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Prometheus /metrics and /healthz address")
	fs.IntVar(&c.ReceiveBufferSize, "receive-buffer-size", c.ReceiveBufferSize, "fill loop read chunk size in bytes")
	fs.Int64Var(&c.MaxPackageLength, "max-package-length", c.MaxPackageLength, "maximum package length in bytes, 0 = unbounded")
	fs.IntVar(&c.QueueCapacity, "queue-capacity", c.QueueCapacity, "package queue capacity")
	fs.DurationVar(&c.ReadTimeout, "read-timeout", c.ReadTimeout, "per-operation transport deadline, 0 = none")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn, or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "json or text")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return c, nil
}

// ValidationError names the field that failed Validate and why.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate rejects configurations the server cannot start with, returning
// every violation at once (via errors.Join) rather than stopping at the
// first, so an operator fixing a .env file doesn't have to re-run Validate
// once per mistake.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, ValidationError{Field: "listen_addr", Message: "must not be empty"})
	}
	if c.ReceiveBufferSize <= 0 {
		errs = append(errs, ValidationError{Field: "receive_buffer_size", Message: "must be positive"})
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, ValidationError{Field: "queue_capacity", Message: "must be positive"})
	}
	if c.MaxPackageLength < 0 {
		errs = append(errs, ValidationError{Field: "max_package_length", Message: "must not be negative"})
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, ValidationError{Field: "log_format", Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", c.LogFormat)})
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{Field: "log_level", Message: fmt.Sprintf("must be debug, info, warn, or error (got %q)", c.LogLevel)})
	}

	return errors.Join(errs...)
}
