// Package config describes how the server is configured and where the
// settings come from: built-in defaults, a JSON/TOML/YAML file, AETHER_*
// environment variables and finally command line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the port the site is served on unless configured otherwise.
	DefaultPort = 8000

	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second

	DefaultLogLevel = "info"
)

// DefaultIndexFiles are tried in order when a directory is requested.
var DefaultIndexFiles = []string{"index.html", "index.htm"}

// Config holds every setting of the server.
type Config struct {
	Port       uint16   `json:"port" toml:"port" yaml:"port"`
	Root       string   `json:"root" toml:"root" yaml:"root" validate:"required"`
	Listing    bool     `json:"listing" toml:"listing" yaml:"listing"`
	IndexFiles []string `json:"index_files" toml:"index_files" yaml:"index_files" validate:"dive,required,excludesall=/\\"`

	ReadHeaderTimeout Duration `json:"read_header_timeout" toml:"read_header_timeout" yaml:"read_header_timeout" validate:"gte=0"`
	ReadTimeout       Duration `json:"read_timeout" toml:"read_timeout" yaml:"read_timeout" validate:"gte=0"`
	// WriteTimeout bounds each chunk of a response body, so a download of
	// any size completes as long as the client keeps reading.
	WriteTimeout      Duration `json:"write_timeout" toml:"write_timeout" yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout       Duration `json:"idle_timeout" toml:"idle_timeout" yaml:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout   Duration `json:"shutdown_timeout" toml:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`

	MaxConnections int `json:"max_connections" toml:"max_connections" yaml:"max_connections" validate:"gte=0"`

	MetricsAddr string `json:"metrics_addr" toml:"metrics_addr" yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	StatsDB     string `json:"stats_db" toml:"stats_db" yaml:"stats_db"`

	LogLevel string `json:"log_level" toml:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration used when nothing else is given.
// The root is the directory holding the running executable.
func Default() *Config {
	return &Config{
		Port:              DefaultPort,
		Root:              DefaultRoot(),
		Listing:           true,
		IndexFiles:        append([]string(nil), DefaultIndexFiles...),
		ReadHeaderTimeout: Duration(DefaultReadHeaderTimeout),
		ReadTimeout:       Duration(DefaultReadTimeout),
		WriteTimeout:      Duration(DefaultWriteTimeout),
		IdleTimeout:       Duration(DefaultIdleTimeout),
		ShutdownTimeout:   Duration(DefaultShutdownTimeout),
		LogLevel:          DefaultLogLevel,
	}
}

// DefaultRoot returns the directory of the executable, or "." if it
// cannot be determined.
func DefaultRoot() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

var validate = validator.New()

// Validate checks the configuration. Only the first problem of each field
// is reported.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", e.Namespace(), e.Tag(), e.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// Duration is a time.Duration read from strings such as "5s" or "1m30s".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It is used by the JSON
// and TOML decoders.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}
