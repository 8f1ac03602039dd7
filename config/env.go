package config

import (
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Environment variables read by ApplyEnv.
const (
	EnvPort           = "AETHER_PORT"
	EnvRoot           = "AETHER_ROOT"
	EnvListing        = "AETHER_LISTING"
	EnvMaxConnections = "AETHER_MAX_CONNS"
	EnvMetricsAddr    = "AETHER_METRICS_ADDR"
	EnvStatsDB        = "AETHER_STATS_DB"
	EnvLogLevel       = "AETHER_LOG_LEVEL"
)

// LoadDotEnv loads variables from a .env style file into the process
// environment. A missing file is not an error. Variables that are already
// set are left alone.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return errors.Wrapf(err, "load %s", path)
}

// ApplyEnv overrides cfg with the AETHER_* variables found by lookup.
// os.LookupEnv is the usual lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if v, ok := lookup(EnvPort); ok {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return errors.Wrapf(err, "%s", EnvPort)
		}
		cfg.Port = uint16(port)
	}
	if v, ok := lookup(EnvRoot); ok {
		cfg.Root = v
	}
	if v, ok := lookup(EnvListing); ok {
		listing, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%s", EnvListing)
		}
		cfg.Listing = listing
	}
	if v, ok := lookup(EnvMaxConnections); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s", EnvMaxConnections)
		}
		cfg.MaxConnections = n
	}
	if v, ok := lookup(EnvMetricsAddr); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := lookup(EnvStatsDB); ok {
		cfg.StatsDB = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.LogLevel = v
	}
	return nil
}
