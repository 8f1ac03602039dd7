package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boltdb/bolt"
	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/pelageech/aether/config"
	"github.com/pelageech/aether/db"
	"github.com/pelageech/aether/metrics"
	"github.com/pelageech/aether/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const (
	dotEnvPath = ".env"

	statsDBMode    = 0600
	statsDBTimeout = time.Second
)

// Flag variables.
var (
	port            uint16
	root            string
	configPath      string
	listing         bool
	maxConns        int
	metricsAddr     string
	statsDB         string
	logLevel        string
	shutdownTimeout time.Duration
)

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newCommand builds the root command and binds its flags to the flag
// variables.
func newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aether",
		Short: "Serves the AETHER site from a directory over HTTP.",
		Long: "Serves the files of a directory over HTTP. Without flags the directory " +
			"holding the executable is served on port 8000.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(config.DefaultLogLevel)

			cfg, err := loadConfig(cmd, os.LookupEnv)
			if err != nil {
				logger.Error("Failed to load configuration", "err", err)
				return err
			}
			logger.SetLevel(parseLevel(cfg.LogLevel))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, logger); err != nil {
				logger.Error("Server stopped", "err", err)
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Uint16VarP(&port, "port", "p", config.DefaultPort,
		"TCP port to listen on.")
	flags.StringVarP(&root, "root", "d", "",
		"Document root. Defaults to the directory holding the executable.")
	flags.StringVarP(&configPath, "config", "c", "",
		"Config file (.json, .toml, .yaml or .yml).")
	flags.BoolVar(&listing, "listing", true,
		"List directories that have no index file.")
	flags.IntVar(&maxConns, "max-conns", 0,
		"Maximum simultaneous connections, 0 for no limit.")
	flags.StringVar(&metricsAddr, "metrics-addr", "",
		"Address of the admin listener serving /metrics and /stats, e.g. 127.0.0.1:9100.")
	flags.StringVar(&statsDB, "stats-db", "",
		"Bolt database file to count page hits in.")
	flags.StringVar(&logLevel, "log-level", config.DefaultLogLevel,
		"Log level: debug, info, warn or error.")
	flags.DurationVar(&shutdownTimeout, "shutdown-timeout", config.DefaultShutdownTimeout,
		"How long to wait for in-flight requests on Ctrl+C, 0 to wait forever.")
	return cmd
}

// loadConfig layers the configuration: defaults, then the config file,
// then the environment (after .env is loaded), then the flags that were
// set explicitly.
func loadConfig(cmd *cobra.Command, lookup func(string) (string, bool)) (*config.Config, error) {
	if err := config.LoadDotEnv(dotEnvPath); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if configPath != "" {
		if err := config.ReadFile(configPath, cfg); err != nil {
			return nil, err
		}
	}
	if err := config.ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("root") {
		cfg.Root = root
	}
	if flags.Changed("listing") {
		cfg.Listing = listing
	}
	if flags.Changed("max-conns") {
		cfg.MaxConnections = maxConns
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if flags.Changed("stats-db") {
		cfg.StatsDB = statsDB
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("shutdown-timeout") {
		cfg.ShutdownTimeout = config.Duration(shutdownTimeout)
	}
	return cfg, nil
}

func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "aether",
	})
	logger.SetLevel(parseLevel(level))
	return logger
}

func parseLevel(level string) log.Level {
	switch level {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// run wires the optional metrics and stats, binds the ports, prints the
// banner and serves until ctx is done.
func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	opts := []server.Option{server.WithLogger(logger)}

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.NewMetrics(prometheus.NewRegistry())
		go m.Observe(ctx)
		opts = append(opts, server.WithMetrics(m))
	}

	if cfg.StatsDB != "" {
		logger.Info("Opening stats database", "path", cfg.StatsDB)
		stats := &db.Service{}
		stats.SetLogger(logger)
		if m != nil {
			stats.OnDrop(m.HitsDropped.Inc)
		}
		if err := stats.Connect(cfg.StatsDB, statsDBMode, &bolt.Options{Timeout: statsDBTimeout}); err != nil {
			return err
		}
		defer func() {
			if err := stats.Close(); err != nil {
				logger.Error("Failed to close stats database", "err", err)
			}
		}()
		opts = append(opts, server.WithStats(stats))
	}

	s, err := server.New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := s.Listen(); err != nil {
		return err
	}

	logger.Debug("Serving", "root", s.Root(), "addr", s.Addr(), "listing", cfg.Listing)
	if a := s.AdminAddr(); a != "" {
		logger.Info("Admin listener started", "addr", a)
	}
	printBanner(os.Stdout, s.Addr())

	return s.Serve(ctx)
}

// printBanner announces the bound port and how to stop the server.
func printBanner(w io.Writer, addr string) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		p = addr
	}
	bold := color.New(color.FgCyan, color.Bold)
	fmt.Fprintf(w, "Serving AETHER at %s\n", bold.Sprintf("http://localhost:%s", p))
	fmt.Fprintln(w, "Press Ctrl+C to stop.")
}
