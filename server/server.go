// Package server serves the files of a single document root over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pelageech/aether/config"
	"github.com/pelageech/aether/db"
	"github.com/pelageech/aether/docroot"
	"github.com/pelageech/aether/metrics"
	"github.com/pelageech/aether/timer"
	"golang.org/x/net/netutil"
)

// Server is a static file server bound to one document root.
type Server struct {
	config  *config.Config
	root    *docroot.Root
	logger  *log.Logger
	metrics *metrics.Metrics
	stats   *db.Service

	httpServer  *http.Server
	adminServer *http.Server

	mu            sync.Mutex
	listener      net.Listener
	adminListener net.Listener
}

// Option configures optional parts of a Server.
type Option func(*Server)

// WithLogger sets the logger. log.Default() is used otherwise.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics records every request in m and exposes m on the admin
// listener.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithStats records a hit for every successfully served path.
func WithStats(stats *db.Service) Option {
	return func(s *Server) {
		s.stats = stats
	}
}

// New validates cfg and resolves the document root. Any problem is
// reported as a *ConfigError.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}

	root, err := docroot.New(cfg.Root)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	s := &Server{
		config: cfg,
		root:   root,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Default()
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout.Std(),
		ReadTimeout:       cfg.ReadTimeout.Std(),
		IdleTimeout:       cfg.IdleTimeout.Std(),
	}
	if cfg.MetricsAddr != "" {
		s.adminServer = &http.Server{
			Handler:           s.AdminHandler(),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout.Std(),
		}
	}

	return s, nil
}

// Root returns the absolute document root.
func (s *Server) Root() string {
	return s.root.Path()
}

// Handler returns the document handler wrapped with request tracking.
func (s *Server) Handler() http.Handler {
	files := &fileHandler{
		root:       s.root,
		listing:    s.config.Listing,
		indexFiles: s.config.IndexFiles,
		logger:     s.logger,

		writeTimeout: s.config.WriteTimeout.Std(),
	}
	if s.stats != nil {
		files.hit = s.stats.Record
	}

	savers := []timer.Saver{timer.LogSaver(s.logger)}
	if s.metrics != nil {
		savers = append(savers, s.metrics.Saver())
	}

	var h http.Handler = timer.MakeRequestTimeTracker(files, savers...)
	if s.metrics != nil {
		h = s.metrics.InFlight(h)
	}
	return h
}

// Listen binds the document port and, if configured, the admin address.
// It never retries on another port. Failures are *BindError.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}

	addr := net.JoinHostPort("", strconv.Itoa(int(s.config.Port)))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}
	if s.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConnections)
	}

	if s.adminServer != nil {
		aln, err := net.Listen("tcp", s.config.MetricsAddr)
		if err != nil {
			_ = ln.Close()
			return &BindError{Addr: s.config.MetricsAddr, Err: err}
		}
		s.adminListener = aln
	}

	s.listener = ln
	return nil
}

// Addr returns the bound document address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// AdminAddr returns the bound admin address, or "" when there is none.
func (s *Server) AdminAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adminListener == nil {
		return ""
	}
	return s.adminListener.Addr().String()
}

// Serve accepts connections until ctx is cancelled, then stops accepting,
// waits up to ShutdownTimeout for in-flight requests and returns nil.
// Listen is called first if it has not been.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.httpServer.Serve(s.listener)
	}()
	running := 1
	if s.adminServer != nil {
		go func() {
			errCh <- s.adminServer.Serve(s.adminListener)
		}()
		running++
	}

	var serveErr error
	select {
	case err := <-errCh:
		running--
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("Shutting down", "timeout", s.config.ShutdownTimeout)
	}

	s.shutdown()
	for ; running > 0; running-- {
		<-errCh
	}
	return serveErr
}

func (s *Server) shutdown() {
	ctx := context.Background()
	if t := s.config.ShutdownTimeout.Std(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	servers := []*http.Server{s.httpServer}
	if s.adminServer != nil {
		servers = append(servers, s.adminServer)
	}
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("Graceful shutdown failed, closing connections", "err", err)
			_ = srv.Close()
		}
	}
}
