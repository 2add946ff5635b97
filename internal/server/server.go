// Package server exposes the download stream, the upload sink and the
// operational endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Karleow/SimpleSpeedtest/internal/config"
	"github.com/Karleow/SimpleSpeedtest/internal/datapool"
	"github.com/Karleow/SimpleSpeedtest/internal/geoip"
	"github.com/Karleow/SimpleSpeedtest/internal/metrics"
	"github.com/Karleow/SimpleSpeedtest/internal/util"
	"golang.org/x/net/netutil"
)

const readHeaderTimeout = 10 * time.Second

type Server struct {
	cfg     config.Config
	pool    *datapool.Pool
	metrics *metrics.Metrics
	geo     *geoip.Lookup
	status  *StatusStore
	logger  util.Logger
	conns   *connRegistry

	server   *http.Server
	listener net.Listener

	done     chan struct{}
	doneOnce sync.Once
}

func New(cfg config.Config, pool *datapool.Pool, m *metrics.Metrics, geo *geoip.Lookup, logger util.Logger) *Server {
	done := make(chan struct{})
	hub := NewStatusHub(done)
	return &Server{
		cfg:     cfg,
		pool:    pool,
		metrics: m,
		geo:     geo,
		status:  NewStatusStore(hub, m),
		logger:  logger,
		conns:   newConnRegistry(),
		done:    done,
	}
}

// Handler returns the route table. It is usable without Start, which only
// adds the listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/download", s.handleDownload)
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.cfg.Metrics.IsEnabled() {
		mux.HandleFunc("/metrics", s.handleMetrics)
	}
	if s.cfg.Status.IsEnabled() {
		mux.HandleFunc("/status", s.handleStatus)
	}
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	addr := util.NetJoin(s.cfg.Server.BindAddr, s.cfg.Server.BindPort)
	base, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	var ln net.Listener = &trackingListener{Listener: base, conns: s.conns}
	if s.cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.Server.MaxConnections)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ConnContext:       s.conns.connContext,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	attrs := []any{"addr", ln.Addr().String(), "max_connections", s.cfg.Server.MaxConnections}
	if rate := s.cfg.Stream.MaxRateBits; rate > 0 {
		attrs = append(attrs, "stream_max_rate", util.FormatBitsPerSecond(float64(rate)))
	}
	s.logger.Info("http server started", attrs...)
	return nil
}

// Addr is the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting connections, then cancels open streams once ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Close()
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return s.server.Close()
	}
	return err
}

// Close releases the status hub. Handlers remain usable for tests.
func (s *Server) Close() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSON(w, http.StatusMethodNotAllowed, healthResponse{Ok: false, Error: "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Ok: true, PoolReady: s.pool.Ready()})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.metrics.Handler(w, r)
}

type healthResponse struct {
	Ok        bool   `json:"ok"`
	PoolReady bool   `json:"pool_ready"`
	Error     string `json:"error,omitempty"`
}
