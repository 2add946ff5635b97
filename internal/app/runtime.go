package app

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/Karleow/SimpleSpeedtest/internal/config"
	"github.com/Karleow/SimpleSpeedtest/internal/datapool"
	"github.com/Karleow/SimpleSpeedtest/internal/geoip"
	"github.com/Karleow/SimpleSpeedtest/internal/metrics"
	"github.com/Karleow/SimpleSpeedtest/internal/server"
	"github.com/Karleow/SimpleSpeedtest/internal/util"
)

// Runtime owns one configured server instance: the data pool, the HTTP
// server and their supporting services.
type Runtime struct {
	cfg     config.Config
	ctx     context.Context
	cancel  context.CancelFunc
	logger  util.Logger
	pool    *datapool.Pool
	metrics *metrics.Metrics
	geo     *geoip.Lookup
	server  *server.Server
	wg      sync.WaitGroup
}

// NewRuntime builds a runtime from cfg. A ready previous pool of the same
// size is reused so a reload does not regenerate the block.
func NewRuntime(cfg config.Config, logger util.Logger, previous *datapool.Pool) (*Runtime, error) {
	geo, err := geoip.Open(cfg.GeoIP.Database)
	if err != nil {
		return nil, err
	}
	if geo.Enabled() {
		logger.Info("geoip lookups enabled", "database", cfg.GeoIP.Database)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := metrics.NewMetrics()

	pool := previous
	if pool == nil || !pool.Ready() || pool.Size() != cfg.Pool.SizeBytes {
		pool = datapool.NewPool(cfg.Pool.SizeBytes, cfg.Pool.Workers, logger)
	} else {
		logger.Info("reusing prepared random data", "size", util.FormatBytes(float64(pool.Size())))
		m.SetPool(true, pool.Size(), 0)
	}

	return &Runtime{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		pool:    pool,
		metrics: m,
		geo:     geo,
		server:  server.New(cfg, pool, m, geo, logger),
	}, nil
}

func (r *Runtime) Start() error {
	r.metrics.Start(r.ctx.Done())
	if !r.pool.Ready() {
		if r.cfg.Pool.ShouldBlockStartup() {
			if err := r.preparePool(); err != nil {
				return err
			}
		} else {
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				if err := r.preparePool(); err != nil && !errors.Is(err, context.Canceled) {
					r.logger.Warn("serving degraded streams until restart", "error", err)
				}
			}()
		}
	}
	return r.server.Start(r.ctx)
}

func (r *Runtime) preparePool() error {
	start := time.Now()
	if err := r.pool.Prepare(r.ctx); err != nil {
		r.metrics.SetPool(false, 0, 0)
		return err
	}
	r.metrics.SetPool(true, r.pool.Size(), time.Since(start))
	return nil
}

func (r *Runtime) Stop() {
	r.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Server.ShutdownTimeout.Duration())
	if err := r.server.Shutdown(ctx); err != nil {
		r.logger.Warn("http server shutdown", "error", err)
	}
	cancel()
	r.wait()
	if err := r.geo.Close(); err != nil {
		r.logger.Warn("close geoip database", "error", err)
	}
}

func (r *Runtime) wait() {
	r.wg.Wait()
}

// Addr is the bound HTTP address once started.
func (r *Runtime) Addr() net.Addr {
	return r.server.Addr()
}

func (r *Runtime) Pool() *datapool.Pool {
	return r.pool
}
