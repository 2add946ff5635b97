// Package probe runs timed download and upload phases against a speedtest
// server and reports their throughput.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Karleow/SimpleSpeedtest/internal/block"
	"github.com/Karleow/SimpleSpeedtest/internal/clientdata"
	"github.com/Karleow/SimpleSpeedtest/internal/util"
	"github.com/google/uuid"
)

const (
	DefaultReadSize        = 128 << 10
	DefaultUploadSize      = 256 << 10
	DefaultSamplerInterval = 500 * time.Millisecond
)

type Config struct {
	Downloader      Downloader
	Uploader        Uploader
	ReadSize        int
	UploadSize      int
	SamplerInterval time.Duration
	Progress        ProgressFunc
	Logger          util.Logger
}

// Probe runs at most one phase at a time.
type Probe struct {
	cfg    Config
	data   atomic.Pointer[block.Block]
	active atomic.Bool

	mu          sync.Mutex
	current     *session
	stopPending bool
}

func New(cfg Config) *Probe {
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = DefaultReadSize
	}
	if cfg.UploadSize <= 0 {
		cfg.UploadSize = DefaultUploadSize
	}
	if cfg.SamplerInterval <= 0 {
		cfg.SamplerInterval = DefaultSamplerInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Probe{cfg: cfg}
}

// Prepare generates the upload payload block with time-derived seeds.
func (p *Probe) Prepare(ctx context.Context, size, workers int) error {
	if size <= 0 {
		return fmt.Errorf("client data size must be > 0, got %d", size)
	}
	start := time.Now()
	p.cfg.Logger.Info("preparing client data", "size", util.FormatBytes(float64(size)), "workers", workers)
	b, err := clientdata.Prepare(ctx, size, workers, clientdata.TimeSeeds(start))
	if err != nil {
		return err
	}
	p.SetData(b)
	p.cfg.Logger.Info("client data ready", "took", time.Since(start).Round(time.Millisecond))
	return nil
}

func (p *Probe) SetData(b *block.Block) {
	p.data.Store(b)
}

// Ready reports whether a non-empty upload block is loaded.
func (p *Probe) Ready() bool {
	b := p.data.Load()
	return b != nil && b.Len() > 0
}

// Stop ends the running phase as cancelled. The in-flight transfer
// finishes first. A phase that is still starting picks the stop up as soon
// as its session exists.
func (p *Probe) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.current != nil:
		p.current.halt()
	case p.active.Load():
		p.stopPending = true
	}
}

// begin publishes s as the running session and applies a stop requested
// while the phase was starting.
func (p *Probe) begin(s *session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = s
	if p.stopPending {
		p.stopPending = false
		s.halt()
	}
}

// end clears the session and releases the phase slot.
func (p *Probe) end() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
	p.stopPending = false
	p.active.Store(false)
}

type session struct {
	id       uuid.UUID
	kind     Kind
	duration time.Duration
	start    time.Time
	bytes    atomic.Int64
	stopped  atomic.Bool
}

func (s *session) halt() {
	s.stopped.Store(true)
}

// RunPhase transfers data in one direction for duration. Cancelling ctx
// stops the phase and aborts in-flight requests; reaching the deadline
// stops it after the in-flight transfer completes. Both end the phase as
// cancelled; only a download stream that ends on its own completes.
func (p *Probe) RunPhase(ctx context.Context, kind Kind, duration time.Duration) (Result, error) {
	if duration <= 0 {
		return Result{}, fmt.Errorf("phase duration must be > 0, got %s", duration)
	}
	if !p.active.CompareAndSwap(false, true) {
		return Result{}, ErrPhaseActive
	}
	defer p.end()

	data := p.data.Load()
	switch kind {
	case KindDownload:
		if p.cfg.Downloader == nil {
			return Result{}, errors.New("no downloader configured")
		}
	case KindUpload:
		if p.cfg.Uploader == nil {
			return Result{}, errors.New("no uploader configured")
		}
		if data == nil || data.Len() == 0 {
			return Result{}, ErrNotReady
		}
	default:
		return Result{}, fmt.Errorf("unknown phase kind %d", kind)
	}

	s := &session{id: uuid.New(), kind: kind, duration: duration}
	p.begin(s)
	logger := p.cfg.Logger.With("session", s.id.String(), "kind", kind.String())
	logger.Debug("phase started", "duration", duration)

	s.start = time.Now()
	deadline := time.AfterFunc(duration, s.halt)
	defer deadline.Stop()
	stopWatch := context.AfterFunc(ctx, s.halt)
	defer stopWatch()

	var wg sync.WaitGroup
	samplerDone := make(chan struct{})
	if p.cfg.Progress != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.sample(s, samplerDone)
		}()
	}

	var err error
	if kind == KindDownload {
		err = p.download(ctx, s)
	} else {
		err = p.upload(ctx, s, data)
	}
	elapsed := time.Since(s.start)
	close(samplerDone)
	wg.Wait()

	bytes := s.bytes.Load()
	res := Result{
		SessionID:     s.id,
		Kind:          kind,
		Duration:      duration,
		Elapsed:       elapsed,
		Bytes:         bytes,
		ThroughputBps: Throughput(bytes, elapsed),
	}
	if err != nil && ctx.Err() != nil {
		s.halt()
		err = nil
	}
	switch {
	case err != nil:
		res.Outcome = OutcomeFailed
		res.Err = &PhaseError{Kind: kind, Cause: err}
		logger.Warn("phase failed", "bytes", bytes, "elapsed", elapsed, "error", err)
		return res, res.Err
	case s.stopped.Load():
		res.Outcome = OutcomeCancelled
	default:
		res.Outcome = OutcomeCompleted
	}
	logger.Info("phase finished",
		"outcome", res.Outcome.String(),
		"bytes", util.FormatBytes(float64(bytes)),
		"elapsed", elapsed.Round(time.Millisecond),
		"throughput", util.FormatMbps(res.ThroughputBps),
	)
	return res, nil
}

func (p *Probe) download(ctx context.Context, s *session) error {
	body, err := p.cfg.Downloader.Open(ctx)
	if err != nil {
		return err
	}
	defer body.Close()
	buf := make([]byte, p.cfg.ReadSize)
	for !s.stopped.Load() {
		n, err := body.Read(buf)
		if n > 0 {
			s.bytes.Add(int64(n))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Probe) upload(ctx context.Context, s *session, data *block.Block) error {
	cursor, err := block.NewCursor(data, min(p.cfg.UploadSize, data.Len()))
	if err != nil {
		return err
	}
	for !s.stopped.Load() {
		payload := cursor.Next()
		if err := p.cfg.Uploader.Upload(ctx, payload); err != nil {
			return err
		}
		s.bytes.Add(int64(len(payload)))
	}
	return nil
}

// sample publishes instantaneous throughput every SamplerInterval until done
// is closed.
func (p *Probe) sample(s *session, done <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.SamplerInterval)
	defer ticker.Stop()
	last := s.start
	var lastBytes int64
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			total := s.bytes.Load()
			since := now.Sub(last)
			delta := total - lastBytes
			var instant float64
			if since > 0 {
				instant = float64(delta) * 8 / since.Seconds()
			}
			p.cfg.Progress(ProgressSample{
				SessionID:      s.id,
				Kind:           s.kind,
				Elapsed:        now.Sub(s.start),
				Duration:       s.duration,
				TotalBytes:     total,
				BytesSinceLast: delta,
				SinceLast:      since,
				InstantBps:     instant,
			})
			last = now
			lastBytes = total
		}
	}
}
