// Package datapool builds the server-side random block served by /download.
package datapool

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Karleow/SimpleSpeedtest/internal/block"
	"github.com/Karleow/SimpleSpeedtest/internal/util"
)

// Source supplies high-entropy bytes for one shard.
type Source func(dst []byte) error

// CryptoSource fills dst from crypto/rand.
func CryptoSource(dst []byte) error {
	_, err := io.ReadFull(rand.Reader, dst)
	return err
}

// Prepare generates totalBytes of random data on workerCount concurrent
// workers. Shards are totalBytes/workerCount bytes, the last one taking the
// remainder.
func Prepare(ctx context.Context, totalBytes, workerCount int) (*block.Block, error) {
	return PrepareWithSource(ctx, totalBytes, workerCount, CryptoSource)
}

// PrepareWithSource is Prepare with a caller-supplied entropy source.
func PrepareWithSource(ctx context.Context, totalBytes, workerCount int, src Source) (*block.Block, error) {
	if totalBytes < 0 {
		return nil, fmt.Errorf("total bytes must be >= 0, got %d", totalBytes)
	}
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	shards := block.Partition(totalBytes, workerCount)
	return block.Fill(ctx, totalBytes, shards, workerCount, func(ctx context.Context, _ block.Shard, dst []byte) error {
		return src(dst)
	})
}

// Pool publishes the prepared block once generation has succeeded. Until then
// Block returns nil and readers fall back to on-demand generation.
type Pool struct {
	size    int
	workers int
	source  Source
	logger  util.Logger
	current atomic.Pointer[block.Block]
}

func NewPool(size, workers int, logger util.Logger) *Pool {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &Pool{
		size:    size,
		workers: workers,
		source:  CryptoSource,
		logger:  logger,
	}
}

// SetSource replaces the entropy source. It must be called before Prepare.
func (p *Pool) SetSource(src Source) {
	p.source = src
}

// Prepare builds the block and publishes it. A failed attempt leaves the pool
// in its previous state.
func (p *Pool) Prepare(ctx context.Context) error {
	p.logger.Info("preparing random data", "size", util.FormatBytes(float64(p.size)), "workers", p.workers)
	start := time.Now()
	b, err := PrepareWithSource(ctx, p.size, p.workers, p.source)
	if err != nil {
		p.logger.Error("random data preparation failed", "error", err)
		return err
	}
	p.current.Store(b)
	p.logger.Info("random data ready", "size", util.FormatBytes(float64(b.Len())), "took", time.Since(start).Round(time.Millisecond))
	return nil
}

// Block returns the published block, or nil when none is ready.
func (p *Pool) Block() *block.Block {
	return p.current.Load()
}

func (p *Pool) Ready() bool {
	return p.current.Load() != nil
}

func (p *Pool) Size() int {
	return p.size
}
