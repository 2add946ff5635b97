package block

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
)

// Shard is the half-open range [Start, End) of a block owned by one worker.
type Shard struct {
	Index int
	Start int
	End   int
}

func (s Shard) Len() int {
	return s.End - s.Start
}

// Partition splits total bytes into workers shards of total/workers bytes,
// with the remainder added to the last shard.
func Partition(total, workers int) []Shard {
	if workers < 1 {
		workers = 1
	}
	if total < 0 {
		total = 0
	}
	size := total / workers
	shards := make([]Shard, workers)
	for i := range shards {
		start := i * size
		end := start + size
		if i == workers-1 {
			end = total
		}
		shards[i] = Shard{Index: i, Start: start, End: end}
	}
	return shards
}

// PartitionAligned splits total bytes into at most workers shards of
// ceil(total/workers) bytes rounded up to a multiple of align. The last shard
// is truncated at total and empty shards are dropped.
func PartitionAligned(total, workers, align int) []Shard {
	if workers < 1 {
		workers = 1
	}
	if align < 1 {
		align = 1
	}
	if total <= 0 {
		return nil
	}
	size := (total + workers - 1) / workers
	if rem := size % align; rem != 0 {
		size += align - rem
	}
	shards := make([]Shard, 0, workers)
	for i := 0; i < workers; i++ {
		start := i * size
		if start >= total {
			break
		}
		end := start + size
		if end > total {
			end = total
		}
		shards = append(shards, Shard{Index: i, Start: start, End: end})
	}
	return shards
}

// FillFunc writes the content of one shard into dst, which is exactly
// s.Len() bytes long and not shared with any other shard.
type FillFunc func(ctx context.Context, s Shard, dst []byte) error

// Fill allocates total bytes and runs fn for every shard on a pool of
// workers goroutines. The block is returned only when every shard succeeded;
// on the first failure the remaining shards are skipped and no block is
// returned.
func Fill(ctx context.Context, total int, shards []Shard, workers int, fn FillFunc) (*Block, error) {
	if workers < 1 {
		workers = 1
	}
	if err := checkCoverage(total, shards); err != nil {
		return nil, err
	}
	buf := make([]byte, total)

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("%w: worker pool: %w", ErrGeneration, err)
	}
	defer pool.Release()

	var (
		wg       sync.WaitGroup
		failed   atomic.Bool
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			failed.Store(true)
		})
	}

	for _, s := range shards {
		s := s
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if failed.Load() {
				return
			}
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}
			if err := fn(ctx, s, buf[s.Start:s.End:s.End]); err != nil {
				fail(fmt.Errorf("shard %d: %w", s.Index, err))
			}
		})
		if submitErr != nil {
			wg.Done()
			fail(fmt.Errorf("submit shard %d: %w", s.Index, submitErr))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, firstErr)
	}
	return New(buf), nil
}

func checkCoverage(total int, shards []Shard) error {
	next := 0
	for _, s := range shards {
		if s.Start != next || s.End < s.Start {
			return fmt.Errorf("%w: shard %d [%d,%d) does not continue at %d", ErrGeneration, s.Index, s.Start, s.End, next)
		}
		next = s.End
	}
	if next != total {
		return fmt.Errorf("%w: shards cover %d of %d bytes", ErrGeneration, next, total)
	}
	return nil
}
