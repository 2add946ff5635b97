// Package clientdata builds the client-side upload payload locally so an
// upload phase can start without fetching data from the server first. The
// payload only has to look uniform; it is not meant to be unpredictable.
package clientdata

import (
	"context"
	"encoding/binary"
	"runtime"
	"time"

	"github.com/Karleow/SimpleSpeedtest/internal/block"
)

const wordSize = 4

// SeedFunc returns the seed for the shard with the given index.
type SeedFunc func(shard int) uint32

// TimeSeeds seeds shard i with the low 32 bits of the current time in
// microseconds plus i.
func TimeSeeds(now time.Time) SeedFunc {
	base := uint32(now.UnixMicro())
	return func(shard int) uint32 {
		return base + uint32(shard)
	}
}

// FixedSeeds returns seeds[i] for shard i, and 0 past the end of the list.
func FixedSeeds(seeds ...uint32) SeedFunc {
	return func(shard int) uint32 {
		if shard < len(seeds) {
			return seeds[shard]
		}
		return 0
	}
}

// Prepare fills size bytes on workerCount concurrent workers, each running
// its own LCG over a word-aligned shard. Words are stored little-endian; a
// trailing partial word is truncated.
func Prepare(ctx context.Context, size, workerCount int, seeds SeedFunc) (*block.Block, error) {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	if seeds == nil {
		seeds = TimeSeeds(time.Now())
	}
	if size < 0 {
		size = 0
	}
	shards := block.PartitionAligned(size, workerCount, wordSize)
	return block.Fill(ctx, size, shards, workerCount, func(ctx context.Context, s block.Shard, dst []byte) error {
		fillShard(dst, seeds(s.Index))
		return nil
	})
}

func fillShard(dst []byte, seed uint32) {
	g := NewLCG(seed)
	full := len(dst) &^ (wordSize - 1)
	for i := 0; i < full; i += wordSize {
		binary.LittleEndian.PutUint32(dst[i:], g.Next())
	}
	if full < len(dst) {
		var word [wordSize]byte
		binary.LittleEndian.PutUint32(word[:], g.Next())
		copy(dst[full:], word[:])
	}
}
