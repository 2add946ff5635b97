package clientdata

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"
)

func TestLCGSequence(t *testing.T) {
	g := NewLCG(0)
	want := []uint32{1013904223, 1196435762, 3519870697}
	for i, w := range want {
		if got := g.Next(); got != w {
			t.Fatalf("step %d = %d, want %d", i, got, w)
		}
	}
}

func TestPrepareDeterministic(t *testing.T) {
	seeds := FixedSeeds(11, 22, 33, 44)
	a, err := Prepare(context.Background(), 1<<20+6, 4, seeds)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	for run := 0; run < 3; run++ {
		b, err := Prepare(context.Background(), 1<<20+6, 4, seeds)
		if err != nil {
			t.Fatalf("Prepare: %v", err)
		}
		if !bytes.Equal(a.Slice(0, a.Len()), b.Slice(0, b.Len())) {
			t.Fatalf("run %d differs from the first run", run)
		}
	}
}

func TestPrepareShardLayout(t *testing.T) {
	// 40 bytes over 3 workers: ceil(40/3)=14 rounds up to 16, shards [0,16) [16,32) [32,40).
	b, err := Prepare(context.Background(), 40, 3, FixedSeeds(1, 2, 3))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	data := b.Slice(0, b.Len())
	starts := map[int]uint32{0: 1, 16: 2, 32: 3}
	for off, seed := range starts {
		want := NewLCG(seed).Next()
		if got := binary.LittleEndian.Uint32(data[off:]); got != want {
			t.Fatalf("first word at %d = %d, want %d", off, got, want)
		}
	}
}

func TestPrepareDifferentSeedsDiffer(t *testing.T) {
	a, _ := Prepare(context.Background(), 4096, 2, FixedSeeds(1, 2))
	b, _ := Prepare(context.Background(), 4096, 2, FixedSeeds(3, 4))
	if bytes.Equal(a.Slice(0, a.Len()), b.Slice(0, b.Len())) {
		t.Fatalf("different seeds produced identical blocks")
	}
}

func TestPrepareTrailingPartialWord(t *testing.T) {
	b, err := Prepare(context.Background(), 6, 1, FixedSeeds(7))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	g := NewLCG(7)
	var want [8]byte
	binary.LittleEndian.PutUint32(want[0:], g.Next())
	binary.LittleEndian.PutUint32(want[4:], g.Next())
	if !bytes.Equal(b.Slice(0, 6), want[:6]) {
		t.Fatalf("got %v, want %v", b.Slice(0, 6), want[:6])
	}
}

func TestTimeSeedsOffsetByShard(t *testing.T) {
	seeds := TimeSeeds(time.Unix(1700000000, 0))
	if seeds(3)-seeds(0) != 3 {
		t.Fatalf("shard seeds must differ by shard index")
	}
}
