package block

import (
	"bytes"
	"errors"
	"testing"
)

func sequentialBlock(n int) *Block {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 31)
	}
	return New(data)
}

func TestCursorWrapFidelity(t *testing.T) {
	b := sequentialBlock(1000)
	want := append(b.Slice(0, b.Len()), b.Slice(0, b.Len())...)
	for _, chunk := range []int{1, 3, 7, 128, 333, 999, 1000} {
		c, err := NewCursor(b, chunk)
		if err != nil {
			t.Fatalf("NewCursor(%d): %v", chunk, err)
		}
		n := (2*b.Len() + chunk - 1) / chunk
		var got []byte
		for i := 0; i < n; i++ {
			out := c.Next()
			if len(out) != chunk {
				t.Fatalf("chunk %d: emission %d has len %d", chunk, i, len(out))
			}
			if c.Offset() < 0 || c.Offset() >= b.Len() {
				t.Fatalf("chunk %d: offset %d out of range", chunk, c.Offset())
			}
			got = append(got, out...)
		}
		if !bytes.Equal(got[:len(want)], want) {
			t.Fatalf("chunk %d: concatenation does not reproduce the block twice", chunk)
		}
	}
}

func TestCursorWrapOffset(t *testing.T) {
	b := sequentialBlock(10)
	c, _ := NewCursor(b, 4)
	c.Next()
	c.Next()
	out := c.Next()
	if c.Offset() != 2 {
		t.Fatalf("offset after wrap = %d, want 2", c.Offset())
	}
	want := append(b.Slice(8, 10), b.Slice(0, 2)...)
	if !bytes.Equal(out, want) {
		t.Fatalf("wrapped chunk = %v, want %v", out, want)
	}
}

func TestNewCursorRejectsBadChunk(t *testing.T) {
	b := sequentialBlock(8)
	for _, chunk := range []int{0, -1, 9} {
		if _, err := NewCursor(b, chunk); !errors.Is(err, ErrChunkSize) {
			t.Fatalf("NewCursor(%d) err = %v, want ErrChunkSize", chunk, err)
		}
	}
}
