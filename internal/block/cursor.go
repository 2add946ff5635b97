package block

import "fmt"

// Cursor reads fixed-size chunks from a block, wrapping from the end back to
// the start. A Cursor is not safe for concurrent use; the block it reads is.
type Cursor struct {
	b       *Block
	chunk   int
	offset  int
	scratch []byte
}

// NewCursor returns a cursor at offset 0 that yields chunk bytes per call.
func NewCursor(b *Block, chunk int) (*Cursor, error) {
	if chunk < 1 || chunk > b.Len() {
		return nil, fmt.Errorf("%w: got %d for a %d byte block", ErrChunkSize, chunk, b.Len())
	}
	return &Cursor{b: b, chunk: chunk}, nil
}

// Offset is the position of the next chunk, always in [0, Len()).
func (c *Cursor) Offset() int {
	return c.offset
}

// ChunkSize is the length of every chunk returned by Next.
func (c *Cursor) ChunkSize() int {
	return c.chunk
}

// Next returns the following chunk. Chunks that fit before the end of the
// block alias the block directly; a chunk that wraps is assembled from the
// tail and head into a scratch buffer reused by later wrapping calls, so the
// result is only valid until the next call.
func (c *Cursor) Next() []byte {
	size := c.b.Len()
	end := c.offset + c.chunk
	if end <= size {
		out := c.b.Slice(c.offset, end)
		c.offset = end
		if c.offset == size {
			c.offset = 0
		}
		return out
	}
	if c.scratch == nil {
		c.scratch = make([]byte, c.chunk)
	}
	tail := copy(c.scratch, c.b.data[c.offset:])
	head := c.chunk - tail
	copy(c.scratch[tail:], c.b.data[:head])
	c.offset = head
	return c.scratch
}
