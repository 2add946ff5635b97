// Package block holds the immutable synthetic payload shared by the download
// stream and the upload driver, and the parallel shard machinery that builds it.
package block

import "errors"

var (
	// ErrGeneration wraps any shard failure while building a block.
	ErrGeneration = errors.New("block generation failed")
	// ErrChunkSize indicates a chunk size outside 1..Len().
	ErrChunkSize = errors.New("chunk size must be between 1 and the block length")
)

// Block is a fixed-length byte buffer that is never written after construction.
type Block struct {
	data []byte
}

// New wraps data as a Block. The caller hands over ownership and must not
// modify data afterwards.
func New(data []byte) *Block {
	return &Block{data: data}
}

// Len returns the block length in bytes.
func (b *Block) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Slice returns data[start:end] without copying. The result is shared and
// must be treated as read-only.
func (b *Block) Slice(start, end int) []byte {
	return b.data[start:end:end]
}
