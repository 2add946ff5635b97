// Package stream serves an endless sequence of fixed-size chunks read from a
// prepared block.
package stream

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net/http"

	"github.com/Karleow/SimpleSpeedtest/internal/block"
)

// Stream yields chunkSize bytes per call to Next. Each download connection
// owns one Stream; the block behind it is shared.
type Stream struct {
	chunk   int
	cursor  *block.Cursor
	scratch []byte
}

// Open returns a stream over b. A nil b yields a degraded stream that
// generates fresh random bytes for every chunk.
func Open(b *block.Block, chunkSize int) (*Stream, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("%w: got %d", block.ErrChunkSize, chunkSize)
	}
	s := &Stream{chunk: chunkSize}
	if b == nil {
		s.scratch = make([]byte, chunkSize)
		return s, nil
	}
	cursor, err := block.NewCursor(b, chunkSize)
	if err != nil {
		return nil, err
	}
	s.cursor = cursor
	return s, nil
}

// Degraded reports whether chunks are generated on demand.
func (s *Stream) Degraded() bool {
	return s.cursor == nil
}

func (s *Stream) ChunkSize() int {
	return s.chunk
}

// Next returns the following chunk. The slice is only valid until the next
// call and must not be modified.
func (s *Stream) Next() ([]byte, error) {
	if s.cursor != nil {
		return s.cursor.Next(), nil
	}
	if _, err := io.ReadFull(rand.Reader, s.scratch); err != nil {
		return nil, fmt.Errorf("generate chunk: %w", err)
	}
	return s.scratch, nil
}

// Serve writes chunks to w until ctx is done or a write fails, flushing
// after every chunk when w supports it. It returns the number of bytes
// written. Termination by ctx is not an error.
func (s *Stream) Serve(ctx context.Context, w io.Writer) (int64, error) {
	flusher, _ := w.(http.Flusher)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, nil
		default:
		}
		chunk, err := s.Next()
		if err != nil {
			return written, err
		}
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			if ctx.Err() != nil {
				return written, nil
			}
			return written, err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
