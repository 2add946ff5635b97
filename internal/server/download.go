package server

import (
	"io"
	"net/http"
	"time"

	"github.com/Karleow/SimpleSpeedtest/internal/ratelimit"
	"github.com/Karleow/SimpleSpeedtest/internal/stream"
	"github.com/Karleow/SimpleSpeedtest/internal/util"
	"github.com/google/uuid"
)

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := stream.Open(s.pool.Block(), s.cfg.Stream.ChunkSizeBytes)
	if err != nil {
		s.logger.Error("open stream failed", "error", err)
		http.Error(w, "stream unavailable", http.StatusInternalServerError)
		return
	}

	id := uuid.NewString()
	country := s.geo.Country(r.RemoteAddr)
	logger := s.logger.With("stream_id", id, "client", r.RemoteAddr)
	if country != "" {
		logger = logger.With("country", country)
	}
	if st.Degraded() {
		logger.Warn("data pool not ready, generating stream data on demand")
	}

	tcp := tcpConnFromContext(r.Context())
	var before tcpStats
	haveBefore := false
	if tcp != nil {
		if stats, err := readTCPStats(tcp); err == nil {
			before, haveBefore = stats, true
		}
	}

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Stream-Id", id)
	w.WriteHeader(http.StatusOK)

	s.metrics.StreamOpened()
	defer s.metrics.StreamClosed()
	s.status.Add(kindDownload, id, r.RemoteAddr, country, st.Degraded())
	defer s.status.Remove(id)

	out := &streamWriter{dst: w}
	out.flusher, _ = w.(http.Flusher)
	if rate := s.cfg.Stream.MaxRateBits; rate > 0 {
		out.dst = ratelimit.Writer(r.Context(), w, ratelimit.New(float64(rate)/8))
	}
	out.onWrite = func(n int) {
		s.metrics.AddBytesDown(uint64(n))
		s.status.Update(id, uint64(n))
	}

	start := time.Now()
	written, err := st.Serve(r.Context(), out)
	elapsed := time.Since(start)
	if st.Degraded() {
		s.metrics.AddDegradedChunks(out.writes)
	}

	attrs := []any{
		"bytes", util.FormatBytes(float64(written)),
		"elapsed", elapsed.Round(time.Millisecond),
		"avg", util.FormatMbps(bitsPerSecond(written, elapsed)),
	}
	if haveBefore {
		if after, err := readTCPStats(tcp); err == nil {
			retrans := after.Retransmits - min(before.Retransmits, after.Retransmits)
			segments := after.SegmentsSent - min(before.SegmentsSent, after.SegmentsSent)
			s.metrics.AddTCPStats(retrans, segments)
			attrs = append(attrs, "retransmits", retrans, "segments", segments, "rtt", after.RTT, "rttvar", after.RTTVar)
		}
	}
	if err != nil {
		logger.Warn("download stream aborted", append(attrs, "error", err)...)
		return
	}
	logger.Info("download stream closed", attrs...)
}

// streamWriter counts chunk writes and keeps the flush path of the
// underlying response when the destination is wrapped.
type streamWriter struct {
	dst     io.Writer
	flusher http.Flusher
	onWrite func(int)
	writes  uint64
}

func (w *streamWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	if n > 0 {
		w.writes++
		if w.onWrite != nil {
			w.onWrite(n)
		}
	}
	return n, err
}

func (w *streamWriter) Flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}

func bitsPerSecond(bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) * 8 / elapsed.Seconds()
}
