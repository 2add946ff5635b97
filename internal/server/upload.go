package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// Accept drains body to the end and reports how many bytes it held. The
// payload is discarded.
func Accept(body io.Reader) (int64, error) {
	return io.Copy(io.Discard, body)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.metrics.UploadDone(http.StatusMethodNotAllowed)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := uuid.NewString()
	country := s.geo.Country(r.RemoteAddr)
	s.status.Add(kindUpload, id, r.RemoteAddr, country, false)
	defer s.status.Remove(id)

	var body io.Reader = r.Body
	if limit := s.cfg.Upload.MaxBodyBytes; limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	body = &countingReader{r: body, onRead: func(n int) {
		s.metrics.AddBytesUp(uint64(n))
		s.status.Update(id, uint64(n))
	}}

	n, err := Accept(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.metrics.UploadDone(http.StatusRequestEntityTooLarge)
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.logger.Warn("upload read failed", "upload_id", id, "client", r.RemoteAddr, "bytes", n, "error", err)
		s.metrics.UploadDone(http.StatusBadRequest)
		http.Error(w, "upload read failed", http.StatusBadRequest)
		return
	}
	s.logger.Debug("upload accepted", "upload_id", id, "client", r.RemoteAddr, "bytes", n)
	s.metrics.UploadDone(http.StatusOK)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

type countingReader struct {
	r      io.Reader
	onRead func(int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.onRead(n)
	}
	return n, err
}
