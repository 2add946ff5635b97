package probe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestHTTPTransports(t *testing.T) {
	var uploaded atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("x", 1000))
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		n, _ := io.Copy(io.Discard, r.Body)
		uploaded.Add(n)
		_, _ = io.WriteString(w, "OK")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	d := &HTTPDownloader{BaseURL: ts.URL + "/"}
	body, err := d.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil || len(data) != 1000 {
		t.Fatalf("download read %d bytes, err %v", len(data), err)
	}

	u := &HTTPUploader{BaseURL: ts.URL}
	if err := u.Upload(context.Background(), make([]byte, 4096)); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got := uploaded.Load(); got != 4096 {
		t.Fatalf("server received %d bytes", got)
	}
}

func TestHTTPUploaderRejectsErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too large", http.StatusRequestEntityTooLarge)
	}))
	defer ts.Close()

	u := &HTTPUploader{BaseURL: ts.URL}
	err := u.Upload(context.Background(), []byte("payload"))
	if err == nil || !strings.Contains(err.Error(), "413") {
		t.Fatalf("err = %v, want status error", err)
	}
	d := &HTTPDownloader{BaseURL: ts.URL}
	if _, err := d.Open(context.Background()); err == nil {
		t.Fatalf("expected download status error")
	}
}
