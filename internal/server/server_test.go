package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Karleow/SimpleSpeedtest/internal/config"
	"github.com/Karleow/SimpleSpeedtest/internal/datapool"
	"github.com/Karleow/SimpleSpeedtest/internal/metrics"
	"github.com/Karleow/SimpleSpeedtest/internal/util"
	"github.com/gorilla/websocket"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(w io.Writer) util.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Pool.SizeBytes = 64 << 10
	cfg.Pool.Workers = 2
	cfg.Stream.ChunkSizeBytes = 16 << 10
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config, prepared bool, logs io.Writer) (*Server, *datapool.Pool) {
	t.Helper()
	if logs == nil {
		logs = io.Discard
	}
	logger := testLogger(logs)
	pool := datapool.NewPool(cfg.Pool.SizeBytes, cfg.Pool.Workers, logger)
	if prepared {
		if err := pool.Prepare(context.Background()); err != nil {
			t.Fatalf("prepare pool: %v", err)
		}
	}
	srv := New(cfg, pool, metrics.NewMetrics(), nil, logger)
	t.Cleanup(srv.Close)
	return srv, pool
}

func TestDownloadServesBlockWithWrap(t *testing.T) {
	srv, pool := newTestServer(t, testConfig(), true, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/download")
	if err != nil {
		t.Fatalf("GET /download: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("cache control = %q", cc)
	}
	if resp.Header.Get("X-Stream-Id") == "" {
		t.Fatalf("missing stream id")
	}

	b := pool.Block()
	got := make([]byte, 2*b.Len())
	if _, err := io.ReadFull(resp.Body, got); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	want := b.Slice(0, b.Len())
	if !bytes.Equal(got[:b.Len()], want) || !bytes.Equal(got[b.Len():], want) {
		t.Fatalf("stream content does not repeat the block")
	}
}

func TestDownloadDegradedWhenPoolNotReady(t *testing.T) {
	logs := &syncBuffer{}
	srv, _ := newTestServer(t, testConfig(), false, logs)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/download")
	if err != nil {
		t.Fatalf("GET /download: %v", err)
	}
	buf := make([]byte, 64<<10)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		t.Fatalf("read degraded stream: %v", err)
	}
	resp.Body.Close()
	if !strings.Contains(logs.String(), "data pool not ready") {
		t.Fatalf("expected degraded warning in logs, got %q", logs.String())
	}
}

func TestDownloadRejectsPost(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), true, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/download", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

// drainCheck fails the test if the response has been written before the
// last byte of the body is consumed.
type drainCheck struct {
	t         *testing.T
	rec       *httptest.ResponseRecorder
	remaining int
	read      int
}

func (d *drainCheck) Read(p []byte) (int, error) {
	if d.remaining == 0 {
		if d.rec.Body.Len() != 0 {
			d.t.Errorf("response written before body was drained")
		}
		return 0, io.EOF
	}
	n := min(len(p), d.remaining)
	d.remaining -= n
	d.read += n
	return n, nil
}

func TestUploadAcknowledgesAfterFullDrain(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), true, nil)
	rec := httptest.NewRecorder()
	body := &drainCheck{t: t, rec: rec, remaining: 1 << 20}
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Fatalf("body = %q, want OK", rec.Body.String())
	}
	if body.read != 1<<20 {
		t.Fatalf("drained %d bytes, want %d", body.read, 1<<20)
	}
}

func TestUploadBodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.MaxBodyBytes = 1024
	srv, _ := newTestServer(t, cfg, true, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(make([]byte, 4096)))
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestUploadReadErrorIsBadRequest(t *testing.T) {
	logs := &syncBuffer{}
	srv, _ := newTestServer(t, testConfig(), true, logs)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/upload", failingReader{}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(logs.String(), "upload read failed") {
		t.Fatalf("expected warning log, got %q", logs.String())
	}
}

func TestAccept(t *testing.T) {
	n, err := Accept(strings.NewReader("payload"))
	if err != nil || n != 7 {
		t.Fatalf("Accept = %d, %v", n, err)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), false, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Ok || resp.PoolReady {
		t.Fatalf("health = %+v, want ok and not ready", resp)
	}
}

func TestMetricsRequiresToken(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AuthToken = "secret"
	srv, _ := newTestServer(t, cfg, true, nil)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with token = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "speedtest_download_bytes_total") {
		t.Fatalf("exposition missing download counter")
	}
}

func TestStatusSnapshot(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), true, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "interval_ms": 1000}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg snapshotMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != "snapshot" {
			continue
		}
		if !msg.PoolReady {
			t.Fatalf("snapshot should report a ready pool")
		}
		return
	}
}

func TestStatusRejectsBadInterval(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), true, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "interval_ms": 7}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg errorMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "error" || msg.Code != "invalid_interval" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestStartServesOnListener(t *testing.T) {
	cfg := testConfig()
	cfg.Server.BindAddr = "127.0.0.1"
	cfg.Server.BindPort = 0
	cfg.Server.MaxConnections = 4
	srv, _ := newTestServer(t, cfg, true, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	resp, err := http.Get("http://" + srv.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
