package app

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Karleow/SimpleSpeedtest/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func smallConfig() config.Config {
	cfg := config.Default()
	cfg.Server.BindAddr = "127.0.0.1"
	cfg.Server.BindPort = 0
	cfg.Pool.SizeBytes = 256 << 10
	cfg.Pool.Workers = 2
	cfg.Stream.ChunkSizeBytes = 32 << 10
	return cfg
}

func TestRuntimeBlocksUntilPoolReady(t *testing.T) {
	rt, err := NewRuntime(smallConfig(), quietLogger(), nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop()
	if !rt.Pool().Ready() {
		t.Fatalf("pool should be ready after a blocking start")
	}
	resp, err := http.Get("http://" + rt.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRuntimeAsyncPrepare(t *testing.T) {
	cfg := smallConfig()
	async := false
	cfg.Pool.BlockStartup = &async
	rt, err := NewRuntime(cfg, quietLogger(), nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop()
	deadline := time.Now().Add(5 * time.Second)
	for !rt.Pool().Ready() {
		if time.Now().After(deadline) {
			t.Fatalf("pool never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRuntimeReusesReadyPool(t *testing.T) {
	first, err := NewRuntime(smallConfig(), quietLogger(), nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if err := first.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first.Stop()

	second, err := NewRuntime(smallConfig(), quietLogger(), first.Pool())
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer second.Stop()
	if second.Pool() != first.Pool() {
		t.Fatalf("ready pool of the same size should be reused")
	}

	cfg := smallConfig()
	cfg.Pool.SizeBytes = 512 << 10
	third, err := NewRuntime(cfg, quietLogger(), first.Pool())
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer third.Stop()
	if third.Pool() == first.Pool() {
		t.Fatalf("pool of a different size must not be reused")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestSupervisorRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := fmt.Sprintf("server:\n  bind_addr: 127.0.0.1\n  bind_port: %d\npool:\n  size: 256kib\n  workers: 2\nstream:\n  chunk_size: 32kib\nupload:\n  request_size: 64kib\n", freePort(t))
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	sup := NewSupervisor(path, quietLogger())
	if err := sup.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop()
	if err := sup.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if sup.Addr() == nil {
		t.Fatalf("no runtime after restart")
	}
}
