package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndRates(t *testing.T) {
	m := NewMetrics()
	m.AddBytesDown(1000)
	m.AddBytesUp(250)
	m.updatePerSecond(time.Second)

	if got := testutil.ToFloat64(m.bytesDownloaded); got != 1000 {
		t.Fatalf("bytesDownloaded = %v, want 1000", got)
	}
	rates := m.Rates()
	if rates.DownloadBps != 8000 || rates.UploadBps != 2000 {
		t.Fatalf("rates = %+v, want 8000/2000", rates)
	}

	m.updatePerSecond(time.Second)
	if rates := m.Rates(); rates.DownloadBps != 0 {
		t.Fatalf("idle second should report 0, got %v", rates.DownloadBps)
	}
}

func TestStreamGaugeAndUploads(t *testing.T) {
	m := NewMetrics()
	m.StreamOpened()
	m.StreamOpened()
	m.StreamClosed()
	if got := testutil.ToFloat64(m.activeStreams); got != 1 {
		t.Fatalf("activeStreams = %v, want 1", got)
	}
	m.UploadDone(200)
	m.UploadDone(413)
	if got := testutil.ToFloat64(m.uploadsTotal.WithLabelValues("4xx")); got != 1 {
		t.Fatalf("4xx uploads = %v, want 1", got)
	}
}

func TestHandlerExposition(t *testing.T) {
	m := NewMetrics()
	m.SetPool(true, 1<<20, 2*time.Second)
	rec := httptest.NewRecorder()
	m.Handler(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"speedtest_pool_ready 1", "speedtest_pool_size_bytes 1.048576e+06"} {
		if !strings.Contains(body, name) {
			t.Fatalf("exposition missing %q", name)
		}
	}
}
