package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Karleow/SimpleSpeedtest/internal/probe"
	"github.com/google/uuid"
)

func TestRecordAndRecent(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	first := probe.Result{
		SessionID:     uuid.New(),
		Kind:          probe.KindDownload,
		Outcome:       probe.OutcomeCompleted,
		Duration:      10 * time.Second,
		Elapsed:       10*time.Second + 40*time.Millisecond,
		Bytes:         125_000_000,
		ThroughputBps: 99.6e6,
	}
	second := probe.Result{
		SessionID: uuid.New(),
		Kind:      probe.KindUpload,
		Outcome:   probe.OutcomeFailed,
		Duration:  30 * time.Second,
		Elapsed:   2 * time.Second,
		Err:       &probe.PhaseError{Kind: probe.KindUpload, Cause: errors.New("reset")},
	}
	if err := store.Record(ctx, "http://a", base, first); err != nil {
		t.Fatalf("Record first: %v", err)
	}
	if err := store.Record(ctx, "http://a", base.Add(time.Minute), second); err != nil {
		t.Fatalf("Record second: %v", err)
	}

	entries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Kind != "upload" || entries[0].Outcome != "failed" || entries[0].Error == "" {
		t.Fatalf("newest entry = %+v", entries[0])
	}
	got := entries[1]
	if got.SessionID != first.SessionID.String() || got.Bytes != first.Bytes || got.ThroughputBps != first.ThroughputBps {
		t.Fatalf("oldest entry = %+v", got)
	}
	if got.Elapsed != first.Elapsed || !got.StartedAt.Equal(base) {
		t.Fatalf("timing not preserved: %+v", got)
	}

	limited, err := store.Recent(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("Recent(1) = %d entries, err %v", len(limited), err)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("expected error")
	}
}
