package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrPhaseActive is returned when a phase is already running on the Probe.
	ErrPhaseActive = errors.New("a measurement phase is already running")
	// ErrNotReady is returned for an upload phase before client data exists.
	ErrNotReady = errors.New("client data is not prepared")
	// ErrPhaseFailed wraps every transport failure that ends a phase.
	ErrPhaseFailed = errors.New("measurement phase failed")
)

// Kind is the transfer direction of a phase, relative to the client.
type Kind int

const (
	KindDownload Kind = iota
	KindUpload
)

func (k Kind) String() string {
	switch k {
	case KindUpload:
		return "upload"
	default:
		return "download"
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "download", "down":
		return KindDownload, nil
	case "upload", "up":
		return KindUpload, nil
	default:
		return 0, fmt.Errorf("invalid phase kind %q (must be download or upload)", s)
	}
}

// Outcome is the terminal state of a phase.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "completed"
	}
}

// PhaseError carries the transport error that ended a phase.
type PhaseError struct {
	Kind  Kind
	Cause error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s phase failed: %v", e.Kind, e.Cause)
}

func (e *PhaseError) Unwrap() []error {
	return []error{ErrPhaseFailed, e.Cause}
}

// Result summarises one phase. Duration is the requested length, Elapsed
// the measured one.
type Result struct {
	SessionID     uuid.UUID
	Kind          Kind
	Outcome       Outcome
	Duration      time.Duration
	Elapsed       time.Duration
	Bytes         int64
	ThroughputBps float64
	Err           error
}

// ProgressSample is one sampler tick.
type ProgressSample struct {
	SessionID      uuid.UUID
	Kind           Kind
	Elapsed        time.Duration
	Duration       time.Duration
	TotalBytes     int64
	BytesSinceLast int64
	SinceLast      time.Duration
	InstantBps     float64
}

// ProgressFunc receives sampler ticks on the sampler goroutine.
type ProgressFunc func(ProgressSample)

// Downloader opens one server stream; the phase reads it until stopped.
type Downloader interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Uploader sends one payload and returns once the server acknowledged it.
type Uploader interface {
	Upload(ctx context.Context, payload []byte) error
}

// Throughput returns bits per second, or 0 when elapsed is under 100ms.
func Throughput(bytes int64, elapsed time.Duration) float64 {
	if elapsed < minElapsed {
		return 0
	}
	return float64(bytes) * 8 / elapsed.Seconds()
}

const minElapsed = 100 * time.Millisecond
