package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Karleow/SimpleSpeedtest/internal/probe"
	"github.com/Karleow/SimpleSpeedtest/internal/util"
)

const barWidth = 20

type progressBar struct {
	mu       sync.Mutex
	out      io.Writer
	disabled bool
	drawn    bool
}

func newProgressBar(out io.Writer, disabled bool) *progressBar {
	return &progressBar{out: out, disabled: disabled}
}

// Update redraws the bar in place from a sampler tick.
func (b *progressBar) Update(s probe.ProgressSample) {
	if b.disabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	f := fraction(s.Elapsed, s.Duration)
	fmt.Fprintf(b.out, "\r[%s] %s %3.0f%% | %s", s.Kind, renderBar(f), f*100, util.FormatMbps(s.InstantBps))
	b.drawn = true
}

// Finish clears the bar line if one was drawn.
func (b *progressBar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drawn {
		fmt.Fprint(b.out, "\r\033[K")
		b.drawn = false
	}
}

func fraction(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	f := float64(elapsed) / float64(total)
	return min(max(f, 0), 1)
}

func renderBar(f float64) string {
	filled := min(int(f*barWidth), barWidth)
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}
