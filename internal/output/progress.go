package output

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/waspswithbazookas/wwb/internal/protocol"
)

// StatusSource is polled for progress, normally the hive client.
type StatusSource interface {
	Status(ctx context.Context) (protocol.Status, error)
}

// ProgressReporter polls the hive and redraws a single progress line until
// the run is no longer in flight.
type ProgressReporter struct {
	source   StatusSource
	interval time.Duration
	writer   io.Writer
	cancel   context.CancelFunc
	finished chan struct{}
	idle     chan struct{}
	active   int32
}

func NewProgressReporter(source StatusSource, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &ProgressReporter{
		source:   source,
		interval: interval,
		writer:   writer,
		finished: make(chan struct{}),
		idle:     make(chan struct{}),
	}
}

// Start begins polling in a background goroutine.
func (p *ProgressReporter) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
}

// Done is closed once the hive reports no run in flight.
func (p *ProgressReporter) Done() <-chan struct{} {
	return p.idle
}

// Stop halts polling and waits for the poller to exit.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 2) {
		p.cancel()
		<-p.finished
	}
}

func (p *ProgressReporter) run(ctx context.Context) {
	defer close(p.finished)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	drawn := false
	for {
		st, err := p.source.Status(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Debug("status poll failed")
		case st.Run == nil:
			if drawn {
				fmt.Fprintln(p.writer)
			}
			close(p.idle)
			return
		default:
			fmt.Fprint(p.writer, "\r"+ProgressLine(*st.Run))
			drawn = true
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

const barWidth = 30

// ProgressLine renders e.g. "[#########.....] 60% 3/5 wasps, 1 failed, eta 12s".
func ProgressLine(p protocol.Progress) string {
	pct := p.Percent
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * barWidth)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)

	eta := p.ETA
	if eta == 0 && p.ETASeconds > 0 {
		eta = time.Duration(p.ETASeconds * float64(time.Second))
	}
	line := fmt.Sprintf("[%s] %3.0f%% %d/%d wasps", bar, pct, p.Completed+p.Failed, p.Expected)
	if p.Failed > 0 {
		line += fmt.Sprintf(", %d failed", p.Failed)
	}
	return line + fmt.Sprintf(", eta %s", eta.Round(time.Second))
}
