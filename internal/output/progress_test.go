package output

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/waspswithbazookas/wwb/internal/protocol"
)

type scriptedSource struct {
	mu       sync.Mutex
	statuses []protocol.Status
	errs     []error
	calls    int
}

func (s *scriptedSource) Status(context.Context) (protocol.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return protocol.Status{}, s.errs[i]
	}
	if i >= len(s.statuses) {
		return protocol.Status{Message: "idle"}, nil
	}
	return s.statuses[i], nil
}

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

func running(completed, failed int) protocol.Status {
	return protocol.Status{Running: true, Run: &protocol.Progress{
		Expected: 4, Completed: completed, Failed: failed,
		Percent: float64(completed+failed) / 4 * 100, ETASeconds: 12,
	}}
}

func TestProgressReporterRunsUntilIdle(t *testing.T) {
	src := &scriptedSource{
		statuses: []protocol.Status{running(0, 0), {}, running(2, 1)},
		errs:     []error{nil, errors.New("connection reset")},
	}
	var out syncBuffer
	p := NewProgressReporter(src, 5*time.Millisecond, &out)
	p.Start(context.Background())

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reporter never saw the hive go idle")
	}
	p.Stop()

	got := out.String()
	if !strings.Contains(got, "0/4 wasps") || !strings.Contains(got, "3/4 wasps, 1 failed") {
		t.Errorf("unexpected progress output %q", got)
	}
	if !strings.HasSuffix(got, "\n") {
		t.Errorf("progress line should be terminated, got %q", got)
	}
}

func TestProgressReporterStop(t *testing.T) {
	src := &scriptedSource{statuses: make([]protocol.Status, 1000)}
	for i := range src.statuses {
		src.statuses[i] = running(1, 0)
	}
	p := NewProgressReporter(src, time.Millisecond, nil)
	p.Start(context.Background())
	p.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	p.Stop()
	p.Stop()

	select {
	case <-p.Done():
		t.Error("Done should stay open when stopped early")
	default:
	}
}

func TestProgressLine(t *testing.T) {
	line := ProgressLine(protocol.Progress{Expected: 2, Completed: 1, Percent: 50, ETA: 9 * time.Second})
	if !strings.HasPrefix(line, "[###############...............]  50%") {
		t.Errorf("unexpected bar %q", line)
	}
	if !strings.HasSuffix(line, "1/2 wasps, eta 9s") {
		t.Errorf("unexpected tail %q", line)
	}

	over := ProgressLine(protocol.Progress{Percent: 140})
	if !strings.Contains(over, "100%") {
		t.Errorf("percent should clamp, got %q", over)
	}
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	PrintStatus(&buf, protocol.Status{Message: "Hive is ready to poke with 3 wasps", Wasps: 3})
	if buf.String() != "Hive is ready to poke with 3 wasps\n" {
		t.Errorf("unexpected idle status %q", buf.String())
	}

	buf.Reset()
	st := running(1, 0)
	st.Message = "Hive is busy"
	PrintStatus(&buf, st)
	if !strings.Contains(buf.String(), "1/4 wasps") {
		t.Errorf("running status should include progress, got %q", buf.String())
	}
}
