package hive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waspswithbazookas/wwb/internal/metrics"
	"github.com/waspswithbazookas/wwb/internal/protocol"
	"github.com/waspswithbazookas/wwb/internal/registry"
	"github.com/waspswithbazookas/wwb/internal/supervisor"
)

type fakeWasps struct {
	mu    sync.Mutex
	calls map[string][]string
	fail  map[string]bool
	fired chan string
}

func newFakeWasps() *fakeWasps {
	return &fakeWasps{
		calls: map[string][]string{},
		fail:  map[string]bool{},
		fired: make(chan string, 64),
	}
}

func (f *fakeWasps) record(op, base string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op] = append(f.calls[op], base)
	if f.fail[base] {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeWasps) Fire(_ context.Context, base string, _ protocol.JobRequest) error {
	err := f.record("fire", base)
	f.fired <- base
	return err
}

func (f *fakeWasps) Boop(_ context.Context, base string) error { return f.record("boop", base) }
func (f *fakeWasps) Die(_ context.Context, base string) error  { return f.record("die", base) }
func (f *fakeWasps) Ceasefire(_ context.Context, base string) error {
	return f.record("ceasefire", base)
}

func (f *fakeWasps) Calls(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls[op]...)
}

func (f *fakeWasps) Fail(base string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[base] = true
}

// waitFired blocks until n fire calls have been made.
func (f *fakeWasps) waitFired(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.fired:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d fire calls made", i, n)
		}
	}
}

type fakeSupervisor struct {
	mu       sync.Mutex
	owned    map[int]bool
	used     map[int]bool
	next     int
	replaced []int
	killed   int
	host     string
}

func newFakeSupervisor(ports ...int) *fakeSupervisor {
	s := &fakeSupervisor{owned: map[int]bool{}, used: map[int]bool{}, next: 5000, host: "127.0.0.1"}
	for _, p := range ports {
		s.owned[p] = true
		s.used[p] = true
	}
	return s
}

func (s *fakeSupervisor) allocate() int {
	for s.used[s.next] {
		s.next--
	}
	p := s.next
	s.used[p] = true
	s.owned[p] = true
	s.next--
	return p
}

func (s *fakeSupervisor) SpawnLocal(_ context.Context, n int) ([]supervisor.LocalWasp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]supervisor.LocalWasp, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, supervisor.LocalWasp{Host: "127.0.0.1", Port: s.allocate()})
	}
	return out, nil
}

func (s *fakeSupervisor) Replace(_ context.Context, port int) (supervisor.LocalWasp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.owned[port] {
		return supervisor.LocalWasp{}, supervisor.ErrNotOwned
	}
	delete(s.owned, port)
	s.replaced = append(s.replaced, port)
	return supervisor.LocalWasp{Host: "127.0.0.1", Port: s.allocate()}, nil
}

func (s *fakeSupervisor) KillAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.owned)
	s.killed += n
	s.owned = map[int]bool{}
	return n, nil
}

func (s *fakeSupervisor) Host() string { return s.host }

func (s *fakeSupervisor) Owns(port int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owned[port]
}

type fixture struct {
	hive    *Hive
	reg     *registry.Registry
	wasps   *fakeWasps
	sup     *fakeSupervisor
	metrics *metrics.Registry
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		reg:     registry.New(),
		wasps:   newFakeWasps(),
		sup:     newFakeSupervisor(),
		metrics: metrics.NewRegistry(),
	}
	opts := Options{
		GracePeriod:    50 * time.Millisecond,
		RequestTimeout: time.Second,
		Metrics:        metrics.NewHive(f.metrics),
		Supervisor:     f.sup,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.hive = New(f.reg, f.wasps, opts)
	return f
}

// addWasps checks in n remote wasps and returns them in registration order.
func (f *fixture) addWasps(n int) []registry.Worker {
	out := make([]registry.Worker, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, f.hive.Checkin("10.0.0.1", 4000+i))
	}
	return out
}

func job(d int) protocol.JobRequest {
	return protocol.JobRequest{Target: "http://target.test/", Threads: 2, Concurrency: 10, Duration: d}
}

func dispatch(t *testing.T, f *fixture, d int) RunInfo {
	t.Helper()
	info, err := f.hive.Dispatch(context.Background(), job(d))
	require.NoError(t, err)
	f.wasps.waitFired(t, info.Wasps)
	return info
}

func stats(latAvg, latMax, rpsAvg, rpsMax float64, requests int64) protocol.Stats {
	return protocol.Stats{
		Latency:       protocol.Spread{Avg: latAvg, Max: latMax},
		RPS:           protocol.Spread{Avg: rpsAvg, Max: rpsMax},
		TotalRequests: requests,
		TotalRPS:      rpsAvg,
	}
}
