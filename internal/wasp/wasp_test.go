package wasp_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waspswithbazookas/wwb/internal/httpclient"
	"github.com/waspswithbazookas/wwb/internal/protocol"
	"github.com/waspswithbazookas/wwb/internal/wasp"
	"github.com/waspswithbazookas/wwb/internal/wrk"
)

const summary = `Running 1s test @ http://target.test/
  2 threads and 10 connections
  Thread Stats   Avg      Stdev     Max   +/- Stdev
    Latency    10.00ms    2.00ms  20.00ms   75.00%
    Req/Sec   100.00     10.00    120.00     80.00%
  100 requests in 1.00s, 1000.00B read
Requests/sec:    100.00
Transfer/sec:      1000.00B
`

type hiveReport struct {
	id      string
	stats   *protocol.Stats
	failure string
}

type fakeHive struct {
	mu         sync.Mutex
	checkins   int
	failFirst  int
	heartbeats int
	unknown    bool
	reports    chan hiveReport
}

func newFakeHive() *fakeHive {
	return &fakeHive{reports: make(chan hiveReport, 8)}
}

func (h *fakeHive) Checkin(_ context.Context, port int, _ string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkins++
	if h.checkins <= h.failFirst {
		return "", errors.New("connection refused")
	}
	h.unknown = false
	return "wasp-7", nil
}

func (h *fakeHive) Heartbeat(context.Context, int, string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.heartbeats++
	if h.unknown {
		return httpclient.ErrUnknownWasp
	}
	return nil
}

func (h *fakeHive) ReportIn(_ context.Context, id string, stats protocol.Stats) error {
	h.reports <- hiveReport{id: id, stats: &stats}
	return nil
}

func (h *fakeHive) ReportFailure(_ context.Context, id, output string) error {
	h.reports <- hiveReport{id: id, failure: output}
	return nil
}

func (h *fakeHive) Checkins() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.checkins
}

func (h *fakeHive) next(t *testing.T) hiveReport {
	t.Helper()
	select {
	case r := <-h.reports:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no report received")
		return hiveReport{}
	}
}

func (h *fakeHive) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case r := <-h.reports:
		t.Fatalf("unexpected report %+v", r)
	case <-time.After(wait):
	}
}

func fakeWrk(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakewrk")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func summaryWrk(t *testing.T) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "summary.txt")
	require.NoError(t, os.WriteFile(out, []byte(summary), 0o644))
	return fakeWrk(t, "cat "+out)
}

func newWasp(t *testing.T, hive wasp.HiveAPI, wrkPath string) *wasp.Wasp {
	t.Helper()
	w := wasp.New(hive, wasp.Options{
		Port:              4268,
		WrkPath:           wrkPath,
		ScriptDir:         t.TempDir(),
		HeartbeatInterval: 10 * time.Millisecond,
		CheckinAttempts:   3,
		CheckinDelay:      time.Millisecond,
	})
	require.NoError(t, w.Checkin(context.Background()))
	return w
}

var job = protocol.JobRequest{Target: "http://target.test/", Threads: 2, Concurrency: 10, Duration: 1}

func waitIdle(t *testing.T, w *wasp.Wasp) {
	t.Helper()
	require.Eventually(t, func() bool { return !w.Busy() }, 5*time.Second, 10*time.Millisecond)
}

func TestFireReportsParsedStats(t *testing.T) {
	hive := newFakeHive()
	w := newWasp(t, hive, summaryWrk(t))

	require.NoError(t, w.Fire(job))
	r := hive.next(t)
	assert.Equal(t, "wasp-7", r.id)
	require.NotNil(t, r.stats)
	assert.Equal(t, 10.0, r.stats.Latency.Avg)
	assert.Equal(t, 120.0, r.stats.RPS.Max)
	assert.Equal(t, int64(100), r.stats.TotalRequests)

	waitIdle(t, w)
	br, ok := w.LastResult()
	require.True(t, ok)
	assert.Equal(t, "done", br.Outcome)
	assert.Equal(t, "http://target.test/", br.Target)
	require.NotNil(t, br.Stats)
}

func TestFailedRunReportsOutput(t *testing.T) {
	hive := newFakeHive()
	w := newWasp(t, hive, fakeWrk(t, "echo 'unable to connect to target.test:80 Connection refused' >&2\nexit 1"))

	require.NoError(t, w.Fire(job))
	r := hive.next(t)
	assert.Nil(t, r.stats)
	assert.Contains(t, r.failure, "Connection refused")
}

func TestUnparseableOutputIsFailure(t *testing.T) {
	hive := newFakeHive()
	w := newWasp(t, hive, fakeWrk(t, "echo 'not a summary'"))

	require.NoError(t, w.Fire(job))
	r := hive.next(t)
	assert.Nil(t, r.stats)
	assert.Contains(t, r.failure, "not a summary")

	waitIdle(t, w)
	br, _ := w.LastResult()
	assert.Equal(t, "failed", br.Outcome)
}

func TestSecondFireWhileBusyIsRejected(t *testing.T) {
	hive := newFakeHive()
	w := newWasp(t, hive, fakeWrk(t, "exec sleep 30"))

	require.NoError(t, w.Fire(job))
	assert.ErrorIs(t, w.Fire(job), wasp.ErrBusy)
	assert.True(t, w.Busy(), "first run must keep going")
	assert.ErrorIs(t, w.Die(), wasp.ErrBusy)

	require.NoError(t, w.Ceasefire())
	waitIdle(t, w)
	hive.none(t, 100*time.Millisecond)

	br, ok := w.LastResult()
	require.True(t, ok)
	assert.Equal(t, "stopped", br.Outcome)
	assert.ErrorIs(t, w.Ceasefire(), wasp.ErrIdle)
}

func TestInvalidJobDoesNotStart(t *testing.T) {
	w := newWasp(t, newFakeHive(), summaryWrk(t))
	err := w.Fire(protocol.JobRequest{Target: "http://x.test/", Threads: 20, Concurrency: 10})
	assert.True(t, protocol.IsValidation(err))
	assert.False(t, w.Busy())
}

func TestMissingWrkBinary(t *testing.T) {
	w := newWasp(t, newFakeHive(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, w.Fire(job))
	assert.False(t, w.Busy())
}

func TestScriptAndFlagsPassedToWrk(t *testing.T) {
	hive := newFakeHive()
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	scriptCopy := filepath.Join(dir, "script")
	body := `echo "$@" > ` + argsFile + `
while [ $# -gt 0 ]; do
  if [ "$1" = "-s" ]; then cp "$2" ` + scriptCopy + `; fi
  shift
done
exit 1`
	w := newWasp(t, hive, fakeWrk(t, body))

	req := job
	req.Script = "wrk.method = \"POST\""
	req.Headers = map[string]string{"x-token": "abc"}
	require.NoError(t, w.Fire(req))
	hive.next(t)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(args), "-t2 -c10 -d1s --timeout 2s -s "), string(args))
	assert.Contains(t, string(args), "-H X-Token: abc http://target.test/")
	script, err := os.ReadFile(scriptCopy)
	require.NoError(t, err)
	assert.Equal(t, req.Script, string(script))
}

func TestDie(t *testing.T) {
	w := newWasp(t, newFakeHive(), wrk.DefaultPath)
	select {
	case <-w.Dying():
		t.Fatal("dying before Die")
	default:
	}
	require.NoError(t, w.Die())
	require.NoError(t, w.Die())
	<-w.Dying()
}

func TestCheckinRetries(t *testing.T) {
	hive := newFakeHive()
	hive.failFirst = 2
	w := newWasp(t, hive, wrk.DefaultPath)
	assert.Equal(t, 3, hive.Checkins())
	assert.Equal(t, "wasp-7", w.ID())

	hive = newFakeHive()
	hive.failFirst = 10
	w = wasp.New(hive, wasp.Options{Port: 4268, CheckinAttempts: 2, CheckinDelay: time.Millisecond})
	assert.Error(t, w.Checkin(context.Background()))
	assert.Equal(t, 2, hive.Checkins())
}

func TestHeartbeatRechecksInWhenForgotten(t *testing.T) {
	hive := newFakeHive()
	w := newWasp(t, hive, wrk.DefaultPath)
	require.Equal(t, 1, hive.Checkins())

	hive.mu.Lock()
	hive.unknown = true
	hive.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.RunHeartbeat(ctx)

	require.Eventually(t, func() bool { return hive.Checkins() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "wasp-7", w.ID())
}
