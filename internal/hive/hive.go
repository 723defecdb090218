// Package hive coordinates a fleet of wasps: it registers them, dispatches one
// run at a time and aggregates their results into a report.
package hive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"

	"github.com/waspswithbazookas/wwb/internal/fanout"
	"github.com/waspswithbazookas/wwb/internal/metrics"
	"github.com/waspswithbazookas/wwb/internal/protocol"
	"github.com/waspswithbazookas/wwb/internal/registry"
	"github.com/waspswithbazookas/wwb/internal/report"
	"github.com/waspswithbazookas/wwb/internal/supervisor"
)

var (
	ErrBusy         = errors.New("hive is busy")
	ErrNoWorkers    = errors.New("no wasps registered")
	ErrIdle         = errors.New("no run in progress")
	ErrRunning      = errors.New("a run is in progress")
	ErrNoReport     = errors.New("no report yet")
	ErrNoSupervisor = errors.New("local spawning is disabled")
)

const (
	DefaultGracePeriod    = 5 * time.Second
	DefaultRequestTimeout = 3 * time.Second
)

// BusyError rejects a dispatch while another run is in flight.
type BusyError struct {
	Progress protocol.Progress
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%v: %.0f%% complete", ErrBusy, e.Progress.Percent)
}

func (e *BusyError) Unwrap() error { return ErrBusy }

// WaspAPI is the set of calls the hive makes to wasps.
type WaspAPI interface {
	Fire(ctx context.Context, base string, req protocol.JobRequest) error
	Boop(ctx context.Context, base string) error
	Die(ctx context.Context, base string) error
	Ceasefire(ctx context.Context, base string) error
}

// Supervisor manages wasps on the hive's own host.
type Supervisor interface {
	SpawnLocal(ctx context.Context, n int) ([]supervisor.LocalWasp, error)
	Replace(ctx context.Context, port int) (supervisor.LocalWasp, error)
	KillAll() (int, error)
	Owns(port int) bool
	Host() string
}

type Options struct {
	GracePeriod    time.Duration
	RequestTimeout time.Duration
	FanoutLimit    int
	Metrics        *metrics.Hive
	// Supervisor may be nil, which disables local spawning and replacement.
	Supervisor Supervisor
}

// Outcome is one wasp's result for a run.
type Outcome struct {
	Stats *protocol.Stats
	Err   string
}

func Success(stats protocol.Stats) Outcome { return Outcome{Stats: &stats} }

func Failure(errText string) Outcome { return Outcome{Err: errText} }

// RunInfo describes an accepted dispatch.
type RunInfo struct {
	ID       string
	Spec     protocol.JobSpec
	Wasps    int
	Deadline time.Time
}

// BoopResult summarizes a liveness sweep.
type BoopResult struct {
	Alive    int
	Removed  int
	Replaced int
}

// Hive is the controller. The mutex guards the run state and the report; the
// registry has its own lock and is never held while taking the hive lock.
type Hive struct {
	registry *registry.Registry
	wasps    WaspAPI
	opts     Options
	metrics  *metrics.Hive

	mu   sync.Mutex
	run  *run
	last *report.Report
}

type run struct {
	id       string
	spec     protocol.JobSpec
	expected map[string]registry.Worker
	reported map[string]bool
	report   *report.Report
	started  time.Time
	deadline *time.Timer
}

func New(reg *registry.Registry, wasps WaspAPI, opts Options) *Hive {
	switch {
	case opts.GracePeriod == 0:
		opts.GracePeriod = DefaultGracePeriod
	case opts.GracePeriod < 0:
		opts.GracePeriod = 0
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.FanoutLimit <= 0 {
		opts.FanoutLimit = fanout.DefaultLimit
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewHive(metrics.NewRegistry())
	}
	return &Hive{registry: reg, wasps: wasps, opts: opts, metrics: m}
}

// Wasps returns the registered wasps in check-in order.
func (h *Hive) Wasps() []registry.Worker { return h.registry.List() }

// Checkin registers the wasp at host:port. Wasps this hive spawned are marked
// local when they call in over loopback or as the supervisor's host.
func (h *Hive) Checkin(host string, port int) registry.Worker {
	local := h.isLocal(host, port)
	w, created := h.registry.Register(host, port, local)
	h.metrics.Checkin(created)
	h.metrics.SetWasps(h.registry.Len())
	if created {
		log.WithFields(log.Fields{"wasp": w.ID, "addr": w.Addr(), "local": w.Local}).Info("wasp checked in")
	}
	return w
}

// Heartbeat refreshes host:port; registry.ErrUnknownWorker asks it to check in.
func (h *Hive) Heartbeat(host string, port int) error {
	_, err := h.registry.Heartbeat(host, port)
	h.metrics.Heartbeat(err == nil)
	return err
}

// Dispatch starts a run on every registered wasp. The fire calls go out in the
// background; a wasp that cannot be fired counts as a failed report.
func (h *Hive) Dispatch(ctx context.Context, req protocol.JobRequest) (RunInfo, error) {
	spec, specErr := req.Normalize()

	h.mu.Lock()
	now := time.Now()
	if h.run != nil {
		p := h.progressLocked(now)
		h.mu.Unlock()
		return RunInfo{}, &BusyError{Progress: p}
	}
	workers := h.registry.List()
	if len(workers) == 0 {
		h.mu.Unlock()
		return RunInfo{}, ErrNoWorkers
	}
	if specErr != nil {
		h.mu.Unlock()
		return RunInfo{}, specErr
	}

	r := &run{
		id:       ulid.Make().String(),
		spec:     spec,
		expected: make(map[string]registry.Worker, len(workers)),
		reported: make(map[string]bool, len(workers)),
		started:  now,
	}
	for _, w := range workers {
		r.expected[w.ID] = w
	}
	r.report = report.New(r.id, spec, len(workers), now)
	window := spec.Duration + h.opts.GracePeriod
	runID := r.id
	r.deadline = time.AfterFunc(window, func() {
		h.finalize(runID, report.FinishDeadline)
	})
	h.run = r
	h.metrics.RunStarted()
	h.mu.Unlock()

	log.WithFields(log.Fields{
		"run":    runID,
		"target": spec.Target,
		"wasps":  len(workers),
		"window": window,
	}).Info("dispatching run")

	go h.fire(context.WithoutCancel(ctx), runID, spec.Request(), workers)

	return RunInfo{ID: runID, Spec: spec, Wasps: len(workers), Deadline: now.Add(window)}, nil
}

func (h *Hive) fire(ctx context.Context, runID string, req protocol.JobRequest, workers []registry.Worker) {
	results := fanout.Broadcast(ctx, workers, h.opts.FanoutLimit, func(ctx context.Context, w registry.Worker) error {
		ctx, cancel := context.WithTimeout(ctx, h.opts.RequestTimeout)
		defer cancel()
		return h.wasps.Fire(ctx, w.URL(), req)
	})
	for _, res := range results.Failed() {
		h.metrics.FireError()
		log.WithError(res.Err).WithFields(log.Fields{"run": runID, "wasp": res.Target.ID}).Warn("fire failed")
		if err := h.reportIn(runID, res.Target.ID, Failure("fire: "+res.Err.Error())); err != nil {
			log.WithError(err).WithField("wasp", res.Target.ID).Debug("fire failure not recorded")
		}
	}
}

// ReportIn records a wasp's result for the current run. Reports from wasps
// outside the run, duplicates and late arrivals return
// registry.ErrUnknownWorker and leave the report untouched.
func (h *Hive) ReportIn(workerID string, o Outcome) error {
	return h.reportIn("", workerID, o)
}

// reportIn applies o when runID is empty or names the current run.
func (h *Hive) reportIn(runID, workerID string, o Outcome) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.run
	if r == nil || (runID != "" && r.id != runID) {
		h.metrics.IgnoredReport()
		return fmt.Errorf("%w: %s reported with no run in progress", registry.ErrUnknownWorker, workerID)
	}
	w, ok := r.expected[workerID]
	if !ok {
		h.metrics.IgnoredReport()
		return fmt.Errorf("%w: %s is not part of run %s", registry.ErrUnknownWorker, workerID, r.id)
	}
	if r.reported[workerID] {
		h.metrics.IgnoredReport()
		return fmt.Errorf("%w: %s already reported for run %s", registry.ErrUnknownWorker, workerID, r.id)
	}
	r.reported[workerID] = true

	if o.Stats != nil {
		r.report.Success(w, *o.Stats)
		h.metrics.Report(report.StatusComplete)
	} else {
		r.report.Failure(w, o.Err)
		h.metrics.Report(report.StatusFailed)
	}
	log.WithFields(log.Fields{
		"run":       r.id,
		"wasp":      workerID,
		"completed": r.report.Status.Completed,
		"failed":    r.report.Status.Failed,
		"expected":  r.report.Status.Expected,
	}).Info("wasp reported")

	if r.report.Full() {
		h.finalizeLocked(report.FinishCompleted)
	}
	return nil
}

// finalize is the single exit from Running. It only acts when runID is still
// the current run, so a deadline racing the last report finalizes once.
func (h *Hive) finalize(runID string, reason report.FinishReason) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.run == nil || h.run.id != runID {
		return false
	}
	h.finalizeLocked(reason)
	return true
}

func (h *Hive) finalizeLocked(reason report.FinishReason) {
	r := h.run
	r.deadline.Stop()
	now := time.Now()
	r.report.Finalize(now, reason)
	h.last = r.report
	h.run = nil

	elapsed := now.Sub(r.started)
	h.metrics.RunFinished(string(reason), elapsed)
	log.WithFields(log.Fields{
		"run":       r.id,
		"reason":    reason,
		"completed": r.report.Status.Completed,
		"failed":    r.report.Status.Failed,
		"expected":  r.report.Status.Expected,
		"elapsed":   elapsed.Round(time.Millisecond),
	}).Info("run finalized")
}

// Ceasefire stops the current run on every wasp and finalizes it.
func (h *Hive) Ceasefire(ctx context.Context) error {
	h.mu.Lock()
	r := h.run
	if r == nil {
		h.mu.Unlock()
		return ErrIdle
	}
	workers := make([]registry.Worker, 0, len(r.expected))
	for _, w := range r.expected {
		workers = append(workers, w)
	}
	h.finalizeLocked(report.FinishCeasefire)
	h.mu.Unlock()

	results := h.broadcast(ctx, workers, h.wasps.Ceasefire)
	if err := results.Err(); err != nil {
		log.WithError(err).WithField("failed", len(results.Failed())).Warn("ceasefire not delivered to every wasp")
	}
	return nil
}

// Torch tells every remote wasp to exit, kills the local ones and empties the
// registry. It returns how many wasps were torched.
func (h *Hive) Torch(ctx context.Context) int {
	workers := h.registry.Clear()
	h.metrics.SetWasps(0)

	var remote []registry.Worker
	for _, w := range workers {
		if !w.Local {
			remote = append(remote, w)
		}
	}
	results := h.broadcast(ctx, remote, h.wasps.Die)
	if err := results.Err(); err != nil {
		log.WithError(err).WithField("failed", len(results.Failed())).Warn("die not delivered to every wasp")
	}

	local := h.killLocal()
	log.WithFields(log.Fields{"remote": len(remote), "local": local}).Info("torched wasps")
	return len(remote) + local
}

// TorchLocal kills only the wasps this hive spawned and forgets them.
func (h *Hive) TorchLocal(ctx context.Context) int {
	for _, w := range h.registry.List() {
		if w.Local || h.isLocal(w.Host, w.Port) {
			h.registry.Remove(w.Addr())
		}
	}
	n := h.killLocal()
	h.metrics.SetWasps(h.registry.Len())
	log.WithField("local", n).Info("torched local wasps")
	return n
}

func (h *Hive) killLocal() int {
	if h.opts.Supervisor == nil {
		return 0
	}
	n, err := h.opts.Supervisor.KillAll()
	if err != nil {
		log.WithError(err).Warn("some local wasps could not be killed")
	}
	return n
}

// BoopSnoots boops every wasp, drops the ones that do not answer and
// replaces local ones among them.
func (h *Hive) BoopSnoots(ctx context.Context) (BoopResult, error) {
	h.mu.Lock()
	running := h.run != nil
	h.mu.Unlock()
	if running {
		return BoopResult{}, ErrRunning
	}
	workers := h.registry.List()
	if len(workers) == 0 {
		return BoopResult{}, ErrNoWorkers
	}

	results := h.broadcast(ctx, workers, h.wasps.Boop)
	res := BoopResult{Alive: results.Succeeded()}
	for _, failed := range results.Failed() {
		w := failed.Target
		log.WithError(failed.Err).WithField("wasp", w.ID).Warn("wasp did not answer boop, removing")
		h.registry.Remove(w.Addr())
		res.Removed++
		if h.replace(ctx, w) {
			res.Replaced++
		}
	}
	h.metrics.SetWasps(h.registry.Len())
	return res, nil
}

// replace spawns a successor for a dead local wasp.
func (h *Hive) replace(ctx context.Context, w registry.Worker) bool {
	sup := h.opts.Supervisor
	if sup == nil || !w.Local || !sup.Owns(w.Port) {
		return false
	}
	_, err := sup.Replace(ctx, w.Port)
	h.metrics.Replaced(err)
	if err != nil {
		log.WithError(err).WithField("port", w.Port).Error("could not replace local wasp")
		return false
	}
	return true
}

// SpawnLocal starts n wasps on the hive's host.
func (h *Hive) SpawnLocal(ctx context.Context, n int) ([]supervisor.LocalWasp, error) {
	if h.opts.Supervisor == nil {
		return nil, ErrNoSupervisor
	}
	if n < 1 {
		return nil, &protocol.ValidationError{Field: "amount", Reason: "must be at least 1"}
	}
	h.mu.Lock()
	running := h.run != nil
	h.mu.Unlock()
	if running {
		return nil, ErrRunning
	}
	return h.opts.Supervisor.SpawnLocal(ctx, n)
}

// Status reports idle with the wasp count, or the running job's progress.
func (h *Hive) Status() protocol.Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.registry.Len()
	if h.run == nil {
		return protocol.Status{
			Wasps:   n,
			Message: fmt.Sprintf("Hive is ready to poke with %d wasps", n),
		}
	}
	p := h.progressLocked(time.Now())
	return protocol.Status{Running: true, Wasps: n, Message: p.Message, Run: &p}
}

// Running reports whether a run is in flight.
func (h *Hive) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run != nil
}

// LastReport returns the most recent finalized report.
func (h *Hive) LastReport() (*report.Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.run != nil {
		return nil, ErrRunning
	}
	if h.last == nil {
		return nil, ErrNoReport
	}
	return h.last, nil
}

func (h *Hive) progressLocked(now time.Time) protocol.Progress {
	r := h.run
	c := r.report.Status
	req := r.spec.Request()

	percent := 0.0
	if c.Expected > 0 {
		percent = float64(c.Completed+c.Failed) / float64(c.Expected) * 100
	}
	eta := r.spec.Duration - now.Sub(r.started)
	if eta < 0 {
		eta = 0
	}
	return protocol.Progress{
		Target:      r.spec.Target,
		Threads:     r.spec.Threads,
		Concurrency: r.spec.Concurrency,
		Duration:    req.Duration,
		Timeout:     req.Timeout,
		Expected:    c.Expected,
		Completed:   c.Completed,
		Failed:      c.Failed,
		Percent:     percent,
		ETA:         eta,
		ETASeconds:  eta.Seconds(),
		Message: fmt.Sprintf("Hive is busy attacking %s: %d/%d wasps reported, about %s left",
			r.spec.Target, c.Completed+c.Failed, c.Expected, eta.Round(time.Second)),
	}
}

func (h *Hive) broadcast(ctx context.Context, workers []registry.Worker, call func(context.Context, string) error) fanout.Results[registry.Worker] {
	return fanout.Broadcast(ctx, workers, h.opts.FanoutLimit, func(ctx context.Context, w registry.Worker) error {
		ctx, cancel := context.WithTimeout(ctx, h.opts.RequestTimeout)
		defer cancel()
		return call(ctx, w.URL())
	})
}

func (h *Hive) isLocal(host string, port int) bool {
	sup := h.opts.Supervisor
	if sup == nil || !sup.Owns(port) {
		return false
	}
	return isLoopback(host) || host == sup.Host()
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
