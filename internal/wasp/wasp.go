// Package wasp is the load agent: it accepts one job at a time from the hive,
// runs wrk for it and reports the parsed result back.
package wasp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/waspswithbazookas/wwb/internal/metrics"
	"github.com/waspswithbazookas/wwb/internal/protocol"
	"github.com/waspswithbazookas/wwb/internal/wrk"
)

var (
	ErrBusy = errors.New("wasp is busy")
	ErrIdle = errors.New("wasp is not running a job")
)

const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultCheckinAttempts   = 5
	DefaultReportTimeout     = 10 * time.Second
)

// HiveAPI is the set of hive calls a wasp makes.
type HiveAPI interface {
	Checkin(ctx context.Context, port int, advertiseHost string) (string, error)
	Heartbeat(ctx context.Context, port int, advertiseHost string) error
	ReportIn(ctx context.Context, id string, stats protocol.Stats) error
	ReportFailure(ctx context.Context, id, output string) error
}

type Options struct {
	// Port is the port this wasp listens on; the hive keys it by host:port.
	Port int
	// AdvertiseHost overrides the source address the hive records.
	AdvertiseHost     string
	WrkPath           string
	ScriptDir         string
	HeartbeatInterval time.Duration
	CheckinAttempts   int
	CheckinDelay      time.Duration
	ReportTimeout     time.Duration
	Metrics           *metrics.Wasp
}

// Wasp owns at most one wrk process at a time.
type Wasp struct {
	hive    HiveAPI
	opts    Options
	metrics *metrics.Wasp

	mu   sync.Mutex
	id   string
	job  *job
	last *protocol.BattleReport

	dying     chan struct{}
	dyingOnce sync.Once
	finished  chan protocol.BattleReport
}

type job struct {
	spec    protocol.JobSpec
	proc    *wrk.Process
	started time.Time
}

func New(hive HiveAPI, opts Options) *Wasp {
	if opts.WrkPath == "" {
		opts.WrkPath = wrk.DefaultPath
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.CheckinAttempts < 1 {
		opts.CheckinAttempts = DefaultCheckinAttempts
	}
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = DefaultReportTimeout
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewWasp(metrics.NewRegistry())
	}
	return &Wasp{
		hive:     hive,
		opts:     opts,
		metrics:  m,
		dying:    make(chan struct{}),
		finished: make(chan protocol.BattleReport, 1),
	}
}

// ID is the id the hive assigned at check-in, empty before that.
func (w *Wasp) ID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id
}

func (w *Wasp) setID(id string) {
	w.mu.Lock()
	w.id = id
	w.mu.Unlock()
}

// Busy reports whether a wrk process is running.
func (w *Wasp) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.job != nil
}

// Fire validates req and starts wrk. A second fire while busy is rejected and
// leaves the running process alone.
func (w *Wasp) Fire(req protocol.JobRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.job != nil {
		w.metrics.Fire("busy")
		return ErrBusy
	}
	spec, err := req.Normalize()
	if err != nil {
		w.metrics.Fire("invalid")
		return err
	}

	cleanup := func() {}
	scriptPath := ""
	if spec.Script != "" {
		scriptPath, cleanup, err = wrk.WriteScript(w.opts.ScriptDir, spec.Script)
		if err != nil {
			w.metrics.Fire("error")
			return err
		}
	}
	cmd := wrk.BuildCommand(w.opts.WrkPath, spec, scriptPath)
	proc, err := wrk.Start(cmd)
	if err != nil {
		cleanup()
		w.metrics.Fire("error")
		return err
	}

	j := &job{spec: spec, proc: proc, started: time.Now()}
	w.job = j
	w.metrics.Fire("accepted")
	w.metrics.RunStarted()
	log.WithFields(log.Fields{"target": spec.Target, "pid": proc.Pid(), "cmd": cmd.String()}).Info("wrk started")

	go w.watch(j, cleanup)
	return nil
}

// watch waits for the process, clears the busy state and reports the result.
func (w *Wasp) watch(j *job, cleanup func()) {
	res := j.proc.Wait()
	cleanup()

	br := protocol.BattleReport{
		Target:   j.spec.Target,
		Outcome:  res.Outcome.String(),
		Started:  j.started,
		Finished: time.Now(),
	}
	var stats *protocol.Stats
	if res.Outcome == wrk.OutcomeDone {
		s, err := wrk.Parse(res.Stdout)
		if err != nil {
			br.Outcome = wrk.OutcomeFailed.String()
			br.Error = fmt.Sprintf("parse wrk output: %v\n%s", err, res.Output())
		} else {
			stats = &s
			br.Stats = &s
		}
	} else if res.Outcome == wrk.OutcomeFailed {
		br.Error = res.Output()
	}

	w.mu.Lock()
	w.job = nil
	w.last = &br
	id := w.id
	w.mu.Unlock()

	w.metrics.RunFinished(br.Outcome, br.Finished.Sub(br.Started))
	logger := log.WithFields(log.Fields{"target": br.Target, "outcome": br.Outcome, "exit_code": res.ExitCode})
	logger.Info("wrk exited")

	if res.Outcome != wrk.OutcomeStopped {
		ctx, cancel := context.WithTimeout(context.Background(), w.opts.ReportTimeout)
		var err error
		if stats != nil {
			err = w.hive.ReportIn(ctx, id, *stats)
		} else {
			err = w.hive.ReportFailure(ctx, id, br.Error)
		}
		cancel()
		if err != nil {
			logger.WithError(err).Error("could not report to hive")
		}
	}

	select {
	case w.finished <- br:
	default:
	}
}

// Ceasefire kills the running process. The run ends as stopped and nothing is
// reported to the hive.
func (w *Wasp) Ceasefire() error {
	w.mu.Lock()
	j := w.job
	w.mu.Unlock()
	if j == nil {
		return ErrIdle
	}
	log.WithField("target", j.spec.Target).Warn("ceasefire, stopping wrk")
	return j.proc.Stop()
}

// Die asks the agent to exit once the caller has had its response. It is
// refused while a job runs.
func (w *Wasp) Die() error {
	if w.Busy() {
		return ErrBusy
	}
	w.dyingOnce.Do(func() { close(w.dying) })
	return nil
}

// Dying is closed after a successful Die.
func (w *Wasp) Dying() <-chan struct{} {
	return w.dying
}

// LastResult returns the outcome of the most recent run.
func (w *Wasp) LastResult() (protocol.BattleReport, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return protocol.BattleReport{}, false
	}
	return *w.last, true
}
