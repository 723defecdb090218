// Package report aggregates per-wasp results into a single run report.
package report

import (
	"math"
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/waspswithbazookas/wwb/internal/protocol"
	"github.com/waspswithbazookas/wwb/internal/registry"
)

// FinishReason records which path ended a run.
type FinishReason string

const (
	FinishCompleted FinishReason = "completed"
	FinishDeadline  FinishReason = "deadline"
	FinishCeasefire FinishReason = "ceasefire"
)

const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Entry is one wasp's contribution.
type Entry struct {
	Wasp   registry.Worker `json:"wasp" yaml:"wasp"`
	Status string          `json:"status" yaml:"status"`
	Stats  *protocol.Stats `json:"stats,omitempty" yaml:"stats,omitempty"`
	Error  string          `json:"error,omitempty" yaml:"error,omitempty"`
}

type Entries struct {
	Reports []Entry `json:"reports" yaml:"reports"`
}

type Counts struct {
	Expected  int `json:"expected" yaml:"expected"`
	Completed int `json:"completed" yaml:"completed"`
	Failed    int `json:"failed" yaml:"failed"`
}

// Percentiles is the spread of per-wasp average latencies, in milliseconds.
type Percentiles struct {
	P50 float64 `json:"p50" yaml:"p50"`
	P90 float64 `json:"p90" yaml:"p90"`
	P99 float64 `json:"p99" yaml:"p99"`
}

type Latency struct {
	Avg    float64     `json:"avg" yaml:"avg"`
	Max    float64     `json:"max" yaml:"max"`
	Spread Percentiles `json:"spread" yaml:"spread"`
}

type RPS struct {
	Avg float64 `json:"avg" yaml:"avg"`
	Max float64 `json:"max" yaml:"max"`
}

// Scaled is a value expressed in a human-sized unit.
type Scaled struct {
	Val  float64 `json:"val" yaml:"val"`
	Unit string  `json:"unit" yaml:"unit"`
}

// Report is the aggregate of one run. It accumulates while the run is in
// flight and must not be mutated after Finalize.
type Report struct {
	ID           string       `json:"id" yaml:"id"`
	Target       string       `json:"target" yaml:"target"`
	Threads      int          `json:"threads" yaml:"threads"`
	Concurrency  int          `json:"concurrency" yaml:"concurrency"`
	Duration     int          `json:"duration" yaml:"duration"`
	Timeout      int          `json:"timeout" yaml:"timeout"`
	StartTime    time.Time    `json:"startTime" yaml:"startTime"`
	EndTime      time.Time    `json:"endTime,omitempty" yaml:"endTime,omitempty"`
	FinishReason FinishReason `json:"finishReason,omitempty" yaml:"finishReason,omitempty"`

	Wasp   Entries `json:"wasp" yaml:"wasp"`
	Status Counts  `json:"status" yaml:"status"`

	Latency            Latency              `json:"latency" yaml:"latency"`
	RPS                RPS                  `json:"rps" yaml:"rps"`
	TotalRPS           float64              `json:"totalRPS" yaml:"totalRPS"`
	TotalRequests      int64                `json:"totalRequests" yaml:"totalRequests"`
	ReadBytes          float64              `json:"readBytes" yaml:"readBytes"`
	TPSBytes           float64              `json:"tpsBytes" yaml:"tpsBytes"`
	Read               Scaled               `json:"read" yaml:"read"`
	TPS                Scaled               `json:"tps" yaml:"tps"`
	NonSuccessRequests int64                `json:"nonSuccessRequests" yaml:"nonSuccessRequests"`
	Errors             protocol.ErrorCounts `json:"errors" yaml:"errors"`

	latencySum float64
	rpsSum     float64
	spread     *hdrhistogram.Histogram
	finalized  bool
}

// New starts an empty report for a run expecting the given number of wasps.
func New(id string, spec protocol.JobSpec, expected int, start time.Time) *Report {
	req := spec.Request()
	return &Report{
		ID:          id,
		Target:      spec.Target,
		Threads:     spec.Threads,
		Concurrency: spec.Concurrency,
		Duration:    req.Duration,
		Timeout:     req.Timeout,
		StartTime:   start,
		Wasp:        Entries{Reports: []Entry{}},
		Status:      Counts{Expected: expected},
		Read:        Scaled{Unit: "B"},
		TPS:         Scaled{Unit: "B/s"},
		// Per-wasp average latency from 1µs to 10min, 3 significant figures.
		spread: hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3),
	}
}

// Responded returns completed+failed.
func (r *Report) Responded() int {
	return r.Status.Completed + r.Status.Failed
}

// Full reports whether every expected wasp has responded.
func (r *Report) Full() bool {
	return r.Responded() >= r.Status.Expected
}

// Success folds a wasp's stats into the accumulators.
func (r *Report) Success(w registry.Worker, stats protocol.Stats) {
	if r.finalized || r.Full() {
		return
	}
	s := stats
	r.Wasp.Reports = append(r.Wasp.Reports, Entry{Wasp: w, Status: StatusComplete, Stats: &s})
	r.Status.Completed++

	r.TotalRPS += stats.TotalRPS
	r.TotalRequests += stats.TotalRequests
	r.ReadBytes += stats.Read
	r.TPSBytes += stats.TPS
	r.NonSuccessRequests += stats.NonSuccessRequests
	r.Errors = r.Errors.Add(stats.Errors)

	r.latencySum += stats.Latency.Avg
	r.rpsSum += stats.RPS.Avg
	if stats.Latency.Max > r.Latency.Max {
		r.Latency.Max = stats.Latency.Max
	}
	if stats.RPS.Max > r.RPS.Max {
		r.RPS.Max = stats.RPS.Max
	}

	us := int64(math.Round(stats.Latency.Avg * 1000))
	if us < r.spread.LowestTrackableValue() {
		us = r.spread.LowestTrackableValue()
	}
	if us > r.spread.HighestTrackableValue() {
		us = r.spread.HighestTrackableValue()
	}
	_ = r.spread.RecordValue(us)
}

// Failure records a wasp that could not produce stats.
func (r *Report) Failure(w registry.Worker, errText string) {
	if r.finalized || r.Full() {
		return
	}
	r.Wasp.Reports = append(r.Wasp.Reports, Entry{Wasp: w, Status: StatusFailed, Error: errText})
	r.Status.Failed++
}

// Finalize turns the accumulated sums into averages and scaled units. Averages
// divide by the number of completed wasps; with none completed they are zero.
func (r *Report) Finalize(end time.Time, reason FinishReason) {
	if r.finalized {
		return
	}
	r.finalized = true
	r.EndTime = end
	r.FinishReason = reason

	if n := float64(r.Status.Completed); n > 0 {
		r.Latency.Avg = r.latencySum / n
		r.RPS.Avg = r.rpsSum / n
	}
	if r.spread.TotalCount() > 0 {
		r.Latency.Spread = Percentiles{
			P50: float64(r.spread.ValueAtQuantile(50)) / 1000,
			P90: float64(r.spread.ValueAtQuantile(90)) / 1000,
			P99: float64(r.spread.ValueAtQuantile(99)) / 1000,
		}
	}

	r.Read = Scale(r.ReadBytes, "B")
	r.TPS = Scale(r.TPSBytes, "B/s")
}

// binaryPrefixes are the IEC multiples of 1024 used by Scale.
var binaryPrefixes = []string{"", "Ki", "Mi", "Gi", "Ti", "Pi", "Ei"}

// Scale expresses v in the largest power-of-1024 multiple of unit whose
// magnitude is at least 1 (1536 B becomes 1.5 KiB). The base matches the
// one wrk uses for the byte counts it prints.
func Scale(v float64, unit string) Scaled {
	unit = strings.TrimSpace(unit)
	i := 0
	for math.Abs(v) >= 1024 && i < len(binaryPrefixes)-1 {
		v /= 1024
		i++
	}
	return Scaled{Val: v, Unit: binaryPrefixes[i] + unit}
}
