// Package threshold evaluates pass/fail assertions against a finished run
// report, e.g. "latency:p99 < 250" or "errors:rate <= 0.01".
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/waspswithbazookas/wwb/internal/report"
)

// Threshold is one parsed assertion.
type Threshold struct {
	Metric    string  // latency, rps, requests, errors, wasps
	Aggregate string  // e.g. avg, p99, rate, failed
	Operator  string  // <, <=, >, >=, ==
	Value     float64 // compared against the report value
	Raw       string
}

// Result is the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

var pattern = regexp.MustCompile(`^([a-z]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// aggregates lists what each metric supports.
var aggregates = map[string][]string{
	"latency":  {"avg", "max", "p50", "p90", "p99"},
	"rps":      {"avg", "max"},
	"requests": {"total", "rate"},
	"errors":   {"count", "rate"},
	"wasps":    {"failed", "completed"},
}

var operators = []string{"<", "<=", ">", ">=", "=="}

// Parse parses "metric:aggregate op value".
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected metric:aggregate operator value, e.g. 'latency:p99 < 250')", s)
	}
	metric, aggregate, operator := m[1], m[2], m[3]

	value, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", m[4], err)
	}
	supported, ok := aggregates[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: latency, rps, requests, errors, wasps)", metric)
	}
	if !contains(supported, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(supported, ", "))
	}
	if !contains(operators, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{Metric: metric, Aggregate: aggregate, Operator: operator, Value: value, Raw: s}, nil
}

// ParseMultiple parses every string and reports all malformed ones at once.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}
	out := make([]Threshold, 0, len(thresholds))
	var errs *multierror.Error
	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("threshold[%d]: %w", i, err))
			continue
		}
		out = append(out, t)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// Evaluator checks a fixed set of thresholds.
type Evaluator struct {
	thresholds []Threshold
}

func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate checks every threshold against r.
func (e *Evaluator) Evaluate(r *report.Report) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}
	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluate(t, r))
	}
	return results
}

// AllPass reports whether every result passed.
func AllPass(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluate(t Threshold, r *report.Report) Result {
	actual, err := Value(r, t.Metric, t.Aggregate)
	if err != nil {
		return Result{Threshold: t, Message: fmt.Sprintf("error: %v", err)}
	}
	pass := compare(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

// Value extracts metric:aggregate from a finalized report. Latencies are in
// milliseconds; error rate is socket errors plus non-2xx responses over all
// requests.
func Value(r *report.Report, metric, aggregate string) (float64, error) {
	switch metric + ":" + aggregate {
	case "latency:avg":
		return r.Latency.Avg, nil
	case "latency:max":
		return r.Latency.Max, nil
	case "latency:p50":
		return r.Latency.Spread.P50, nil
	case "latency:p90":
		return r.Latency.Spread.P90, nil
	case "latency:p99":
		return r.Latency.Spread.P99, nil
	case "rps:avg":
		return r.RPS.Avg, nil
	case "rps:max":
		return r.RPS.Max, nil
	case "requests:total":
		return float64(r.TotalRequests), nil
	case "requests:rate":
		return r.TotalRPS, nil
	case "errors:count":
		return float64(errorCount(r)), nil
	case "errors:rate":
		if r.TotalRequests == 0 {
			return 0, nil
		}
		return float64(errorCount(r)) / float64(r.TotalRequests), nil
	case "wasps:failed":
		return float64(r.Status.Failed), nil
	case "wasps:completed":
		return float64(r.Status.Completed), nil
	default:
		return 0, fmt.Errorf("unknown metric %s:%s", metric, aggregate)
	}
}

func errorCount(r *report.Report) int64 {
	return r.Errors.Total() + r.NonSuccessRequests
}

func compare(actual float64, operator string, expected float64) bool {
	const epsilon = 1e-9
	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
