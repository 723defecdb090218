package threshold

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/waspswithbazookas/wwb/internal/protocol"
	"github.com/waspswithbazookas/wwb/internal/registry"
	"github.com/waspswithbazookas/wwb/internal/report"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Threshold
		wantError bool
	}{
		{
			name:  "p99 latency",
			input: "latency:p99 < 250",
			want:  Threshold{Metric: "latency", Aggregate: "p99", Operator: "<", Value: 250, Raw: "latency:p99 < 250"},
		},
		{
			name:  "error rate without spaces",
			input: "errors:rate<=0.01",
			want:  Threshold{Metric: "errors", Aggregate: "rate", Operator: "<=", Value: 0.01, Raw: "errors:rate<=0.01"},
		},
		{
			name:  "failed wasps",
			input: "  wasps:failed == 0 ",
			want:  Threshold{Metric: "wasps", Aggregate: "failed", Operator: "==", Value: 0, Raw: "wasps:failed == 0"},
		},
		{
			name:  "requests rate",
			input: "requests:rate > 1000",
			want:  Threshold{Metric: "requests", Aggregate: "rate", Operator: ">", Value: 1000, Raw: "requests:rate > 1000"},
		},
		{name: "empty string", input: "", wantError: true},
		{name: "missing operator", input: "latency:p99 250", wantError: true},
		{name: "unknown metric", input: "http_req_duration:p95 < 500", wantError: true},
		{name: "aggregate of another metric", input: "rps:p99 < 5", wantError: true},
		{name: "unknown operator", input: "latency:avg << 5", wantError: true},
		{name: "not a number", input: "latency:avg < abc", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantError {
				t.Fatalf("Parse() error = %v, wantError %v", err, tt.wantError)
			}
			if !tt.wantError && got != tt.want {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseMultipleCollectsAllErrors(t *testing.T) {
	_, err := ParseMultiple([]string{"latency:avg < 5", "bogus", "rps:p50 > 1"})
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "threshold[1]") || !strings.Contains(msg, "threshold[2]") {
		t.Errorf("error should name both bad thresholds, got %q", msg)
	}

	got, err := ParseMultiple([]string{"latency:avg < 5", "wasps:completed >= 3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d thresholds, want 2", len(got))
	}

	none, err := ParseMultiple(nil)
	if err != nil || none != nil {
		t.Errorf("ParseMultiple(nil) = %v, %v", none, err)
	}
}

func finishedReport(t *testing.T) *report.Report {
	t.Helper()
	spec, err := protocol.JobRequest{Target: "http://target.test/"}.Normalize()
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := report.New("run", spec, 3, start)
	w := registry.Worker{ID: "wasp-0", Host: "10.0.0.1", Port: 4268}
	r.Success(w, protocol.Stats{
		Latency:            protocol.Spread{Avg: 10, Max: 40},
		RPS:                protocol.Spread{Avg: 100, Max: 150},
		TotalRequests:      1000,
		TotalRPS:           100,
		NonSuccessRequests: 5,
		Errors:             protocol.ErrorCounts{Connect: 2, Timeout: 3},
	})
	r.Success(w, protocol.Stats{
		Latency:       protocol.Spread{Avg: 30, Max: 60},
		RPS:           protocol.Spread{Avg: 200, Max: 250},
		TotalRequests: 1000,
		TotalRPS:      200,
	})
	r.Failure(w, "unable to connect")
	r.Finalize(start.Add(30*time.Second), report.FinishCompleted)
	return r
}

func TestValue(t *testing.T) {
	r := finishedReport(t)
	tests := []struct {
		metric, aggregate string
		want              float64
	}{
		{"latency", "avg", 20},
		{"latency", "max", 60},
		{"rps", "avg", 150},
		{"rps", "max", 250},
		{"requests", "total", 2000},
		{"requests", "rate", 300},
		{"errors", "count", 10},
		{"errors", "rate", 0.005},
		{"wasps", "failed", 1},
		{"wasps", "completed", 2},
	}
	for _, tt := range tests {
		got, err := Value(r, tt.metric, tt.aggregate)
		if err != nil {
			t.Errorf("Value(%s:%s) error: %v", tt.metric, tt.aggregate, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Value(%s:%s) = %v, want %v", tt.metric, tt.aggregate, got, tt.want)
		}
	}

	p50, err := Value(r, "latency", "p50")
	if err != nil || p50 < 9.9 || p50 > 30.1 {
		t.Errorf("latency:p50 = %v, %v; want within the per-wasp averages", p50, err)
	}
}

func TestErrorRateWithNoRequests(t *testing.T) {
	spec, _ := protocol.JobRequest{Target: "http://target.test/"}.Normalize()
	r := report.New("run", spec, 1, time.Now())
	r.Finalize(time.Now(), report.FinishDeadline)
	got, err := Value(r, "errors", "rate")
	if err != nil || got != 0 {
		t.Errorf("errors:rate on empty report = %v, %v; want 0", got, err)
	}
}

func TestEvaluate(t *testing.T) {
	r := finishedReport(t)
	ths, err := ParseMultiple([]string{"latency:avg < 25", "wasps:failed == 0", "rps:max >= 250"})
	if err != nil {
		t.Fatal(err)
	}
	results := NewEvaluator(ths).Evaluate(r)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	wantPass := []bool{true, false, true}
	for i, res := range results {
		if res.Pass != wantPass[i] {
			t.Errorf("%s: pass = %v, want %v (%s)", res.Threshold.Raw, res.Pass, wantPass[i], res.Message)
		}
	}
	if !strings.HasPrefix(results[1].Message, "✗ wasps:failed == 0: 1.00") {
		t.Errorf("unexpected message %q", results[1].Message)
	}
	if AllPass(results) {
		t.Error("AllPass should be false")
	}
	if !AllPass(nil) {
		t.Error("AllPass(nil) should be true")
	}
	if NewEvaluator(nil).Evaluate(r) != nil {
		t.Error("no thresholds should yield nil results")
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		actual   float64
		op       string
		expected float64
		want     bool
	}{
		{1, "<", 2, true},
		{2, "<", 2, false},
		{2, "<=", 2, true},
		{3, ">", 2, true},
		{2, ">=", 2.0000000001, true},
		{0.1 + 0.2, "==", 0.3, true},
		{1, "!=", 2, false},
	}
	for _, tt := range tests {
		if got := compare(tt.actual, tt.op, tt.expected); got != tt.want {
			t.Errorf("compare(%v %s %v) = %v, want %v", tt.actual, tt.op, tt.expected, got, tt.want)
		}
	}
}
