package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/waspswithbazookas/wwb/internal/protocol"
	"github.com/waspswithbazookas/wwb/internal/registry"
	"github.com/waspswithbazookas/wwb/internal/report"
	"github.com/waspswithbazookas/wwb/internal/threshold"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func sampleReport(t *testing.T) *report.Report {
	t.Helper()
	spec, err := protocol.JobRequest{Target: "http://target.test/", Threads: 2, Concurrency: 10, Duration: 30}.Normalize()
	if err != nil {
		t.Fatal(err)
	}
	r := report.New("01HRUN", spec, 2, start)
	r.Success(registry.Worker{ID: "wasp-0", Host: "10.0.0.1", Port: 4268}, protocol.Stats{
		Latency:       protocol.Spread{Avg: 12.5, Max: 40},
		RPS:           protocol.Spread{Avg: 100, Max: 130},
		TotalRequests: 12345,
		TotalRPS:      411.5,
		Read:          2048,
		TPS:           1024,
	})
	r.Failure(registry.Worker{ID: "wasp-1", Host: "10.0.0.2", Port: 4268}, "unable to connect\nmore detail")
	r.Finalize(start.Add(31*time.Second), report.FinishCompleted)
	return r
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleReport(t))
	out := buf.String()

	for _, want := range []string{
		"Target:            http://target.test/",
		"1 completed, 1 failed, 2 expected",
		"Total:           12,345",
		"Read:            2.00KiB",
		"Avg:             12.50",
		"Finished:          completed after 31s",
		"wasp-0 (10.0.0.1:4268): 12,345 requests",
		"wasp-1 (10.0.0.2:4268): failed: unable to connect ...",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}
}

func TestWriteFormats(t *testing.T) {
	r := sampleReport(t)

	var js bytes.Buffer
	if err := Write(&js, FormatJSON, r, nil); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["totalRequests"].(float64) != 12345 {
		t.Errorf("totalRequests = %v", decoded["totalRequests"])
	}

	var ym bytes.Buffer
	if err := Write(&ym, FormatYAML, r, nil); err != nil {
		t.Fatal(err)
	}
	var y map[string]any
	if err := yaml.Unmarshal(ym.Bytes(), &y); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if y["target"] != "http://target.test/" {
		t.Errorf("target = %v", y["target"])
	}

	if err := Write(&bytes.Buffer{}, "xml", r, nil); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestTextIncludesThresholds(t *testing.T) {
	r := sampleReport(t)
	ths, err := threshold.ParseMultiple([]string{"latency:avg < 20", "wasps:failed == 0"})
	if err != nil {
		t.Fatal(err)
	}
	results := threshold.NewEvaluator(ths).Evaluate(r)

	var buf bytes.Buffer
	if err := Write(&buf, FormatText, r, results); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Thresholds: 1/2 passed") {
		t.Errorf("missing threshold summary\n%s", out)
	}
	if !strings.Contains(out, "✗ wasps:failed == 0") {
		t.Errorf("missing failed threshold\n%s", out)
	}
}

func TestGenerateHTMLReport(t *testing.T) {
	r := sampleReport(t)
	ths, _ := threshold.ParseMultiple([]string{"latency:avg < 20"})
	results := threshold.NewEvaluator(ths).Evaluate(r)

	var buf bytes.Buffer
	if err := Write(&buf, FormatHTML, r, results); err != nil {
		t.Fatal(err)
	}
	html := buf.String()
	for _, want := range []string{"<!DOCTYPE html>", "wwb report 01HRUN", "Thresholds (1/1 passed)", "wasp-1", "unable to connect"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
}

func TestPrintWasps(t *testing.T) {
	var buf bytes.Buffer
	PrintWasps(&buf, nil, start)
	if !strings.Contains(buf.String(), "No wasps registered") {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	PrintWasps(&buf, []registry.Worker{
		{ID: "wasp-0", Host: "127.0.0.1", Port: 4268, Local: true, LastHeartbeat: start.Add(-3 * time.Second)},
	}, start)
	out := buf.String()
	if !strings.Contains(out, "127.0.0.1:4268") || !strings.Contains(out, "local") || !strings.Contains(out, "3 seconds ago") {
		t.Errorf("unexpected output %q", out)
	}
}
