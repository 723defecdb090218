// Package output renders hive reports, statuses and progress for operators.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/waspswithbazookas/wwb/internal/protocol"
	"github.com/waspswithbazookas/wwb/internal/registry"
	"github.com/waspswithbazookas/wwb/internal/report"
	"github.com/waspswithbazookas/wwb/internal/threshold"
)

// Formats accepted by Write.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatHTML = "html"
)

// Write renders r in the named format. Threshold results are included by the
// text and HTML formats.
func Write(w io.Writer, format string, r *report.Report, results []threshold.Result) error {
	switch strings.ToLower(format) {
	case "", FormatText:
		PrintReport(w, r)
		PrintThresholds(w, results)
		return nil
	case FormatJSON:
		return PrintJSONReport(w, r)
	case FormatYAML:
		return PrintYAMLReport(w, r)
	case FormatHTML:
		return GenerateHTMLReport(w, r, results)
	default:
		return fmt.Errorf("unknown output format %q (text, json, yaml, html)", format)
	}
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r *report.Report) {
	fmt.Fprintln(w, "\n--- Hive Report ---")
	fmt.Fprintf(w, "Run:               %s\n", r.ID)
	fmt.Fprintf(w, "Target:            %s\n", r.Target)
	fmt.Fprintf(w, "Job:               %d threads, %d connections, %ds (timeout %ds)\n", r.Threads, r.Concurrency, r.Duration, r.Timeout)
	fmt.Fprintf(w, "Finished:          %s", r.FinishReason)
	if !r.EndTime.IsZero() {
		fmt.Fprintf(w, " after %s", r.EndTime.Sub(r.StartTime).Round(time.Millisecond))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Wasps:             %d completed, %d failed, %d expected\n", r.Status.Completed, r.Status.Failed, r.Status.Expected)

	fmt.Fprintln(w, "\nRequests:")
	fmt.Fprintf(w, "  Total:           %s\n", humanize.Comma(r.TotalRequests))
	fmt.Fprintf(w, "  Requests/sec:    %.2f\n", r.TotalRPS)
	fmt.Fprintf(w, "  Read:            %.2f%s\n", r.Read.Val, r.Read.Unit)
	fmt.Fprintf(w, "  Transfer/sec:    %.2f%s\n", r.TPS.Val, r.TPS.Unit)
	fmt.Fprintf(w, "  Non-2xx/3xx:     %d\n", r.NonSuccessRequests)
	fmt.Fprintf(w, "  Socket errors:   connect %d, read %d, write %d, timeout %d\n",
		r.Errors.Connect, r.Errors.Read, r.Errors.Write, r.Errors.Timeout)

	fmt.Fprintln(w, "\nLatency (ms):")
	fmt.Fprintf(w, "  Avg:             %.2f\n", r.Latency.Avg)
	fmt.Fprintf(w, "  Max:             %.2f\n", r.Latency.Max)
	fmt.Fprintf(w, "  P50 of wasps:    %.2f\n", r.Latency.Spread.P50)
	fmt.Fprintf(w, "  P90 of wasps:    %.2f\n", r.Latency.Spread.P90)
	fmt.Fprintf(w, "  P99 of wasps:    %.2f\n", r.Latency.Spread.P99)

	fmt.Fprintln(w, "\nReq/sec per thread:")
	fmt.Fprintf(w, "  Avg:             %.2f\n", r.RPS.Avg)
	fmt.Fprintf(w, "  Max:             %.2f\n", r.RPS.Max)

	if len(r.Wasp.Reports) > 0 {
		fmt.Fprintln(w, "\nWasps:")
		for _, e := range r.Wasp.Reports {
			if e.Stats != nil {
				fmt.Fprintf(w, "  - %s (%s): %s requests, %.2f req/s, latency avg %.2fms\n",
					e.Wasp.ID, e.Wasp.Addr(), humanize.Comma(e.Stats.TotalRequests), e.Stats.TotalRPS, e.Stats.Latency.Avg)
				continue
			}
			fmt.Fprintf(w, "  - %s (%s): %s: %s\n", e.Wasp.ID, e.Wasp.Addr(), e.Status, firstLine(e.Error))
		}
	}
}

// PrintThresholds lists threshold outcomes under a summary line.
func PrintThresholds(w io.Writer, results []threshold.Result) {
	if len(results) == 0 {
		return
	}
	passed := 0
	for _, r := range results {
		if r.Pass {
			passed++
		}
	}
	fmt.Fprintf(w, "\nThresholds: %d/%d passed\n", passed, len(results))
	for _, r := range results {
		fmt.Fprintf(w, "  %s\n", r.Message)
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r *report.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, r *report.Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// PrintStatus writes the hive status as one or two lines.
func PrintStatus(w io.Writer, st protocol.Status) {
	fmt.Fprintln(w, st.Message)
	if st.Run != nil {
		fmt.Fprintln(w, ProgressLine(*st.Run))
	}
}

// PrintWasps lists registered wasps with their heartbeat age.
func PrintWasps(w io.Writer, workers []registry.Worker, now time.Time) {
	if len(workers) == 0 {
		fmt.Fprintln(w, "No wasps registered")
		return
	}
	for _, wk := range workers {
		kind := "remote"
		if wk.Local {
			kind = "local"
		}
		fmt.Fprintf(w, "%-10s %-22s %-6s last seen %s\n", wk.ID, wk.Addr(), kind, humanize.RelTime(wk.LastHeartbeat, now, "ago", "from now"))
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
