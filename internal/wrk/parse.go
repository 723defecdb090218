package wrk

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/waspswithbazookas/wwb/internal/protocol"
)

// ErrNoSummary is returned when the output does not contain a wrk summary.
var ErrNoSummary = errors.New("wrk summary not found in output")

var (
	latencyRe  = regexp.MustCompile(`(?m)^\s*Latency\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)`)
	reqSecRe   = regexp.MustCompile(`(?m)^\s*Req/Sec\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)`)
	totalRe    = regexp.MustCompile(`(\d+) requests in ([0-9.]+[a-z]+), ([0-9.]+[A-Za-z]+) read`)
	socketRe   = regexp.MustCompile(`Socket errors: connect (\d+), read (\d+), write (\d+), timeout (\d+)`)
	non2xxRe   = regexp.MustCompile(`Non-2xx or 3xx responses: (\d+)`)
	reqRateRe  = regexp.MustCompile(`Requests/sec:\s+([0-9.]+)`)
	transferRe = regexp.MustCompile(`Transfer/sec:\s+([0-9.]+[A-Za-z]+)`)
)

// Parse extracts run statistics from wrk's text summary.
func Parse(output string) (protocol.Stats, error) {
	var stats protocol.Stats

	lat := latencyRe.FindStringSubmatch(output)
	if lat == nil {
		return stats, fmt.Errorf("%w: missing Latency line", ErrNoSummary)
	}
	var err error
	if stats.Latency.Avg, err = parseLatency(lat[1]); err != nil {
		return stats, fmt.Errorf("latency avg: %w", err)
	}
	stats.Latency.Stdev, _ = parseLatency(lat[2])
	if stats.Latency.Max, err = parseLatency(lat[3]); err != nil {
		return stats, fmt.Errorf("latency max: %w", err)
	}
	stats.Latency.StdevPercent = lat[4]

	rps := reqSecRe.FindStringSubmatch(output)
	if rps == nil {
		return stats, fmt.Errorf("%w: missing Req/Sec line", ErrNoSummary)
	}
	if stats.RPS.Avg, err = parseMetric(rps[1]); err != nil {
		return stats, fmt.Errorf("req/sec avg: %w", err)
	}
	stats.RPS.Stdev, _ = parseMetric(rps[2])
	if stats.RPS.Max, err = parseMetric(rps[3]); err != nil {
		return stats, fmt.Errorf("req/sec max: %w", err)
	}
	stats.RPS.StdevPercent = rps[4]

	total := totalRe.FindStringSubmatch(output)
	if total == nil {
		return stats, fmt.Errorf("%w: missing request totals", ErrNoSummary)
	}
	if stats.TotalRequests, err = strconv.ParseInt(total[1], 10, 64); err != nil {
		return stats, fmt.Errorf("total requests: %w", err)
	}
	if d, err := time.ParseDuration(total[2]); err == nil {
		stats.Duration = d.Seconds()
	}
	if stats.Read, err = parseBytes(total[3]); err != nil {
		return stats, fmt.Errorf("bytes read: %w", err)
	}

	rate := reqRateRe.FindStringSubmatch(output)
	if rate == nil {
		return stats, fmt.Errorf("%w: missing Requests/sec", ErrNoSummary)
	}
	if stats.TotalRPS, err = strconv.ParseFloat(rate[1], 64); err != nil {
		return stats, fmt.Errorf("requests/sec: %w", err)
	}

	transfer := transferRe.FindStringSubmatch(output)
	if transfer == nil {
		return stats, fmt.Errorf("%w: missing Transfer/sec", ErrNoSummary)
	}
	if stats.TPS, err = parseBytes(transfer[1]); err != nil {
		return stats, fmt.Errorf("transfer/sec: %w", err)
	}

	if m := socketRe.FindStringSubmatch(output); m != nil {
		stats.Errors = protocol.ErrorCounts{
			Connect: atoi(m[1]),
			Read:    atoi(m[2]),
			Write:   atoi(m[3]),
			Timeout: atoi(m[4]),
		}
	}
	if m := non2xxRe.FindStringSubmatch(output); m != nil {
		stats.NonSuccessRequests = atoi(m[1])
	}

	return stats, nil
}

// parseLatency converts values such as "635.91us" or "1.02s" to milliseconds.
func parseLatency(s string) (float64, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return float64(d) / float64(time.Millisecond), nil
}

// parseMetric converts wrk's SI-suffixed counts such as "56.20k".
func parseMetric(s string) (float64, error) {
	v, unit, err := humanize.ParseSI(s)
	if err != nil {
		return 0, err
	}
	if unit != "" {
		return 0, fmt.Errorf("unexpected unit %q in %q", unit, s)
	}
	return v, nil
}

// parseBytes converts wrk's byte sizes. wrk prints binary multiples with SI
// labels ("17.76GB" is 17.76 GiB), so the label is rewritten before parsing.
func parseBytes(s string) (float64, error) {
	upper := strings.ToUpper(s)
	if len(upper) >= 2 && strings.HasSuffix(upper, "B") && strings.ContainsAny(upper[len(upper)-2:len(upper)-1], "KMGTP") {
		s = s[:len(s)-1] + "iB"
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return float64(n), nil
}

func atoi(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
