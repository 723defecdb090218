package wrk_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waspswithbazookas/wwb/internal/wrk"
)

const fullSummary = `Running 30s test @ http://127.0.0.1:8080/index.html
  12 threads and 400 connections
  Thread Stats   Avg      Stdev     Max   +/- Stdev
    Latency   635.91us    0.89ms  12.92ms   93.69%
    Req/Sec    56.20k     8.07k   62.00k    86.54%
  22464657 requests in 30.00s, 17.76GB read
  Socket errors: connect 1, read 2, write 3, timeout 4
  Non-2xx or 3xx responses: 12
Requests/sec: 748868.53
Transfer/sec:    606.33MB
`

const minimalSummary = `Running 1s test @ http://example.test
  2 threads and 10 connections
  Thread Stats   Avg      Stdev     Max   +/- Stdev
    Latency    10.00ms    2.00ms  20.00ms   75.00%
    Req/Sec   100.00     10.00    120.00     80.00%
  100 requests in 1.00s, 1000.00B read
Requests/sec:    100.00
Transfer/sec:      1000.00B
`

func TestParseFullSummary(t *testing.T) {
	stats, err := wrk.Parse(fullSummary)
	require.NoError(t, err)

	assert.InDelta(t, 0.63591, stats.Latency.Avg, 1e-9)
	assert.InDelta(t, 0.89, stats.Latency.Stdev, 1e-9)
	assert.InDelta(t, 12.92, stats.Latency.Max, 1e-9)
	assert.Equal(t, "93.69%", stats.Latency.StdevPercent)

	assert.InDelta(t, 56200, stats.RPS.Avg, 1e-6)
	assert.InDelta(t, 8070, stats.RPS.Stdev, 1e-6)
	assert.InDelta(t, 62000, stats.RPS.Max, 1e-6)

	assert.Equal(t, int64(22464657), stats.TotalRequests)
	assert.InDelta(t, 30.0, stats.Duration, 1e-9)
	assert.InDelta(t, 17.76*1024*1024*1024, stats.Read, 1)
	assert.InDelta(t, 748868.53, stats.TotalRPS, 1e-6)
	assert.InDelta(t, 606.33*1024*1024, stats.TPS, 1)

	assert.Equal(t, int64(1), stats.Errors.Connect)
	assert.Equal(t, int64(2), stats.Errors.Read)
	assert.Equal(t, int64(3), stats.Errors.Write)
	assert.Equal(t, int64(4), stats.Errors.Timeout)
	assert.Equal(t, int64(12), stats.NonSuccessRequests)
}

func TestParseWithoutOptionalLines(t *testing.T) {
	stats, err := wrk.Parse(minimalSummary)
	require.NoError(t, err)

	assert.InDelta(t, 10, stats.Latency.Avg, 1e-9)
	assert.InDelta(t, 20, stats.Latency.Max, 1e-9)
	assert.InDelta(t, 100, stats.RPS.Avg, 1e-9)
	assert.InDelta(t, 120, stats.RPS.Max, 1e-9)
	assert.Equal(t, int64(100), stats.TotalRequests)
	assert.InDelta(t, 1000, stats.Read, 1e-9)
	assert.InDelta(t, 1000, stats.TPS, 1e-9)
	assert.Zero(t, stats.Errors.Total())
	assert.Zero(t, stats.NonSuccessRequests)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := wrk.Parse("unable to connect to example.test:80 Connection refused")
	require.Error(t, err)
	assert.True(t, errors.Is(err, wrk.ErrNoSummary))
}

func TestParseLatencyInSeconds(t *testing.T) {
	out := `    Latency     1.50s   200.00ms   2.00s    60.00%
    Req/Sec     1.00      0.50      2.00     50.00%
  10 requests in 5.00s, 2.50KB read
Requests/sec:      2.00
Transfer/sec:     512.00B
`
	stats, err := wrk.Parse(out)
	require.NoError(t, err)
	assert.InDelta(t, 1500, stats.Latency.Avg, 1e-9)
	assert.InDelta(t, 200, stats.Latency.Stdev, 1e-9)
	assert.InDelta(t, 2000, stats.Latency.Max, 1e-9)
	assert.InDelta(t, 2560, stats.Read, 1e-9)
	assert.InDelta(t, 512, stats.TPS, 1e-9)
}
