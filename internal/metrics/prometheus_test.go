package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waspswithbazookas/wwb/internal/metrics"
)

func TestHiveInstruments(t *testing.T) {
	reg := metrics.NewRegistry()
	m := metrics.NewHive(reg)

	m.SetWasps(3)
	m.Checkin(true)
	m.Checkin(false)
	m.Heartbeat(false)
	m.Pruned(2)
	m.Replaced(nil)
	m.Replaced(errors.New("no ports"))
	m.RunStarted()
	m.Report("complete")
	m.IgnoredReport()
	m.RunFinished("completed", 2*time.Second)

	expected := `
# HELP wwb_hive_wasps Number of registered wasps
# TYPE wwb_hive_wasps gauge
wwb_hive_wasps 3
# HELP wwb_hive_pruned_total Number of wasps removed for a stale heartbeat
# TYPE wwb_hive_pruned_total counter
wwb_hive_pruned_total 2
# HELP wwb_hive_replacements_total Number of local wasp replacements, by result
# TYPE wwb_hive_replacements_total counter
wwb_hive_replacements_total{result="error"} 1
wwb_hive_replacements_total{result="ok"} 1
# HELP wwb_hive_running 1 while a run is in flight
# TYPE wwb_hive_running gauge
wwb_hive_running 0
`
	require.NoError(t, testutil.GatherAndCompare(reg.Gatherer(), strings.NewReader(expected),
		"wwb_hive_wasps", "wwb_hive_pruned_total", "wwb_hive_replacements_total", "wwb_hive_running"))
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	a, b := metrics.NewRegistry(), metrics.NewRegistry()
	assert.NotPanics(t, func() {
		metrics.NewWasp(a).Fire("accepted")
		metrics.NewWasp(b).Fire("busy")
	})
}

func TestHandlerServesExposition(t *testing.T) {
	reg := metrics.NewRegistry()
	w := metrics.NewWasp(reg)
	w.Fire("accepted")
	h := metrics.NewHTTP(reg, metrics.WaspPrefix)
	h.Observe(http.MethodPut, "/fire", http.StatusOK, time.Millisecond)

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `wwb_wasp_fires_total{result="accepted"} 1`)
	assert.Contains(t, string(body), `wwb_wasp_http_requests_total{code="200",method="PUT",route="/fire"} 1`)
}
