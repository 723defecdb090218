// Package metrics exposes Prometheus instrumentation for the hive and wasps.
//
// Each process owns a [Registry] rather than using the global default, so a
// test can run a hive and several wasps side by side:
//
//	reg := metrics.NewRegistry()
//	hm := metrics.NewHive(reg)
//	hm.Checkin(true)
//	http.Handle("/metrics", reg.Handler())
//
// [HTTP] records per-route request counts and latencies and is installed by
// the shared router middleware. [Hive] and [Wasp] hold the domain counters:
// registered wasps, check-ins, runs by finish reason, fire outcomes and
// heartbeat failures.
//
// The hive and wasp fall back to a private registry when none is supplied.
package metrics
