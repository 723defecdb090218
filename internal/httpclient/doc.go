// Package httpclient implements the HTTP calls between the hive, its wasps and
// operators.
//
// [HiveClient] covers the hive API. Wasps use it to check in, heartbeat and
// report results:
//
//	hive := httpclient.NewHiveClient("http://10.0.0.1:4269/", 3*time.Second)
//	id, err := hive.Checkin(ctx, 4268, "")
//	err = hive.ReportIn(ctx, id, stats)
//
// Operators use it to poke, poll and fetch reports. A poke against a busy hive
// returns a [*BusyError] carrying the run's progress.
//
// [WaspClient] is the hive's side of the wasp API (fire, boop, die, ceasefire).
// One client is shared across the fleet and each call names the wasp.
//
// Every call runs in its own client span; with [WithTracing] and propagation
// enabled the W3C trace context travels with the request. Responses outside
// 2xx come back as [*StatusError].
package httpclient
