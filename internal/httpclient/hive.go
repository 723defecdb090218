package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/waspswithbazookas/wwb/internal/protocol"
	"github.com/waspswithbazookas/wwb/internal/registry"
	"github.com/waspswithbazookas/wwb/internal/report"
)

// ErrUnknownWasp is returned by Heartbeat when the hive has no record of the
// caller and it has to check in again.
var ErrUnknownWasp = errors.New("hive does not know this wasp")

// BusyError is returned by Poke while a run is in flight.
type BusyError struct {
	Progress protocol.Progress
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("hive is busy: %.0f%% complete, eta %s", e.Progress.Percent, e.Progress.ETA)
}

// HiveClient talks to a hive. Wasps use the check-in, heartbeat and report-in
// calls; operators use the rest.
type HiveClient struct {
	base string
	t    *transport
}

// NewHiveClient creates a client for the hive at base, e.g. http://10.0.0.1:4269/.
func NewHiveClient(base string, timeout time.Duration, opts ...Option) *HiveClient {
	return &HiveClient{base: base, t: newTransport(timeout, opts)}
}

// Checkin registers the caller listening on port. A non-empty advertiseHost
// replaces the source address the hive would otherwise record.
func (c *HiveClient) Checkin(ctx context.Context, port int, advertiseHost string) (string, error) {
	rel := protocol.CheckinPath(port)
	if advertiseHost != "" {
		rel += "?" + url.Values{"host": {advertiseHost}}.Encode()
	}
	var resp protocol.CheckinResponse
	if err := c.t.call(ctx, "checkin", http.MethodGet, c.base, rel, nil, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("checkin: hive returned no id")
	}
	return resp.ID, nil
}

// Heartbeat refreshes the caller's liveness.
func (c *HiveClient) Heartbeat(ctx context.Context, port int, advertiseHost string) error {
	rel := protocol.HeartbeatPath(port)
	if advertiseHost != "" {
		rel += "?" + url.Values{"host": {advertiseHost}}.Encode()
	}
	err := c.t.call(ctx, "heartbeat", http.MethodGet, c.base, rel, nil, nil)
	if IsStatus(err, http.StatusBadRequest) {
		return fmt.Errorf("%w: %v", ErrUnknownWasp, err)
	}
	return err
}

// ReportIn sends a successful run's stats.
func (c *HiveClient) ReportIn(ctx context.Context, id string, stats protocol.Stats) error {
	body, err := JSONBody(stats)
	if err != nil {
		return err
	}
	return c.t.call(ctx, "reportin", http.MethodPut, c.base, protocol.ReportInPath(id), body, nil)
}

// ReportFailure sends the raw output of a failed run.
func (c *HiveClient) ReportFailure(ctx context.Context, id, output string) error {
	return c.t.call(ctx, "reportin failed", http.MethodPut, c.base, protocol.ReportFailedPath(id), TextBody(output), nil)
}

// Poke dispatches a job to every registered wasp.
func (c *HiveClient) Poke(ctx context.Context, req protocol.JobRequest) (protocol.Ack, error) {
	body, err := JSONBody(req)
	if err != nil {
		return protocol.Ack{}, err
	}
	var ack protocol.Ack
	err = c.t.call(ctx, "poke", http.MethodPut, c.base, protocol.PathPoke, body, &ack)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusTooEarly {
		var p protocol.Progress
		if json.Unmarshal([]byte(se.Body), &p) == nil {
			p.ETA = time.Duration(p.ETASeconds * float64(time.Second))
			return protocol.Ack{}, &BusyError{Progress: p}
		}
	}
	return ack, err
}

// Status returns the hive's idle/running status.
func (c *HiveClient) Status(ctx context.Context) (protocol.Status, error) {
	var st protocol.Status
	if err := c.t.call(ctx, "status", http.MethodGet, c.base, protocol.PathStatus, nil, &st); err != nil {
		return protocol.Status{}, err
	}
	if st.Run != nil {
		st.Run.ETA = time.Duration(st.Run.ETASeconds * float64(time.Second))
	}
	return st, nil
}

// Done reports whether the hive is idle.
func (c *HiveClient) Done(ctx context.Context) (bool, error) {
	err := c.t.call(ctx, "status done", http.MethodGet, c.base, protocol.PathStatusDone, nil, nil)
	if IsStatus(err, http.StatusTooEarly) {
		return false, nil
	}
	return err == nil, err
}

// Report fetches the last finalized report.
func (c *HiveClient) Report(ctx context.Context) (*report.Report, error) {
	var r report.Report
	if err := c.t.call(ctx, "report", http.MethodGet, c.base, protocol.PathReport, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ReportField fetches one value of the last report by gjson path, e.g.
// "latency.avg" or "wasp.reports.#.status".
func (c *HiveClient) ReportField(ctx context.Context, field string) (json.RawMessage, error) {
	var raw string
	rel := "hive/status/report/" + url.PathEscape(field)
	if err := c.t.call(ctx, "report field", http.MethodGet, c.base, rel, nil, &raw); err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// Torch tears down every wasp, or only the locally spawned ones.
func (c *HiveClient) Torch(ctx context.Context, localOnly bool) (int, error) {
	path := protocol.PathTorch
	if localOnly {
		path = protocol.PathTorchLocal
	}
	var ack protocol.Ack
	if err := c.t.call(ctx, "torch", http.MethodDelete, c.base, path, nil, &ack); err != nil {
		return 0, err
	}
	return ack.Count, nil
}

// SpawnLocal asks the hive to start n wasps on its own host.
func (c *HiveClient) SpawnLocal(ctx context.Context, n int) (protocol.Ack, error) {
	var ack protocol.Ack
	err := c.t.call(ctx, "spawn", http.MethodGet, c.base, "hive/spawn/local/"+strconv.Itoa(n), nil, &ack)
	return ack, err
}

// Ceasefire stops the in-flight run.
func (c *HiveClient) Ceasefire(ctx context.Context) error {
	return c.t.call(ctx, "ceasefire", http.MethodGet, c.base, protocol.PathHiveCeasefire, nil, nil)
}

// List returns the registered wasps.
func (c *HiveClient) List(ctx context.Context) ([]registry.Worker, error) {
	var workers []registry.Worker
	if err := c.t.call(ctx, "list", http.MethodGet, c.base, protocol.PathList, nil, &workers); err != nil {
		return nil, err
	}
	return workers, nil
}

// BoopSnoots asks the hive to boop every wasp and drop the silent ones.
func (c *HiveClient) BoopSnoots(ctx context.Context) (protocol.Ack, error) {
	var ack protocol.Ack
	err := c.t.call(ctx, "boop snoots", http.MethodGet, c.base, protocol.PathBoopSnoots, nil, &ack)
	return ack, err
}
