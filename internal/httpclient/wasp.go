package httpclient

import (
	"context"
	"net/http"
	"time"

	"github.com/waspswithbazookas/wwb/internal/protocol"
)

// WaspClient is the hive's side of the wasp API. One client serves every wasp;
// each call names the wasp's base URL.
type WaspClient struct {
	t *transport
}

func NewWaspClient(timeout time.Duration, opts ...Option) *WaspClient {
	return &WaspClient{t: newTransport(timeout, opts)}
}

// Fire starts a run. A busy wasp answers 409.
func (c *WaspClient) Fire(ctx context.Context, base string, req protocol.JobRequest) error {
	body, err := JSONBody(req)
	if err != nil {
		return err
	}
	return c.t.call(ctx, "fire", http.MethodPut, base, protocol.PathFire, body, nil)
}

// Boop checks the wasp is alive.
func (c *WaspClient) Boop(ctx context.Context, base string) error {
	return c.t.call(ctx, "boop", http.MethodGet, base, protocol.PathBoop, nil, nil)
}

// Die asks the wasp process to exit. A busy wasp answers 400.
func (c *WaspClient) Die(ctx context.Context, base string) error {
	return c.t.call(ctx, "die", http.MethodDelete, base, protocol.PathDie, nil, nil)
}

// Ceasefire stops the wasp's run without a report. An idle wasp answers 400.
func (c *WaspClient) Ceasefire(ctx context.Context, base string) error {
	return c.t.call(ctx, "ceasefire", http.MethodGet, base, protocol.PathCeasefire, nil, nil)
}

// BattleReport fetches the outcome of the wasp's last run.
func (c *WaspClient) BattleReport(ctx context.Context, base string) (protocol.BattleReport, error) {
	var br protocol.BattleReport
	err := c.t.call(ctx, "battlereport", http.MethodGet, base, protocol.PathBattleReport, nil, &br)
	return br, err
}
