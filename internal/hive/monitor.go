package hive

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const DefaultMonitorInterval = 15 * time.Second

// Monitor prunes wasps that stopped heartbeating and replaces the ones this
// hive spawned.
type Monitor struct {
	hive     *Hive
	interval time.Duration
	now      func() time.Time
}

func NewMonitor(h *Hive, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{hive: h, interval: interval, now: time.Now}
}

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single prune pass and returns how many wasps were pruned
// and how many replacements were started.
func (m *Monitor) RunOnce(ctx context.Context) (pruned, replaced int) {
	h := m.hive
	gone := h.registry.Prune(m.now(), m.interval)
	if len(gone) == 0 {
		return 0, 0
	}
	h.metrics.Pruned(len(gone))
	h.metrics.SetWasps(h.registry.Len())

	for _, w := range gone {
		log.WithFields(log.Fields{
			"wasp":           w.ID,
			"addr":           w.Addr(),
			"last_heartbeat": w.LastHeartbeat,
		}).Warn("wasp missed heartbeats, pruned")
		if h.replace(ctx, w) {
			replaced++
		}
	}
	return len(gone), replaced
}
