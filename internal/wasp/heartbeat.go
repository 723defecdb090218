package wasp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	log "github.com/sirupsen/logrus"

	"github.com/waspswithbazookas/wwb/internal/httpclient"
)

const defaultCheckinDelay = time.Second

// Checkin registers with the hive, retrying with backoff. Running out of
// attempts is fatal for the caller.
func (w *Wasp) Checkin(ctx context.Context) error {
	delay := w.opts.CheckinDelay
	if delay <= 0 {
		delay = defaultCheckinDelay
	}
	var id string
	err := retry.Do(
		func() error {
			var err error
			id, err = w.hive.Checkin(ctx, w.opts.Port, w.opts.AdvertiseHost)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(w.opts.CheckinAttempts)),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithField("attempt", n+1).Warn("check-in failed, retrying")
		}),
	)
	if err != nil {
		return fmt.Errorf("check in after %d attempts: %w", w.opts.CheckinAttempts, err)
	}
	w.setID(id)
	w.metrics.CheckedIn()
	log.WithFields(log.Fields{"id": id, "port": w.opts.Port}).Info("checked in with hive")
	return nil
}

// RunHeartbeat pings the hive until ctx is cancelled. When the hive has
// forgotten this wasp it checks in again.
func (w *Wasp) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.beat(ctx)
		}
	}
}

func (w *Wasp) beat(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.opts.HeartbeatInterval)
	defer cancel()

	err := w.hive.Heartbeat(ctx, w.opts.Port, w.opts.AdvertiseHost)
	switch {
	case err == nil:
		return
	case errors.Is(err, httpclient.ErrUnknownWasp):
		log.Warn("hive does not know this wasp, checking in again")
		id, err := w.hive.Checkin(ctx, w.opts.Port, w.opts.AdvertiseHost)
		if err != nil {
			w.metrics.HeartbeatFailed()
			log.WithError(err).Error("re-check-in failed")
			return
		}
		w.setID(id)
		w.metrics.CheckedIn()
		log.WithField("id", id).Info("checked in with hive again")
	default:
		w.metrics.HeartbeatFailed()
		log.WithError(err).Warn("heartbeat failed")
	}
}
