package registry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waspswithbazookas/wwb/internal/registry"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newRegistry() (*registry.Registry, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return registry.New().WithClock(clock.Now), clock
}

func TestRegisterIsIdempotentByAddress(t *testing.T) {
	r, clock := newRegistry()

	first, created := r.Register("10.0.0.1", 4268, false)
	require.True(t, created)
	assert.Equal(t, "wasp-0", first.ID)

	clock.Advance(time.Second)
	again, created := r.Register("10.0.0.1", 4268, false)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.LastHeartbeat.After(first.LastHeartbeat))
	assert.Equal(t, 1, r.Len())

	other, _ := r.Register("10.0.0.1", 4267, false)
	assert.Equal(t, "wasp-1", other.ID)
	assert.Equal(t, 2, r.Len())
}

func TestIDStableAcrossPrune(t *testing.T) {
	r, clock := newRegistry()
	w, _ := r.Register("10.0.0.1", 4268, false)

	clock.Advance(time.Minute)
	pruned := r.Prune(clock.Now(), 15*time.Second)
	require.Len(t, pruned, 1)
	assert.Zero(t, r.Len())

	back, created := r.Register("10.0.0.1", 4268, false)
	assert.True(t, created)
	assert.Equal(t, w.ID, back.ID)
}

func TestHeartbeatUnknown(t *testing.T) {
	r, _ := newRegistry()
	_, err := r.Heartbeat("10.0.0.9", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrUnknownWorker))
}

func TestHeartbeatRefreshes(t *testing.T) {
	r, clock := newRegistry()
	r.Register("h", 1, false)

	clock.Advance(10 * time.Second)
	_, err := r.Heartbeat("h", 1)
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	assert.Empty(t, r.Prune(clock.Now(), 15*time.Second), "heartbeat 10s ago is within the window")

	clock.Advance(6 * time.Second)
	assert.Len(t, r.Prune(clock.Now(), 15*time.Second), 1)
}

func TestListKeepsRegistrationOrder(t *testing.T) {
	r, _ := newRegistry()
	r.Register("c", 3, false)
	r.Register("a", 1, true)
	r.Register("b", 2, false)
	r.Register("c", 3, false)

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{list[0].Host, list[1].Host, list[2].Host})
	assert.True(t, list[1].Local)
	assert.Equal(t, "http://a:1", list[1].URL())
}

func TestRemoveClear(t *testing.T) {
	r, _ := newRegistry()
	w, _ := r.Register("h", 1, false)
	r.Register("h", 2, false)
	assert.Equal(t, w.ID+"@h:1", w.String())

	_, ok := r.Remove(w.Addr())
	assert.True(t, ok)
	_, ok = r.Remove(w.Addr())
	assert.False(t, ok)

	removed := r.Clear()
	assert.Len(t, removed, 1)
	assert.Zero(t, r.Len())
}
