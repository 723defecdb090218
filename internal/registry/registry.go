// Package registry tracks the wasps that have checked in with the hive.
package registry

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"
)

// ErrUnknownWorker is returned for heartbeats from an address that never checked in
// (or was pruned). The caller is expected to check in again.
var ErrUnknownWorker = errors.New("unknown wasp")

// Worker is one registered wasp.
type Worker struct {
	ID            string    `json:"id" yaml:"id"`
	Host          string    `json:"ip" yaml:"ip"`
	Port          int       `json:"port" yaml:"port"`
	LastHeartbeat time.Time `json:"lastHeartbeat" yaml:"lastHeartbeat"`
	Local         bool      `json:"local" yaml:"local"`

	seq uint64
}

// String identifies the worker in logs and aggregated errors.
func (w Worker) String() string {
	return w.ID + "@" + w.Addr()
}

// Addr returns host:port.
func (w Worker) Addr() string {
	return Addr(w.Host, w.Port)
}

// URL returns the base URL of the wasp's HTTP API.
func (w Worker) URL() string {
	return "http://" + w.Addr()
}

// Addr joins a host and port into the registry key.
func Addr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Registry is the hive's set of known wasps, keyed by address.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*Worker
	issued  map[string]string
	nextID  uint64
	nextSeq uint64
	now     func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		workers: make(map[string]*Worker),
		issued:  make(map[string]string),
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Register upserts the wasp at host:port and refreshes its heartbeat. An id is
// minted on the first sighting of an address and reused on every later check-in.
// The bool reports whether the record was newly created.
func (r *Registry) Register(host string, port int, local bool) (Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr := Addr(host, port)
	if w, ok := r.workers[addr]; ok {
		w.LastHeartbeat = r.now()
		w.Local = w.Local || local
		return *w, false
	}

	id, ok := r.issued[addr]
	if !ok {
		id = fmt.Sprintf("wasp-%d", r.nextID)
		r.nextID++
		r.issued[addr] = id
	}
	w := &Worker{
		ID:            id,
		Host:          host,
		Port:          port,
		LastHeartbeat: r.now(),
		Local:         local,
		seq:           r.nextSeq,
	}
	r.nextSeq++
	r.workers[addr] = w
	return *w, true
}

// Heartbeat refreshes the liveness of host:port.
func (r *Registry) Heartbeat(host string, port int) (Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[Addr(host, port)]
	if !ok {
		return Worker{}, fmt.Errorf("%w at %s", ErrUnknownWorker, Addr(host, port))
	}
	w.LastHeartbeat = r.now()
	return *w, nil
}

// List returns all workers in registration order.
func (r *Registry) List() []Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked()
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// Remove deletes the worker at addr, reporting whether it existed.
func (r *Registry) Remove(addr string) (Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[addr]
	if !ok {
		return Worker{}, false
	}
	delete(r.workers, addr)
	return *w, true
}

// Clear empties the registry and returns what was removed.
func (r *Registry) Clear() []Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.sortedLocked()
	r.workers = make(map[string]*Worker)
	return removed
}

// Prune removes every worker whose last heartbeat is older than timeout.
func (r *Registry) Prune(now time.Time, timeout time.Duration) []Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pruned []Worker
	for addr, w := range r.workers {
		if now.Sub(w.LastHeartbeat) > timeout {
			pruned = append(pruned, *w)
			delete(r.workers, addr)
		}
	}
	sort.Slice(pruned, func(i, j int) bool { return pruned[i].seq < pruned[j].seq })
	return pruned
}

func (r *Registry) sortedLocked() []Worker {
	out := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
