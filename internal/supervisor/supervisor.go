// Package supervisor starts and stops wasps on the hive's own host.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrNoPorts is returned once the port range is used up.
var ErrNoPorts = errors.New("no free local ports left")

// ErrNotOwned is returned for ports this supervisor did not spawn.
var ErrNotOwned = errors.New("not a local wasp")

const (
	DefaultPortBase      = 4268
	DefaultPortFloor     = 3000
	DefaultSpawnInterval = 100 * time.Millisecond
)

// LocalWasp is a wasp process spawned by the hive.
type LocalWasp struct {
	Host      string    `json:"ip"`
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

// Process is a launched wasp.
type Process interface {
	Pid() int
	Kill() error
}

// Launcher starts one wasp listening on port that checks in with hiveURL and
// advertises host as its address.
type Launcher interface {
	Launch(ctx context.Context, port int, hiveURL, host string) (Process, error)
}

type Options struct {
	HiveURL       string
	Host          string
	PortBase      int
	PortFloor     int
	SpawnInterval time.Duration
	Launcher      Launcher

	// PortFree and Alive default to a trial listen and gopsutil; tests override them.
	PortFree func(port int) bool
	Alive    func(pid int) bool
}

// Supervisor owns the local wasps. Ports are handed out in descending order
// and never reused, so a replacement never lands on a port that just died.
type Supervisor struct {
	opts    Options
	limiter *rate.Limiter

	mu    sync.Mutex
	next  int
	wasps map[int]*entry
}

type entry struct {
	wasp LocalWasp
	proc Process
}

func New(opts Options) *Supervisor {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.PortBase == 0 {
		opts.PortBase = DefaultPortBase
	}
	if opts.PortFloor == 0 {
		opts.PortFloor = DefaultPortFloor
	}
	if opts.PortFree == nil {
		opts.PortFree = portFree
	}
	if opts.Alive == nil {
		opts.Alive = pidAlive
	}
	limit := rate.Inf
	if opts.SpawnInterval > 0 {
		limit = rate.Every(opts.SpawnInterval)
	}
	return &Supervisor{
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		next:    opts.PortBase,
		wasps:   make(map[int]*entry),
	}
}

// SpawnLocal starts n wasps, paced by the spawn interval. It does not wait for
// them to check in. Wasps that started are returned even when others failed.
func (s *Supervisor) SpawnLocal(ctx context.Context, n int) ([]LocalWasp, error) {
	var (
		spawned []LocalWasp
		merr    *multierror.Error
	)
	for i := 0; i < n; i++ {
		w, err := s.spawnOne(ctx)
		if err != nil {
			merr = multierror.Append(merr, err)
			if errors.Is(err, ErrNoPorts) || ctx.Err() != nil {
				break
			}
			continue
		}
		spawned = append(spawned, w)
	}
	return spawned, merr.ErrorOrNil()
}

func (s *Supervisor) spawnOne(ctx context.Context) (LocalWasp, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return LocalWasp{}, err
	}
	port, err := s.allocate()
	if err != nil {
		return LocalWasp{}, err
	}
	proc, err := s.opts.Launcher.Launch(ctx, port, s.opts.HiveURL, s.opts.Host)
	if err != nil {
		return LocalWasp{}, fmt.Errorf("launch wasp on port %d: %w", port, err)
	}

	w := LocalWasp{Host: s.opts.Host, Port: port, PID: proc.Pid(), StartedAt: time.Now()}
	s.mu.Lock()
	s.wasps[port] = &entry{wasp: w, proc: proc}
	s.mu.Unlock()

	log.WithFields(log.Fields{"port": port, "pid": w.PID}).Info("spawned local wasp")
	return w, nil
}

func (s *Supervisor) allocate() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.next >= s.opts.PortFloor {
		port := s.next
		s.next--
		if s.opts.PortFree(port) {
			return port, nil
		}
		log.WithField("port", port).Debug("port in use, skipping")
	}
	return 0, ErrNoPorts
}

// Kill terminates the wasp on port and forgets it. A process that is already
// gone counts as killed.
func (s *Supervisor) Kill(port int) error {
	s.mu.Lock()
	e, ok := s.wasps[port]
	if ok {
		delete(s.wasps, port)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("port %d: %w", port, ErrNotOwned)
	}
	return s.kill(e)
}

func (s *Supervisor) kill(e *entry) error {
	if !s.opts.Alive(e.wasp.PID) {
		return nil
	}
	if err := e.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill wasp %d (pid %d): %w", e.wasp.Port, e.wasp.PID, err)
	}
	return nil
}

// Replace kills the wasp on port and spawns exactly one replacement on a
// freshly allocated port.
func (s *Supervisor) Replace(ctx context.Context, port int) (LocalWasp, error) {
	if err := s.Kill(port); err != nil && !errors.Is(err, ErrNotOwned) {
		log.WithError(err).WithField("port", port).Warn("could not kill wasp before replacing it")
	}
	w, err := s.spawnOne(ctx)
	if err != nil {
		return LocalWasp{}, fmt.Errorf("replace wasp %d: %w", port, err)
	}
	log.WithFields(log.Fields{"old_port": port, "port": w.Port}).Info("replaced local wasp")
	return w, nil
}

// KillAll terminates every local wasp and returns how many there were.
func (s *Supervisor) KillAll() (int, error) {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.wasps))
	for _, e := range s.wasps {
		entries = append(entries, e)
	}
	s.wasps = make(map[int]*entry)
	s.mu.Unlock()

	var merr *multierror.Error
	for _, e := range entries {
		if err := s.kill(e); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return len(entries), merr.ErrorOrNil()
}

// Host is the address local wasps advertise to the hive.
func (s *Supervisor) Host() string { return s.opts.Host }

// Owns reports whether port belongs to a wasp this supervisor spawned.
func (s *Supervisor) Owns(port int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.wasps[port]
	return ok
}

func portFree(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	if err != nil {
		// Unknown: let Kill decide.
		return true
	}
	return ok
}
