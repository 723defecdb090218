package wrk

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
)

// Outcome classifies how a run ended.
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeFailed
	OutcomeStopped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeFailed:
		return "failed"
	case OutcomeStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Result is the captured end state of a wrk process.
type Result struct {
	Outcome  Outcome
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// Output returns stdout followed by stderr, the payload of a failure report.
func (r Result) Output() string {
	out := r.Stdout + r.Stderr
	if out == "" && r.Err != nil {
		return r.Err.Error()
	}
	return out
}

// Classify applies the exit policy: an operator stop wins, any stderr output is
// a failure, exit 0 is done, death by signal is a stop and anything else fails.
func Classify(stopped bool, exitCode int, stderr string) Outcome {
	switch {
	case stopped:
		return OutcomeStopped
	case stderr != "":
		return OutcomeFailed
	case exitCode == 0:
		return OutcomeDone
	case exitCode < 0:
		return OutcomeStopped
	default:
		return OutcomeFailed
	}
}

// Process is a running wrk invocation. It owns the subprocess until it exits.
type Process struct {
	cmd     *exec.Cmd
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	stopped atomic.Bool
	done    chan struct{}

	mu     sync.Mutex
	result Result
}

// Start launches the command and begins watching it.
func Start(c Command) (*Process, error) {
	p := &Process{
		cmd:  exec.Command(c.Path, c.Args...),
		done: make(chan struct{}),
	}
	p.cmd.Stdout = &p.stdout
	p.cmd.Stderr = &p.stderr
	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Path, err)
	}
	go p.watch()
	return p, nil
}

func (p *Process) watch() {
	err := p.cmd.Wait()

	exitCode := 0
	if p.cmd.ProcessState != nil {
		exitCode = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// I/O copy failures and the like; the exit code alone is not enough.
		if exitCode == 0 {
			exitCode = 1
		}
	} else {
		err = nil
	}

	stderr := p.stderr.String()
	res := Result{
		Outcome:  Classify(p.stopped.Load(), exitCode, stderr),
		ExitCode: exitCode,
		Stdout:   p.stdout.String(),
		Stderr:   stderr,
		Err:      err,
	}

	p.mu.Lock()
	p.result = res
	p.mu.Unlock()
	close(p.done)
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Stop kills the process and marks the run as operator-stopped.
func (p *Process) Stop() error {
	p.stopped.Store(true)
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !isProcessDone(err) {
		return fmt.Errorf("kill wrk: %w", err)
	}
	return nil
}

// Done is closed once the process has exited and its result is available.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits and returns its result.
func (p *Process) Wait() Result {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

func isProcessDone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}
