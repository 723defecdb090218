package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// ExecLauncher runs "<binary> wasp --hive-url <url> --port <port> --advertise-host <host>".
// The advertised host keeps a local wasp recognisable when the hive URL it was
// given routes over a non-loopback interface.
type ExecLauncher struct {
	// Binary defaults to the running executable.
	Binary string
	// ExtraArgs are appended after the wasp flags, e.g. --wrk or --log-file.
	ExtraArgs []string
}

func (l ExecLauncher) Launch(_ context.Context, port int, hiveURL, host string) (Process, error) {
	bin := l.Binary
	if bin == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		bin = self
	}
	args := []string{"wasp", "--hive-url", hiveURL, "--port", strconv.Itoa(port)}
	if host != "" {
		args = append(args, "--advertise-host", host)
	}
	args = append(args, l.ExtraArgs...)

	// Not tied to the request context: the wasp outlives the spawn call.
	cmd := exec.Command(bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() {
		err := cmd.Wait()
		log.WithFields(log.Fields{"port": port, "pid": cmd.Process.Pid}).WithError(err).Debug("local wasp exited")
	}()
	return execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p execProcess) Pid() int { return p.cmd.Process.Pid }

func (p execProcess) Kill() error { return p.cmd.Process.Kill() }
