// Package wrk drives the external wrk load generator and parses its summary.
package wrk

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/waspswithbazookas/wwb/internal/protocol"
)

// DefaultPath is the binary looked up on PATH when none is configured.
const DefaultPath = "wrk"

const scriptName = "wrk.lua"

// Command is a fully resolved wrk invocation.
type Command struct {
	Path string
	Args []string
}

func (c Command) String() string {
	return fmt.Sprintf("%s %v", c.Path, c.Args)
}

// BuildCommand maps a job onto wrk's command line. scriptPath may be empty.
func BuildCommand(path string, spec protocol.JobSpec, scriptPath string) Command {
	if path == "" {
		path = DefaultPath
	}
	args := []string{
		"-t" + strconv.Itoa(spec.Threads),
		"-c" + strconv.Itoa(spec.Concurrency),
		"-d" + seconds(spec.Duration),
		"--timeout", seconds(spec.Timeout),
	}
	if scriptPath != "" {
		args = append(args, "-s", scriptPath)
	}
	for _, h := range spec.HeaderLines() {
		args = append(args, "-H", h)
	}
	args = append(args, spec.Target)
	return Command{Path: path, Args: args}
}

// WriteScript persists an inline Lua script into a fresh directory under dir
// (os.TempDir when empty). The returned cleanup removes the directory.
func WriteScript(dir, script string) (string, func(), error) {
	tmp, err := os.MkdirTemp(dir, "wwb-script-")
	if err != nil {
		return "", func() {}, fmt.Errorf("create script dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(tmp) }

	path := filepath.Join(tmp, scriptName)
	if err := os.WriteFile(path, []byte(script), 0o600); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("write script: %w", err)
	}
	return path, cleanup, nil
}

func seconds(d time.Duration) string {
	s := int(d / time.Second)
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(s) + "s"
}
