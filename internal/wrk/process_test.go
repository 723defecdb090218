package wrk_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waspswithbazookas/wwb/internal/protocol"
	"github.com/waspswithbazookas/wwb/internal/wrk"
)

func writeTool(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakewrk")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		stopped  bool
		exitCode int
		stderr   string
		want     wrk.Outcome
	}{
		{"clean exit", false, 0, "", wrk.OutcomeDone},
		{"stderr with zero exit", false, 0, "warning", wrk.OutcomeFailed},
		{"blank stderr line", false, 0, "\n", wrk.OutcomeFailed},
		{"non-zero exit", false, 2, "", wrk.OutcomeFailed},
		{"killed", false, -1, "", wrk.OutcomeStopped},
		{"operator stop beats stderr", true, -1, "boom", wrk.OutcomeStopped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, wrk.Classify(tt.stopped, tt.exitCode, tt.stderr))
		})
	}
}

func TestBuildCommand(t *testing.T) {
	spec, err := protocol.JobRequest{
		Target:      "http://example.test",
		Threads:     2,
		Concurrency: 10,
		Duration:    1,
		Timeout:     2,
		Headers:     map[string]string{"Accept": "text/plain"},
	}.Normalize()
	require.NoError(t, err)

	cmd := wrk.BuildCommand("", spec, "/tmp/x/wrk.lua")
	assert.Equal(t, "wrk", cmd.Path)
	assert.Equal(t, []string{
		"-t2", "-c10", "-d1s", "--timeout", "2s",
		"-s", "/tmp/x/wrk.lua",
		"-H", "Accept: text/plain",
		"http://example.test",
	}, cmd.Args)
}

func TestWriteScript(t *testing.T) {
	dir := t.TempDir()
	path, cleanup, err := wrk.WriteScript(dir, "wrk.method = \"POST\"")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "wrk.method = \"POST\"", string(data))

	cleanup()
	_, err = os.Stat(filepath.Dir(path))
	assert.True(t, os.IsNotExist(err))
}

func TestProcessDone(t *testing.T) {
	tool := writeTool(t, "echo \"args: $*\"")
	p, err := wrk.Start(wrk.Command{Path: tool, Args: []string{"-t1", "http://example.test"}})
	require.NoError(t, err)

	res := p.Wait()
	assert.Equal(t, wrk.OutcomeDone, res.Outcome)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "args: -t1 http://example.test")
}

func TestProcessStderrFails(t *testing.T) {
	tool := writeTool(t, "echo partial; echo 'unable to connect' 1>&2")
	p, err := wrk.Start(wrk.Command{Path: tool})
	require.NoError(t, err)

	res := p.Wait()
	assert.Equal(t, wrk.OutcomeFailed, res.Outcome)
	assert.True(t, strings.HasPrefix(res.Output(), "partial"))
	assert.Contains(t, res.Output(), "unable to connect")
}

func TestProcessStop(t *testing.T) {
	tool := writeTool(t, "exec sleep 30")
	p, err := wrk.Start(wrk.Command{Path: tool})
	require.NoError(t, err)
	require.NotZero(t, p.Pid())

	require.NoError(t, p.Stop())

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Stop")
	}
	assert.Equal(t, wrk.OutcomeStopped, p.Wait().Outcome)
	require.NoError(t, p.Stop(), "stopping an exited process is a no-op")
}

func TestStartMissingBinary(t *testing.T) {
	_, err := wrk.Start(wrk.Command{Path: filepath.Join(t.TempDir(), "nope")})
	require.Error(t, err)
}
