package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/waspswithbazookas/wwb/internal/httpclient"
	"github.com/waspswithbazookas/wwb/internal/output"
	"github.com/waspswithbazookas/wwb/internal/protocol"
	"github.com/waspswithbazookas/wwb/internal/threshold"
)

// ErrThresholdsFailed is returned when a finished run misses a threshold.
var ErrThresholdsFailed = errors.New("one or more thresholds failed")

type pokeOptions struct {
	threads     int
	concurrency int
	duration    int
	timeout     int
	scriptFile  string
	headers     []string
	wait        bool
	thresholds  []string
	format      string
}

func newPokeCmd(a *app) *cobra.Command {
	var opts pokeOptions
	cmd := &cobra.Command{
		Use:   "poke <target>",
		Short: "Start a run: every wasp fires wrk at target",
		Example: `  wwb poke http://example.com/ -t 4 -c 100 -d 60
  wwb poke http://example.com/api -H "Authorization: Bearer x" --wait --threshold "latency:avg < 200"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoke(cmd, a, args[0], opts)
		},
	}
	fs := cmd.Flags()
	fs.IntVarP(&opts.threads, "threads", "t", 0, fmt.Sprintf("wrk threads per wasp (default %d)", protocol.DefaultThreads))
	fs.IntVarP(&opts.concurrency, "concurrency", "c", 0, fmt.Sprintf("Open connections per wasp (default %d)", protocol.DefaultConcurrency))
	fs.IntVarP(&opts.duration, "duration", "d", 0, fmt.Sprintf("Run duration in seconds (default %d)", int(protocol.DefaultDuration.Seconds())))
	fs.IntVar(&opts.timeout, "timeout", 0, fmt.Sprintf("wrk socket timeout in seconds (default %d)", int(protocol.DefaultTimeout.Seconds())))
	fs.StringVarP(&opts.scriptFile, "script", "s", "", "Lua script file passed to wrk")
	fs.StringArrayVarP(&opts.headers, "header", "H", nil, `Header "Name: value" (repeatable)`)
	fs.BoolVar(&opts.wait, "wait", false, "Wait for the run to finish and print the report")
	fs.StringArrayVar(&opts.thresholds, "threshold", nil, `Pass/fail rule such as "latency:p99 < 500" (requires --wait)`)
	fs.StringVarP(&opts.format, "output", "o", output.FormatText, "Report format: text, json, yaml or html")
	return clientCommand(cmd)
}

func runPoke(cmd *cobra.Command, a *app, target string, opts pokeOptions) error {
	if len(opts.thresholds) > 0 && !opts.wait {
		return errors.New("--threshold requires --wait")
	}
	thresholds, err := threshold.ParseMultiple(opts.thresholds)
	if err != nil {
		return err
	}
	req, err := buildJobRequest(target, opts)
	if err != nil {
		return err
	}
	client, err := a.client()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	ack, err := client.Poke(ctx, req)
	if err != nil {
		var busy *httpclient.BusyError
		if errors.As(err, &busy) {
			fmt.Fprintln(cmd.ErrOrStderr(), output.ProgressLine(busy.Progress))
		}
		return err
	}
	if !opts.wait {
		fmt.Fprintln(out, ack.Message)
		return nil
	}
	fmt.Fprintln(cmd.ErrOrStderr(), ack.Message)

	progress := output.NewProgressReporter(client, a.cfg.Client.PollInterval, cmd.ErrOrStderr())
	progress.Start(ctx)
	select {
	case <-progress.Done():
	case <-ctx.Done():
		progress.Stop()
		return fmt.Errorf("stopped waiting, the run continues on the hive (wwb ceasefire stops it): %w", ctx.Err())
	}
	progress.Stop()

	r, err := client.Report(ctx)
	if err != nil {
		return err
	}
	results := threshold.NewEvaluator(thresholds).Evaluate(r)
	if err := output.Write(out, opts.format, r, results); err != nil {
		return err
	}
	if !threshold.AllPass(results) {
		return ErrThresholdsFailed
	}
	return nil
}

func buildJobRequest(target string, opts pokeOptions) (protocol.JobRequest, error) {
	req := protocol.JobRequest{
		Target:      target,
		Threads:     opts.threads,
		Concurrency: opts.concurrency,
		Duration:    opts.duration,
		Timeout:     opts.timeout,
	}
	if opts.scriptFile != "" {
		data, err := os.ReadFile(opts.scriptFile)
		if err != nil {
			return req, fmt.Errorf("read script: %w", err)
		}
		req.Script = string(data)
	}
	headers, err := parseHeaders(opts.headers)
	if err != nil {
		return req, err
	}
	req.Headers = headers
	// Catch bad input before it reaches the hive.
	if _, err := req.Normalize(); err != nil {
		return req, err
	}
	return req, nil
}

func parseHeaders(lines []string) (map[string]string, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Name: value\"", line)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}
