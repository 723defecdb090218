package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/waspswithbazookas/wwb/internal/output"
	"github.com/waspswithbazookas/wwb/internal/protocol"
)

func newStatusCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status [report [field]]",
		Short: "Show the hive's state, the last report, or one report field",
		Example: `  wwb status
  wwb status report -o json
  wwb status report latency.avg`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(2)(cmd, args); err != nil {
				return err
			}
			if len(args) > 0 && args[0] != "report" {
				return fmt.Errorf("unknown argument %q, want \"report\"", args[0])
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, out := cmd.Context(), cmd.OutOrStdout()
			switch len(args) {
			case 0:
				st, err := client.Status(ctx)
				if err != nil {
					return err
				}
				output.PrintStatus(out, st)
			case 1:
				r, err := client.Report(ctx)
				if err != nil {
					return err
				}
				return output.Write(out, format, r, nil)
			default:
				raw, err := client.ReportField(ctx, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, renderField(raw))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", output.FormatText, "Report format: text, json, yaml or html")
	return clientCommand(cmd)
}

// renderField prints strings bare and everything else as compact JSON.
func renderField(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func newListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the wasps registered with the hive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			workers, err := client.List(cmd.Context())
			if err != nil {
				return err
			}
			output.PrintWasps(cmd.OutOrStdout(), workers, time.Now())
			return nil
		},
	}
	return clientCommand(cmd)
}

func newTorchCmd(a *app) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "torch",
		Short: "Tell wasps to exit and forget them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			n, err := client.Torch(cmd.Context(), local)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Torched %d wasps\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Only torch wasps the hive spawned itself")
	return clientCommand(cmd)
}

func newSpawnCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spawn <count>",
		Short: "Start wasps on the hive's own host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("count must be a positive number, got %q", args[0])
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			ack, err := client.SpawnLocal(cmd.Context(), n)
			if err != nil {
				return err
			}
			printAck(cmd, ack)
			return nil
		},
	}
	return clientCommand(cmd)
}

func newCeasefireCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ceasefire",
		Short: "Stop the run in flight and finalize its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			if err := client.Ceasefire(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Ceasefire sent")
			return nil
		},
	}
	return clientCommand(cmd)
}

func newBoopCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boop",
		Short: "Probe every wasp now and drop the ones that do not answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			ack, err := client.BoopSnoots(cmd.Context())
			if err != nil {
				return err
			}
			printAck(cmd, ack)
			return nil
		},
	}
	return clientCommand(cmd)
}

func printAck(cmd *cobra.Command, ack protocol.Ack) {
	msg := ack.Message
	if msg == "" {
		msg = ack.Status
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
}
