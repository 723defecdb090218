package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterCommonFlags registers flags every subcommand accepts.
func RegisterCommonFlags(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()
	fs.String("config", "", "Path to configuration file (default "+DefaultConfigPath+" when present)")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-format", "text", "Log format (text or json)")
	fs.String("log-file", "", "Append logs to this file instead of stderr")
	bind(fs, map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
		"log-file":   "log.file",
	})
}

// RegisterHiveFlags registers the controller's flags.
func RegisterHiveFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.String("host", "0.0.0.0", "Address to listen on")
	fs.IntP("port", "p", 4269, "Port to listen on")
	fs.Duration("monitor-interval", 15*time.Second, "Heartbeat window; wasps silent for longer are pruned")
	fs.Duration("grace-period", 5*time.Second, "Extra time past the run duration before a run is finalized")
	fs.Duration("request-timeout", 3*time.Second, "Timeout for calls from the hive to wasps")
	fs.Int("fanout-limit", 32, "Maximum parallel calls when broadcasting to wasps")
	fs.String("wasp-binary", "", "Binary used to spawn local wasps (default: this executable)")
	fs.String("public-url", "", "Hive URL handed to local wasps")
	bind(fs, map[string]string{
		"host":             "hive.host",
		"port":             "hive.port",
		"monitor-interval": "hive.monitor_interval",
		"grace-period":     "hive.grace_period",
		"request-timeout":  "hive.request_timeout",
		"fanout-limit":     "hive.fanout_limit",
		"wasp-binary":      "hive.wasp_binary",
		"public-url":       "hive.public_url",
	})
}

// RegisterWaspFlags registers the agent's flags.
func RegisterWaspFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.String("hive-url", "", "Base URL of the hive, e.g. http://10.0.0.1:4269/")
	fs.String("host", "0.0.0.0", "Address to listen on")
	fs.IntP("port", "p", 4268, "Port to listen on")
	fs.String("advertise-host", "", "Host the hive should use to reach this wasp (default: source address)")
	fs.Duration("heartbeat-interval", 5*time.Second, "Heartbeat period")
	fs.String("wrk", "wrk", "Path to the wrk binary")
	bind(fs, map[string]string{
		"hive-url":           "wasp.hive_url",
		"host":               "wasp.host",
		"port":               "wasp.port",
		"advertise-host":     "wasp.advertise_host",
		"heartbeat-interval": "wasp.heartbeat_interval",
		"wrk":                "wasp.wrk_path",
	})
}

// RegisterClientFlags registers flags for commands that talk to a hive.
func RegisterClientFlags(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()
	fs.String("hive", "http://127.0.0.1:4269/", "Base URL of the hive")
	fs.Duration("poll-interval", time.Second, "Status polling period while waiting")
	bind(fs, map[string]string{
		"hive":          "client.hive_url",
		"poll-interval": "client.poll_interval",
	})
}

// bind records the config key each flag overrides; Loader.Load reads it back.
func bind(fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		_ = fs.SetAnnotation(name, keyAnnotation, []string{key})
	}
}
