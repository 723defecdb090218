package main

import (
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/waspswithbazookas/wwb/internal/config"
	"github.com/waspswithbazookas/wwb/internal/httpclient"
	"github.com/waspswithbazookas/wwb/internal/logging"
)

// clientTimeout bounds a single operator call to the hive.
const clientTimeout = 10 * time.Second

// app carries state resolved once per invocation.
type app struct {
	cfg       *config.Config
	logCloser io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "wwb",
		Short:         "Distributed HTTP load testing with a hive of wrk-wielding wasps",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader().Load(cmd.Flags())
			if err != nil {
				return err
			}
			closer, err := logging.Configure(cfg.Log)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logCloser = closer
			if cfg.ConfigFile != "" {
				log.WithField("file", cfg.ConfigFile).Debug("loaded config file")
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logCloser != nil {
				_ = a.logCloser.Close()
			}
		},
	}
	config.RegisterCommonFlags(root)

	root.AddCommand(
		newHiveCmd(a),
		newWaspCmd(a),
		newPokeCmd(a),
		newStatusCmd(a),
		newListCmd(a),
		newTorchCmd(a),
		newSpawnCmd(a),
		newCeasefireCmd(a),
		newBoopCmd(a),
	)
	return root
}

// clientCommand registers the hive client flags on cmd.
func clientCommand(cmd *cobra.Command) *cobra.Command {
	config.RegisterClientFlags(cmd)
	return cmd
}

func (a *app) client() (*httpclient.HiveClient, error) {
	if err := a.cfg.ValidateClient(); err != nil {
		return nil, err
	}
	return httpclient.NewHiveClient(a.cfg.Client.HiveURL, clientTimeout), nil
}
