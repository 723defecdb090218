package main

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/waspswithbazookas/wwb/internal/config"
	"github.com/waspswithbazookas/wwb/internal/hive"
	"github.com/waspswithbazookas/wwb/internal/httpclient"
	"github.com/waspswithbazookas/wwb/internal/httpserver"
	"github.com/waspswithbazookas/wwb/internal/metrics"
	"github.com/waspswithbazookas/wwb/internal/registry"
	"github.com/waspswithbazookas/wwb/internal/supervisor"
	"github.com/waspswithbazookas/wwb/internal/tracing"
)

const readHeaderTimeout = 10 * time.Second

func newHiveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hive",
		Short: "Run the hive controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHive(cmd.Context(), a.cfg)
		},
	}
	config.RegisterHiveFlags(cmd)
	return cmd
}

func runHive(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateHive(); err != nil {
		return err
	}
	hc := cfg.Hive

	tp, err := tracing.Init(ctx, cfg.Tracing, "hive")
	if err != nil {
		return err
	}
	defer shutdownTracing(tp)

	mreg := metrics.NewRegistry()
	sup := supervisor.New(supervisor.Options{
		HiveURL:       hc.URL(),
		PortBase:      hc.LocalPortBase,
		PortFloor:     hc.LocalPortFloor,
		SpawnInterval: hc.SpawnInterval,
		Launcher: supervisor.ExecLauncher{
			Binary:    hc.WaspBinary,
			ExtraArgs: []string{"--log-level", cfg.Log.Level, "--log-format", cfg.Log.Format},
		},
	})
	h := hive.New(registry.New(), httpclient.NewWaspClient(hc.RequestTimeout, httpclient.WithTracing(tp)), hive.Options{
		GracePeriod:    hc.GracePeriod,
		RequestTimeout: hc.RequestTimeout,
		FanoutLimit:    hc.FanoutLimit,
		Metrics:        metrics.NewHive(mreg),
		Supervisor:     sup,
	})

	router := httpserver.NewRouter(httpserver.Options{
		Component: "hive",
		HTTP:      metrics.NewHTTP(mreg, metrics.HivePrefix),
		Tracer:    tp.Tracer(),
	})
	srv := &http.Server{
		Addr:              hc.Addr(),
		Handler:           h.Handler(router, mreg.Handler()),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	log.WithFields(log.Fields{
		"addr":             hc.Addr(),
		"url":              hc.URL(),
		"monitor_interval": hc.MonitorInterval,
		"grace_period":     hc.GracePeriod,
	}).Info("hive starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hive.NewMonitor(h, hc.MonitorInterval).Run(gctx)
		return nil
	})
	g.Go(func() error {
		return httpserver.Serve(gctx, srv)
	})
	err = g.Wait()

	if n, killErr := sup.KillAll(); n > 0 || killErr != nil {
		log.WithError(killErr).WithField("count", n).Info("stopped local wasps")
	}
	log.Info("hive stopped")
	return err
}

func shutdownTracing(tp *tracing.Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("tracing shutdown")
	}
}
