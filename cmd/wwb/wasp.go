package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/waspswithbazookas/wwb/internal/config"
	"github.com/waspswithbazookas/wwb/internal/httpclient"
	"github.com/waspswithbazookas/wwb/internal/httpserver"
	"github.com/waspswithbazookas/wwb/internal/metrics"
	"github.com/waspswithbazookas/wwb/internal/tracing"
	"github.com/waspswithbazookas/wwb/internal/wasp"
)

func newWaspCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wasp",
		Short: "Run a wasp agent that fires wrk on the hive's command",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWasp(cmd.Context(), a.cfg)
		},
	}
	config.RegisterWaspFlags(cmd)
	return cmd
}

func runWasp(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateWasp(); err != nil {
		return err
	}
	wc := cfg.Wasp

	tp, err := tracing.Init(ctx, cfg.Tracing, "wasp")
	if err != nil {
		return err
	}
	defer shutdownTracing(tp)

	mreg := metrics.NewRegistry()
	w := wasp.New(httpclient.NewHiveClient(wc.HiveURL, clientTimeout, httpclient.WithTracing(tp)), wasp.Options{
		Port:              wc.Port,
		AdvertiseHost:     wc.AdvertiseHost,
		WrkPath:           wc.WrkPath,
		HeartbeatInterval: wc.HeartbeatInterval,
		CheckinAttempts:   wc.CheckinAttempts,
		Metrics:           metrics.NewWasp(mreg),
	})

	router := httpserver.NewRouter(httpserver.Options{
		Component: "wasp",
		HTTP:      metrics.NewHTTP(mreg, metrics.WaspPrefix),
		Tracer:    tp.Tracer(),
	})
	srv := &http.Server{Handler: w.Handler(router, mreg.Handler()), ReadHeaderTimeout: readHeaderTimeout}

	// Listen before checking in so the hive can fire as soon as it knows us.
	ln, err := net.Listen("tcp", wc.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", wc.Addr(), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.ServeListener(gctx, srv, ln)
	})

	if err := w.Checkin(gctx); err != nil {
		log.WithError(err).WithField("hive", wc.HiveURL).Error("giving up on the hive")
		cancel()
		_ = g.Wait()
		return err
	}

	g.Go(func() error {
		w.RunHeartbeat(gctx)
		return nil
	})
	g.Go(func() error {
		select {
		case <-w.Dying():
			log.Info("hive torched this wasp, exiting")
			cancel()
		case <-gctx.Done():
		}
		if err := w.Ceasefire(); err != nil && !errors.Is(err, wasp.ErrIdle) {
			log.WithError(err).Warn("could not stop wrk on shutdown")
		}
		return nil
	})

	err = g.Wait()
	log.Info("wasp stopped")
	return err
}
