package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/avresolve/internal/job"
	"github.com/John-Robertt/avresolve/internal/metrics"
	"github.com/John-Robertt/avresolve/internal/notify"
)

func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued jobs until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.RequireProxyPrefix(); err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sig)
			go func() {
				select {
				case <-sig:
					a.log.Info("shutdown signal received, stopping worker")
					cancel()
				case <-ctx.Done():
				}
			}()
			return runWorker(ctx, a)
		},
	}
}

func runWorker(ctx context.Context, a *app) error {
	cfg, log := a.cfg, a.log

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}
	if cfg.Worker.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Worker.MetricsAddr, reg, log); err != nil {
				log.WithError(err).Error("metrics endpoint stopped")
			}
		}()
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	rdb := newRedis(cfg)
	defer func() { _ = rdb.Close() }()

	capturer := newCapturer(cfg, log)
	defer func() { _ = capturer.Close() }()

	orch, err := newOrchestrator(cfg, capturer, log, m)
	if err != nil {
		return err
	}

	q := newQueue(cfg, rdb, log)
	if err := q.Init(ctx); err != nil {
		return err
	}
	machine := &job.Machine{
		Store:    st,
		Notifier: notify.NewRedis(rdb, log),
		Resolver: orch,
		Enqueuer: q,
		Log:      log,
		Metrics:  m,

		StaleAfter: cfg.Worker.LockTTL,
	}

	log.WithField("concurrency", cfg.Worker.Concurrency).Info("worker started")
	err = q.Consume(ctx, cfg.Worker.Concurrency, machine.Run)
	log.Info("worker stopped")
	return err
}
