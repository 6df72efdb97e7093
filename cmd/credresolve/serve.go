package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/credresolve/internal/config"
	"github.com/jkaninda/credresolve/internal/httpapi"
	"github.com/jkaninda/credresolve/internal/notification"
	"github.com/jkaninda/credresolve/internal/observability"
	"github.com/jkaninda/credresolve/internal/ratelimit"
	"github.com/jkaninda/credresolve/internal/scheduler"
	"github.com/jkaninda/credresolve/internal/secrets"
)

var (
	serveConfigPath string
	serveAddr       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled resolution probes and the status API",
	Long: `Run every configured probe on its cron schedule and serve
/healthz, /readyz, /metrics and /v1/probes until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "override HTTP listen address (e.g. :9090)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, serveConfigPath)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTP.ListenAddr = serveAddr
	}

	logger := newLogger(cfg.Log, os.Stderr)
	logger.Info("starting in serve mode",
		slog.String("backend", cfg.Backend),
		slog.Int("probes", len(cfg.Probes)),
	)

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	sched, err := buildScheduler(sc)
	if err != nil {
		return err
	}
	health := registerHealthChecks(sc, sched)

	stopScheduler := sched.Start(ctx)
	defer stopScheduler()

	runLimiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.HTTP.RunsPerMinute,
		Burst:             cfg.HTTP.RunBurst,
	})
	apiCfg := httpapi.Config{
		ListenAddr:    cfg.HTTP.ListenAddr,
		APIKeys:       cfg.HTTP.APIKeys,
		MetricsPath:   cfg.HTTP.MetricsPath,
		HealthChecker: health,
		RunLimiter:    runLimiter,
	}
	if m := sc.Obs.MetricsOrNil(); m != nil {
		apiCfg.Metrics = m
		apiCfg.MetricsRegistry = m.Registry
	}
	if ts := sc.Obs.TracerOrNil(); ts != nil {
		apiCfg.Tracer = ts.Tracer()
	}
	server := httpapi.New(apiCfg, logger).WithProbes(sched)
	if sc.AuditDB != nil {
		server.WithAudit(sc.AuditDB.Repository())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status api: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("status api shutdown failed", slog.String("error", err.Error()))
	}
	return nil
}

// buildScheduler wires probes from config to the shared backend, metrics
// and audit trail, plus the audit retention job.
func buildScheduler(sc *sharedComponents) (*scheduler.Scheduler, error) {
	cfg := sc.Config

	probes := make([]scheduler.Probe, 0, len(cfg.Probes))
	for _, p := range cfg.Probes {
		probes = append(probes, scheduler.Probe{Name: p.Name, Schedule: p.Schedule, Names: p.Secrets})
	}

	opts := []scheduler.Option{
		scheduler.WithLogger(sc.Logger),
		scheduler.WithResolverOptions(sc.resolverOptions()...),
	}
	if m := sc.Obs.MetricsOrNil(); m != nil {
		opts = append(opts, scheduler.WithMetrics(scheduler.NewMetrics(m.Registry)))
	}
	if sc.AuditDB != nil {
		opts = append(opts, scheduler.WithRecorderFactory(func(probe string) secrets.Recorder {
			return sc.auditRecorder("probe:" + probe)
		}))
		if days := cfg.Audit.Retain; days > 0 {
			repo := sc.AuditDB.Repository()
			opts = append(opts, scheduler.WithJob("audit-prune", "@daily", func(ctx context.Context) {
				n, err := repo.PruneOlderThan(ctx, days)
				if err != nil {
					sc.Logger.Error("audit prune failed", slog.String("error", err.Error()))
					return
				}
				sc.Logger.Info("audit events pruned", slog.Int64("removed", n), slog.Int("retain_days", days))
			}))
		}
	}

	notifier, err := buildNotifier(cfg, sc.Logger)
	if err != nil {
		return nil, err
	}
	if notifier.Len() > 0 {
		opts = append(opts, scheduler.WithTransitionHook(notifier.ProbeHook()))
	}

	return scheduler.New(sc.Backend, probes, opts...)
}

// buildNotifier creates senders for the notify section. A nil section
// yields an empty dispatcher.
func buildNotifier(cfg *config.Config, logger *slog.Logger) (*notification.Dispatcher, error) {
	var senders []notification.Sender
	if n := cfg.Notify; n != nil {
		for _, u := range n.Webhooks {
			w, err := notification.NewWebhookSender(u, n.AllowPrivate)
			if err != nil {
				return nil, err
			}
			senders = append(senders, w)
		}
		if n.Slack != nil {
			s, err := notification.NewSlackSender(n.Slack.Token, n.Slack.Channel)
			if err != nil {
				return nil, err
			}
			senders = append(senders, s)
		}
	}
	return notification.NewDispatcher(logger, senders...), nil
}

// registerHealthChecks adds readiness checks for probes, the audit store
// and backend anomaly detection.
func registerHealthChecks(sc *sharedComponents, sched *scheduler.Scheduler) *observability.HealthChecker {
	var hc *observability.HealthChecker
	if sc.Obs != nil {
		hc = sc.Obs.Health
	} else {
		hc = observability.NewHealthChecker(sc.Logger)
	}

	hc.AddCheck("probes", sched.Ready)
	if sc.AuditDB != nil {
		hc.AddCheck("audit", sc.AuditDB.Ping)
	}
	if a := sc.Obs.AnomalyOrNil(); a != nil {
		backend := sc.Backend.Name()
		hc.AddCheck("backend", func(context.Context) error {
			if a.Anomalous(backend) {
				return errors.New("backend " + backend + " failure rate above threshold")
			}
			return nil
		})
	}
	return hc
}
