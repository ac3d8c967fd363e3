package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"checkpointfeed/internal/config"
	cronrunner "checkpointfeed/internal/cron"
	"checkpointfeed/internal/handler"
	"checkpointfeed/internal/ingest"
	"checkpointfeed/internal/metrics"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll channels until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sched, err := buildScheduler(cfg, log, metrics.New(reg))
	if err != nil {
		return err
	}

	if cfg.Cron.Enabled && cfg.Cron.HealthReport != "" {
		runner := cronrunner.New(log.Named("cron"), ctx)
		if _, err := runner.Add("health_report", cfg.Cron.HealthReport, sched.ReportHealth); err != nil {
			log.Warn("cron register health report failed", zap.Error(err))
		}
		runner.Start()
		defer runner.Stop()
	}

	if cfg.Server.HTTPAddr != "" {
		srv := newServer(cfg, sched, reg)
		go func() {
			log.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("server error", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := shutdownTimeout(ctx)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	err = sched.Run(ctx)
	if errors.Is(err, ingest.ErrInitFailed) {
		log.Error("monitor failed to start", zap.Error(err))
		return err
	}
	if err != nil && ctx.Err() != nil {
		log.Info("interrupted during startup")
		return nil
	}
	if err == nil {
		log.Info("monitor stopped")
	}
	return err
}

func newServer(cfg config.Config, sched *ingest.Scheduler, reg *prometheus.Registry) *http.Server {
	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	(&handler.HealthHandler{Monitor: sched}).Register(engine)
	(&handler.StatusHandler{Monitor: sched}).Register(engine)
	(&handler.MetricsHandler{Gatherer: reg}).Register(engine)

	return &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}
}
