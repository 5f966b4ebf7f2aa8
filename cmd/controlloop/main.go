// Command controlloop runs the adaptive performance control loop: analytics
// and predictive insights over the metrics feed, alerting, optimization and
// the operator API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/davidleathers/performance-control-loop/internal/api/rest"
	domainopt "github.com/davidleathers/performance-control-loop/internal/domain/optimization"
	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
	"github.com/davidleathers/performance-control-loop/internal/infrastructure/cache"
	"github.com/davidleathers/performance-control-loop/internal/infrastructure/config"
	"github.com/davidleathers/performance-control-loop/internal/infrastructure/database"
	"github.com/davidleathers/performance-control-loop/internal/infrastructure/events"
	"github.com/davidleathers/performance-control-loop/internal/infrastructure/feed"
	"github.com/davidleathers/performance-control-loop/internal/infrastructure/telemetry"
	"github.com/davidleathers/performance-control-loop/internal/metrics"
	"github.com/davidleathers/performance-control-loop/internal/service/aggregator"
	"github.com/davidleathers/performance-control-loop/internal/service/alerting"
	"github.com/davidleathers/performance-control-loop/internal/service/analytics"
	"github.com/davidleathers/performance-control-loop/internal/service/notify"
	"github.com/davidleathers/performance-control-loop/internal/service/optimization"
	"github.com/davidleathers/performance-control-loop/internal/service/predictive"
	"github.com/davidleathers/performance-control-loop/internal/service/scheduler"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("control loop stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	boot := telemetry.SetupLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(boot)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Version, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			boot.Error("telemetry shutdown failed", "error", err)
		}
	}()

	logger, err := telemetry.NewZapLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promCollectors := metrics.NewCollectors(reg)
	otelRegistry, err := metrics.NewRegistry(otel.Meter("controlloop"))
	if err != nil {
		return fmt.Errorf("failed to create otel instruments: %w", err)
	}
	recorder := metrics.Multi{promCollectors, otelRegistry}

	var archive *database.Repository
	if cfg.Database.Enabled {
		pool, err := database.Connect(ctx, &cfg.Database, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		archive = database.NewRepository(pool, logger)
	}

	var source sample.Source
	var writer sample.Writer
	var cooldowns alerting.CooldownStore
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(&cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		cooldowns = cache.NewRedisCooldownStore(client, cfg.Redis.KeyPrefix, logger)
		if cfg.Feed.Backend == "redis" {
			rf := cache.NewRedisFeed(client, cfg.Redis.KeyPrefix, cfg.Feed.Capacity, logger)
			source, writer = rf, rf
		}
	}
	if source == nil {
		mem := feed.NewMemoryFeed(cfg.Feed.Capacity)
		source, writer = mem, mem
	}

	sink := notify.MultiSink{notify.NewLogSink(logger.Named("notify"))}
	if cfg.Notifications.WebhookURL != "" {
		sink = append(sink, events.NewWebhookSink(events.WebhookSinkConfig{
			URL:           cfg.Notifications.WebhookURL,
			Secret:        cfg.Notifications.Secret,
			Timeout:       cfg.Notifications.Timeout,
			RatePerSecond: cfg.Notifications.RatePerSecond,
			Burst:         cfg.Notifications.Burst,
			Retry:         events.DefaultRetryPolicy(),
		}, logger))
	}

	var executor domainopt.Executor
	if cfg.Executor.URL != "" {
		executor = events.NewWebhookExecutor(cfg.Executor.URL, cfg.Executor.Secret, cfg.Executor.Timeout, logger)
	}

	analyticsSvc := analytics.NewService(source, cfg.Analytics, logger.Named("analytics"))
	predictiveEngine := predictive.NewEngine(cfg.Predictive, logger.Named("predictive"), predictive.WithSource(source))
	agg := aggregator.New(analyticsSvc, predictiveEngine, logger.Named("aggregator"))

	alertOpts := []alerting.Option{
		alerting.WithSink(sink),
		alerting.WithRecorder(recorder),
		alerting.WithRules(alerting.DefaultRules()...),
	}
	optOpts := []optimization.Option{
		optimization.WithSink(sink),
		optimization.WithRecorder(recorder),
		optimization.WithSource(source),
	}
	if cooldowns != nil {
		alertOpts = append(alertOpts, alerting.WithCooldownStore(cooldowns))
	}
	if archive != nil {
		alertOpts = append(alertOpts, alerting.WithArchive(archive))
		optOpts = append(optOpts, optimization.WithArchive(archive))
	}
	alerts := alerting.NewEngine(agg, cfg.Alerting, logger.Named("alerting"), alertOpts...)
	if cooldowns != nil {
		alerts.RestoreCooldowns(ctx)
	}
	optimizer := optimization.NewEngine(agg, executor, cfg.Optimization, logger.Named("optimization"), optOpts...)

	sched := scheduler.New(logger, scheduler.WithRecorder(recorder))
	if err := registerJobs(sched, cfg.Scheduler, alerts, optimizer, agg, sink, recorder); err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	server, err := rest.NewServer(rest.Config{
		Version:         cfg.Version,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		RateLimit:       float64(cfg.Security.RateLimit.RequestsPerSecond),
		RateBurst:       cfg.Security.RateLimit.BurstSize,
		Auth: rest.AuthConfig{
			JWTSecret: []byte(cfg.Security.JWTSecret),
			Issuer:    cfg.Security.Issuer,
		},
		Logger:     boot,
		Collectors: promCollectors,
		Gatherer:   reg,
	}, rest.Services{
		Alerts:       alerts,
		Optimization: optimizer,
		Schedules:    sched,
		Snapshots:    agg,
		Feed:         writer,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("control loop started",
		zap.String("environment", cfg.Environment),
		zap.String("feed", cfg.Feed.Backend),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("archive", archive != nil),
		zap.Bool("remote_executor", executor != nil),
		zap.String("strategy", cfg.Optimization.Strategy.String()))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")
	return server.Shutdown(context.Background())
}

// registerJobs registers the built-in jobs and, when the scheduler is
// enabled, one schedule per job at its configured tier.
func registerJobs(
	sched *scheduler.Scheduler,
	cfg config.SchedulerConfig,
	alerts *alerting.Engine,
	optimizer *optimization.Engine,
	agg summarizer,
	sink notify.Sink,
	recorder metrics.Recorder,
) error {
	jobs := []struct {
		name string
		job  scheduler.Job
		tier scheduler.Tier
	}{
		{jobAlerts, alertJob(alerts), cfg.Alerts},
		{jobOptimization, optimizationJob(optimizer), cfg.Optimization},
		{jobSummary, summaryJob(agg, sink, recorder), cfg.Summary},
	}
	for _, j := range jobs {
		if err := sched.RegisterJob(j.name, j.job); err != nil {
			return err
		}
		if _, err := sched.Put(j.name, j.name, j.tier, cfg.Enabled); err != nil {
			return err
		}
	}
	return nil
}
