package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reportflow/internal/api"
	"reportflow/internal/config"
	"reportflow/internal/domain"
	"reportflow/internal/metrics"
	"reportflow/internal/notify"
	"reportflow/internal/pipeline"
	"reportflow/internal/report"
	"reportflow/internal/scheduler"
	"reportflow/internal/store"
	"reportflow/internal/worker"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "YAML config file")
		addr    = flag.String("addr", "", "HTTP bind address (overrides config)")
		dbPath  = flag.String("db", "", "SQLite DB path (overrides config)")
		workers = flag.Int("workers", 0, "number of job worker slots (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *workers > 0 {
		cfg.Scheduler.Workers = *workers
	}
	setupLogging(cfg.Log)

	ctx := context.Background()
	loc, _ := time.LoadLocation(cfg.Scheduler.Timezone)

	var (
		sink     metrics.Sink = metrics.Noop{}
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		sink = metrics.NewPrometheusSink(reg)
		gatherer = reg
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("open store")
	}
	defer st.Close()

	dispatcher, err := notify.FromConfig(cfg.Notify, sink)
	if err != nil {
		log.Fatal().Err(err).Msg("notify config")
	}
	producers := map[domain.ReportType]report.Producer{}
	if cfg.Reports.BaseURL != "" {
		p := report.NewHTTPProducer(cfg.Reports.BaseURL, cfg.Reports.Timeout)
		for _, t := range domain.ReportTypes {
			producers[t] = p
		}
	} else {
		log.Warn().Msg("reports.base_url not set, notification cycles will collect nothing")
	}
	cycle := pipeline.New(
		report.NewAggregator(producers, report.Options{Concurrency: cfg.Reports.Concurrency, Timeout: cfg.Reports.Timeout, Metrics: sink}),
		dispatcher,
	)

	validator := scheduler.NewValidator(loc)
	registry := scheduler.NewRegistry(scheduler.RegistryOptions{
		Location:   loc,
		Pool:       worker.NewPool(cfg.Scheduler.Workers),
		RunTimeout: cfg.Scheduler.RunTimeout,
		Metrics:    sink,
	})
	svc := scheduler.NewService(st, registry, validator, cfg.Scheduler.DefaultCron, sink)
	if err := svc.Register(cfg.Scheduler.DefaultTask, cycle.Action); err != nil {
		log.Fatal().Err(err).Msg("register task")
	}
	if err := svc.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("restore schedules")
	}
	registry.Start()

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.NewServer(api.Options{
			Scheduler:   svc,
			DefaultTask: cfg.Scheduler.DefaultTask,
			Summaries:   cycle,
			Gatherer:    gatherer,
			MetricsPath: cfg.Metrics.Path,
			Debug:       cfg.HTTP.Debug,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancelHTTP()
	_ = srv.Shutdown(httpCtx)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), cfg.Scheduler.StopTimeout)
	defer cancelStop()
	if err := registry.Stop(stopCtx); err != nil {
		log.Warn().Err(err).Msg("scheduler stop timed out, running jobs were cancelled")
	}
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
}
