// Package main is the entry point for the audit gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/facesystem/gateway/internal/api"
	"github.com/facesystem/gateway/internal/audit"
	"github.com/facesystem/gateway/internal/auth"
	"github.com/facesystem/gateway/internal/broker"
	"github.com/facesystem/gateway/internal/config"
	"github.com/facesystem/gateway/internal/counter"
	"github.com/facesystem/gateway/internal/db"
	"github.com/facesystem/gateway/internal/gateway"
	"github.com/facesystem/gateway/internal/health"
	"github.com/facesystem/gateway/internal/middleware"
	"github.com/facesystem/gateway/internal/pipeline"
	"github.com/facesystem/gateway/internal/search"
	"github.com/facesystem/gateway/internal/tracing"
	"github.com/facesystem/gateway/internal/transport"
)

const serviceName = "face-gateway"

// counterPrefix namespaces gateway keys in the shared Redis.
const counterPrefix = "face:"

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "optional YAML config file; environment variables take precedence")
	flag.Parse()

	if *help {
		fmt.Println("Face System Audit Gateway")
		fmt.Println()
		fmt.Println("Usage: gateway [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gateway exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("configuration loaded", slog.Any("config", cfg.LogSummary()))

	tp, err := tracing.NewProvider(cfg.Tracing(serviceName), logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(tp, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	httpMetrics := middleware.NewMetrics()
	pipelineMetrics := pipeline.NewMetrics()
	for _, r := range []interface{ Register(prometheus.Registerer) error }{httpMetrics, pipelineMetrics} {
		if err := r.Register(registry); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	repo := audit.NewPostgresRepository(sqlDB, logger)

	redisClient, err := counter.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	counters := counter.NewRedisStore(redisClient, counterPrefix)

	brokerClient, err := broker.NewClient(cfg.Broker(serviceName), logger)
	if err != nil {
		return fmt.Errorf("broker config: %w", err)
	}
	defer brokerClient.Close()
	if err := brokerClient.DeclareTopology(ctx); err != nil {
		// Events fall back to the direct sink until the broker is reachable.
		logger.Warn("broker topology not declared", slog.Any("error", err))
	}
	brokerPublisher := broker.NewPublisher(brokerClient, broker.Exchange, logger)
	defer brokerPublisher.Close()

	rt := transport.NewRoundTripper(transport.NewTransport(cfg.Timeouts()))
	searchCfg := cfg.Search()
	searchCfg.Transport = rt
	es, err := search.NewClient(searchCfg)
	if err != nil {
		return err
	}
	index := search.NewIndex(es, cfg.SearchIndex, logger)

	publisher := pipeline.NewPublisher(
		pipeline.NewBrokerSink(brokerPublisher),
		pipeline.NewDirectSink(repo),
		cfg.Breaker(),
		pipelineMetrics,
		logger,
	)

	var upstream *url.URL
	if cfg.UpstreamURL != "" {
		if upstream, err = url.Parse(cfg.UpstreamURL); err != nil {
			return fmt.Errorf("parse UPSTREAM_URL: %w", err)
		}
	} else {
		logger.Warn("UPSTREAM_URL not set; unmatched routes will return 404")
	}

	handler, err := gateway.NewHandler(gateway.Options{
		ServiceName: serviceName,
		Logger:      logger,
		Resolver:    audit.NewDefaultResolver(),
		Publisher:   publisher,
		Validator:   auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret),
		Rows:        repo,
		Searcher:    index,
		Checkers: map[string]api.HealthChecker{
			"database": health.NewDBChecker(sqlDB),
			"redis":    health.NewRedisChecker(redisClient),
			"broker":   health.NewBrokerChecker(brokerClient),
			"search":   health.NewSearchChecker(index),
		},
		RateLimits: middleware.NewCounterRateLimitStore(counters, httpMetrics),
		Metrics:    httpMetrics,
		Gatherer:   registry,
		Upstream:   upstream,
		Transport:  rt,
		CORS:       middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins, AllowCredentials: true},
		Profiling:  middleware.ProfilingConfig{Enabled: cfg.ProfilingEnabled, Environment: cfg.Env},
	})
	if err != nil {
		return err
	}

	addr := ":" + strconv.Itoa(cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := gateway.NewServer(addr, handler, cfg.ServerReadTimeout, cfg.ServerWriteTimeout)
	if err := gateway.Serve(ctx, srv, ln, logger); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func shutdownTracing(tp *tracing.Provider, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		logger.Error("tracer shutdown failed", slog.Any("error", err))
	}
}
