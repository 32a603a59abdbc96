package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/facesystem/gateway/internal/alert"
	"github.com/facesystem/gateway/internal/api"
	"github.com/facesystem/gateway/internal/audit"
	"github.com/facesystem/gateway/internal/broker"
	"github.com/facesystem/gateway/internal/consumer"
	"github.com/facesystem/gateway/internal/counter"
	"github.com/facesystem/gateway/internal/db"
	"github.com/facesystem/gateway/internal/gateway"
	"github.com/facesystem/gateway/internal/health"
	"github.com/facesystem/gateway/internal/mail"
	"github.com/facesystem/gateway/internal/search"
	"github.com/facesystem/gateway/internal/tracing"
	"github.com/facesystem/gateway/internal/transport"
)

// Queue names accepted by --queue.
const (
	queuePersist = "persist"
	queueSearch  = "search"
	queueAlert   = "alert"
)

var allQueues = []string{queuePersist, queueSearch, queueAlert}

// counterPrefix must match the gateway's so both share one key space.
const counterPrefix = "face:"

// parseQueues validates and de-duplicates the --queue values, keeping order.
func parseQueues(names []string) ([]string, error) {
	var out []string
	for _, n := range names {
		for _, part := range strings.Split(n, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			if !slices.Contains(allQueues, part) {
				return nil, fmt.Errorf("unknown queue %q (want one of %s)", part, strings.Join(allQueues, ", "))
			}
			if !slices.Contains(out, part) {
				out = append(out, part)
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("at least one queue is required")
	}
	return out, nil
}

func newConsumeCmd(c *cli) *cobra.Command {
	var (
		queues      []string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume audit events until interrupted",
		Long: "Declares the broker topology, then runs the selected consumers concurrently.\n" +
			"persist writes rows to PostgreSQL, search indexes documents in Elasticsearch,\n" +
			"alert evaluates the alert rules.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			selected, err := parseQueues(queues)
			if err != nil {
				return err
			}
			return c.consume(cmd.Context(), selected, metricsAddr)
		},
	}
	cmd.Flags().StringSliceVar(&queues, "queue", allQueues, "queues to consume: persist, search, alert")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9091", "address for /actuator/prometheus and health probes; empty disables")
	return cmd
}

// worker owns the resources opened for one consume run.
type worker struct {
	cli      *cli
	registry *prometheus.Registry
	checkers map[string]api.HealthChecker
	closers  []func() error
}

func (w *worker) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			w.cli.logger.Warn("close failed", slog.Any("error", err))
		}
	}
}

func (c *cli) consume(ctx context.Context, queues []string, metricsAddr string) error {
	logger := c.logger

	tp, err := tracing.NewProvider(c.cfg.Tracing(serviceName), logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown failed", slog.Any("error", err))
		}
	}()

	w := &worker{
		cli:      c,
		registry: prometheus.NewRegistry(),
		checkers: make(map[string]api.HealthChecker),
	}
	defer w.close()
	w.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	brokerMetrics := broker.NewMetrics()
	if err := brokerMetrics.Register(w.registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	client, err := broker.NewClient(c.cfg.Broker(serviceName), logger)
	if err != nil {
		return fmt.Errorf("broker config: %w", err)
	}
	w.closers = append(w.closers, client.Close)
	w.checkers["broker"] = health.NewBrokerChecker(client)

	if err := client.DeclareTopology(ctx); err != nil {
		return err
	}

	var consumers []*broker.Consumer
	for _, q := range queues {
		var (
			queue   string
			handler broker.Handler
		)
		switch q {
		case queuePersist:
			repo, err := w.repository(ctx)
			if err != nil {
				return err
			}
			queue, handler = broker.PersistQueue, consumer.Persist(repo, logger)
		case queueSearch:
			index, err := w.searchIndex(ctx)
			if err != nil {
				return err
			}
			queue, handler = broker.SearchQueue, consumer.Index(index, logger)
		case queueAlert:
			engine, err := w.alertEngine()
			if err != nil {
				return err
			}
			queue, handler = broker.AlertQueue, consumer.Alert(engine)
		}
		consumers = append(consumers, broker.NewConsumer(client, queue, handler, brokerMetrics, logger))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, cons := range consumers {
		g.Go(func() error {
			if err := cons.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if metricsAddr != "" {
		ln, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", metricsAddr, err)
		}
		srv := gateway.NewServer(metricsAddr, w.opsHandler(), c.cfg.ServerReadTimeout, c.cfg.ServerWriteTimeout)
		g.Go(func() error { return gateway.Serve(gctx, srv, ln, logger) })
	}

	logger.Info("audit worker started", slog.Any("queues", queues))
	err = g.Wait()
	logger.Info("audit worker stopped")
	return err
}

// opsHandler serves metrics and health probes for the worker.
func (w *worker) opsHandler() http.Handler {
	h := api.NewHealthHandlers(w.checkers, w.cli.logger)
	r := chi.NewRouter()
	r.Get("/ping", h.Ping)
	r.Get("/actuator/health", h.Health)
	r.Get("/actuator/health/readiness", h.Ready)
	r.Method(http.MethodGet, "/actuator/prometheus", promhttp.HandlerFor(w.registry, promhttp.HandlerOpts{}))
	return r
}

func (w *worker) repository(ctx context.Context) (audit.Repository, error) {
	sqlDB, err := db.Open(ctx, w.cli.cfg.DatabaseURL, db.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	w.closers = append(w.closers, sqlDB.Close)
	w.checkers["database"] = health.NewDBChecker(sqlDB)
	return audit.NewPostgresRepository(sqlDB, w.cli.logger), nil
}

func (w *worker) searchIndex(ctx context.Context) (*search.Index, error) {
	cfg := w.cli.cfg.Search()
	cfg.Transport = transport.NewRoundTripper(transport.NewTransport(w.cli.cfg.Timeouts()))
	es, err := search.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	index := search.NewIndex(es, w.cli.cfg.SearchIndex, w.cli.logger)
	if err := index.EnsureIndex(ctx); err != nil {
		return nil, fmt.Errorf("ensure search index: %w", err)
	}
	w.checkers["search"] = health.NewSearchChecker(index)
	return index, nil
}

func (w *worker) alertEngine() (*alert.Engine, error) {
	cfg := w.cli.cfg
	logger := w.cli.logger

	redisClient, err := counter.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	w.closers = append(w.closers, redisClient.Close)
	w.checkers["redis"] = health.NewRedisChecker(redisClient)
	store := counter.NewRedisStore(redisClient, counterPrefix)

	var notifier alert.Notifier
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST not set; alerts will only be logged")
		notifier = alert.LogNotifier(logger)
	} else {
		sender, err := mail.NewSMTPSender(cfg.SMTP())
		if err != nil {
			return nil, fmt.Errorf("smtp config: %w", err)
		}
		notifier = alert.NewEmailNotifier(sender, cfg.AlertRecipients)
	}

	metrics := alert.NewMetrics()
	if err := metrics.Register(w.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return alert.NewEngine(alert.DefaultRules(store, cfg.Alert()), notifier, metrics, logger), nil
}
