package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/mohamaddakhiliuad/tenantorders/internal/app"
	"github.com/mohamaddakhiliuad/tenantorders/internal/clock"
	"github.com/mohamaddakhiliuad/tenantorders/internal/config"
	"github.com/mohamaddakhiliuad/tenantorders/internal/events"
	"github.com/mohamaddakhiliuad/tenantorders/internal/idempotency"
	"github.com/mohamaddakhiliuad/tenantorders/internal/logger"
	"github.com/mohamaddakhiliuad/tenantorders/internal/metrics"
	"github.com/mohamaddakhiliuad/tenantorders/internal/storage"
	"github.com/mohamaddakhiliuad/tenantorders/internal/telemetry"
	"github.com/mohamaddakhiliuad/tenantorders/internal/tenancy"
	transporthttp "github.com/mohamaddakhiliuad/tenantorders/internal/transport/http"
	"github.com/mohamaddakhiliuad/tenantorders/internal/uow"
)

const serviceName = "tenantorders-api"

func main() {
	boot := logger.NewNop()
	if l, err := logger.New(os.Getenv("LOG_MODE")); err == nil {
		boot = l
	}
	config.LoadDotEnv(boot)

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal("load config", "error", err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		boot.Fatal("build logger", "error", err)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("api stopped with error", "error", err)
	}
	log.Info("server stopped")
}

func run(cfg config.Config, log *logger.Logger) error {
	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(stopCtx, 5*time.Second)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(startupCtx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	}()

	store, closeStore, err := storage.Open(startupCtx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	log.Info("store ready", "driver", cfg.StoreDriver)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dispatcher, closeDispatcher := buildDispatcher(cfg, log)
	defer closeDispatcher()

	clk := clock.NewSystem()
	policy := tenancy.NewPolicy(tenancy.DefaultRegistry())
	uows := uow.NewFactory(store, policy, clk,
		uow.WithLogger(log),
		uow.WithMetrics(m),
		uow.WithDispatcher(dispatcher),
	)
	coordinator := idempotency.NewCoordinator(store, idempotency.WithLogger(log), idempotency.WithMetrics(m))
	sweeper := idempotency.NewSweeper(store, clk, cfg.IdempotencySweepInterval, idempotency.WithLogger(log), idempotency.WithMetrics(m))

	handler := transporthttp.NewRouter(transporthttp.Deps{
		Orders: app.NewOrderService(uows, coordinator, clk,
			app.WithIdempotencyTTL(cfg.IdempotencyTTL),
			app.WithOrderLogger(log),
		),
		Queries:       app.NewQueryService(store, policy),
		Customers:     app.NewCustomerService(uows),
		Store:         store,
		Metrics:       m,
		Logger:        log,
		CORSOrigins:   cfg.CORSOrigins,
		DefaultTenant: cfg.DefaultTenant,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(stopCtx)
	g.Go(func() error {
		log.Info("api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown signal received, stopping server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// buildDispatcher always logs released events and additionally publishes them
// to Kafka when brokers are configured.
func buildDispatcher(cfg config.Config, log *logger.Logger) (events.Dispatcher, func()) {
	logDispatcher := events.NewLogDispatcher(log)
	brokers := events.ParseBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		return logDispatcher, func() {}
	}
	kafka := events.NewKafkaDispatcher(events.NewKafkaWriter(brokers, cfg.KafkaTopic))
	log.Info("publishing domain events to kafka", "topic", cfg.KafkaTopic, "brokers", len(brokers))
	return events.Multi{logDispatcher, kafka}, func() {
		if err := kafka.Close(); err != nil {
			log.Warn("close kafka writer", "error", err)
		}
	}
}
