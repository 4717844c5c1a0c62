package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/bms/internal/health"
	"github.com/vladislavdragonenkov/bms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/bms/internal/metrics"
	"github.com/vladislavdragonenkov/bms/internal/service/allocator"
	"github.com/vladislavdragonenkov/bms/internal/service/checkout"
	"github.com/vladislavdragonenkov/bms/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/bms/internal/service/ledger"
	"github.com/vladislavdragonenkov/bms/internal/service/outbox"
	"github.com/vladislavdragonenkov/bms/internal/service/payment"
	"github.com/vladislavdragonenkov/bms/internal/service/reconciler"
	"github.com/vladislavdragonenkov/bms/internal/service/sweeper"
	"github.com/vladislavdragonenkov/bms/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/bms/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run запускает сервис бронирования и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	configureLogging(cfg)
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := deps.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("failed to close storage")
		}
	}()

	checkoutMetrics := metrics.NewCheckoutMetrics()

	ledgerSvc := ledger.NewService(deps.Orders, deps.Catalog, logger.WithField("layer", "ledger"))
	allocatorSvc := allocator.NewService(deps.Slots, cfg.ReservationTTL, logger.WithField("layer", "allocator"))

	// NOTE: Using mock gateway for development/demo purposes.
	// In production, replace with a real payment provider client.
	gateway := payment.NewMockGateway()
	bridge := payment.NewBridge(gateway, ledgerSvc, logger.WithField("layer", "payment"))

	dispatcher := fulfillment.NewDispatcher(
		ledgerSvc,
		deps.Enrollments,
		allocatorSvc,
		deps.Outbox,
		logger.WithField("layer", "fulfillment"),
	)

	orchestrator := checkout.NewOrchestrator(
		ledgerSvc,
		allocatorSvc,
		bridge,
		dispatcher,
		logger.WithField("layer", "checkout"),
		checkoutMetrics,
	).WithRefundRevokesAccess(cfg.RefundRevokesAccess)

	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	if kafkaProducer != nil {
		orchestrator.WithKafka(kafkaProducer)
	}
	defer closeKafka(kafkaProducer, logger)

	verifier := reconciler.NewVerifier(cfg.WebhookSecret)
	reconcilerSvc := reconciler.NewService(
		verifier,
		ledgerSvc,
		allocatorSvc,
		dispatcher,
		logger.WithField("layer", "reconciler"),
		checkoutMetrics,
	)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.Store != nil {
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return deps.Store.Ping(pingCtx)
		}))
	}
	healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxBacklogChecker(deps.Outbox, 100, 1000))

	var wg sync.WaitGroup

	sweep := sweeper.New(
		ledgerSvc,
		allocatorSvc,
		sweeper.WithLogger(logger.WithField("layer", "sweeper")),
		sweeper.WithInterval(cfg.SweepInterval),
		sweeper.WithAwaitingPaymentTimeout(cfg.AwaitingPaymentTimeout),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweep.Run(ctx)
	}()

	if kafkaProducer != nil {
		worker := outbox.NewWorker(
			deps.Outbox,
			kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicFulfillmentEvents),
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	server := httpapi.NewServer(
		orchestrator,
		ledgerSvc,
		bridge,
		reconcilerSvc,
		healthHandler,
		logger.WithField("layer", "http"),
	)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP сервер слушает %s", cfg.HTTPAddr)
		errCh <- server.Start(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("http shutdown with error")
		}
		shutdownHTTP(metricsSrv, logger)
		wg.Wait()
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func configureLogging(cfg Config) {
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
