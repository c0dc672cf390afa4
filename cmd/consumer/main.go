package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go-retrial/internal/config"
	"go-retrial/internal/kafka"
	"go-retrial/internal/observability"
	"go-retrial/internal/rabbitmq"
	"go-retrial/internal/retrial"
	"go-retrial/internal/service"

	"go.uber.org/zap"
)

type app struct {
	cfg       *config.Config
	client    *rabbitmq.Client
	logger    *zap.Logger
	metrics   *observability.PrometheusMetrics
	observer  rabbitmq.DeadLetterObserver
	processor *service.MessageProcessor
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	observability.InitLogger(cfg.Logging.Level)
	logger, err := observability.NewZapLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		observability.GetLogger().WithError(err).Fatal("Consumer stopped")
	}
	observability.GetLogger().Info("Consumer stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	registry := retrial.NewRegistry()
	for _, destination := range cfg.Consumer.Destinations {
		registry.Register(destination)
	}

	plan, err := retrial.BuildPlan(cfg.Destinations(), registry.Names())
	if err != nil {
		return err
	}
	if len(plan.Destinations()) == 0 {
		return errors.New("no destinations to consume: set queues or consumer.destinations")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	client, err := rabbitmq.Dial(ctx, rabbitmq.ClientConfig{
		URL:            cfg.AMQP.URL,
		ConnectionName: cfg.ConnectionName(hostname),
		MaxRetries:     cfg.AMQP.ReconnectRetries,
		BaseBackoff:    cfg.AMQP.ReconnectBackoff,
		MaxBackoff:     cfg.AMQP.MaxReconnectWait,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	provision := func() error {
		ch, err := client.Channel()
		if err != nil {
			return err
		}
		defer ch.Close()
		return rabbitmq.Provision(ch, plan)
	}
	if err := provision(); err != nil {
		return err
	}
	observability.WithField("destinations", plan.Destinations()).Info("Topology provisioned")

	a := &app{
		cfg:       cfg,
		client:    client,
		logger:    logger,
		metrics:   observability.NewPrometheusMetrics(cfg.Metrics.Namespace),
		processor: service.NewMessageProcessor(),
	}

	if len(cfg.Alerts.Brokers) > 0 {
		notifier := kafka.NewDeadLetterNotifier(kafka.NewProducer(kafka.ProducerConfig{
			Brokers:    cfg.Alerts.Brokers,
			Acks:       -1,
			Retries:    3,
			Idempotent: true,
			Logger:     logger,
		}), cfg.Alerts.Topic, logger)
		defer notifier.Close()
		a.observer = notifier
	}

	server := a.startMetricsServer()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go client.HealthCheckLoop(ctx, cfg.AMQP.HealthInterval, provision)

	var wg sync.WaitGroup
	for _, destination := range plan.Destinations() {
		wg.Add(1)
		go func(destination string) {
			defer wg.Done()
			a.consume(ctx, destination)
		}(destination)
	}
	wg.Wait()
	return nil
}

// consume keeps a consumer session running for destination until ctx is done
func (a *app) consume(ctx context.Context, destination string) {
	logger := a.logger.With(zap.String("destination", destination))
	for {
		err := a.session(ctx, destination)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Consumer session ended, restarting", zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.AMQP.ReconnectBackoff):
		}
	}
}

// session runs one consumer on fresh channels. Publishing uses its own
// channel so confirms never interleave with deliveries.
func (a *app) session(ctx context.Context, destination string) error {
	consumeCh, err := a.client.Channel()
	if err != nil {
		return err
	}
	defer consumeCh.Close()

	publishCh, err := a.client.Channel()
	if err != nil {
		return err
	}
	publisher, err := rabbitmq.NewPublisher(publishCh, rabbitmq.PublisherConfig{
		Timeout: a.cfg.Consumer.PublishTimeout,
		Logger:  a.logger,
	})
	if err != nil {
		_ = publishCh.Close()
		return err
	}
	defer publisher.Close()

	dispatcher := retrial.NewDispatcher(retrial.DispatcherConfig{
		Publisher:   publisher,
		MaxAttempts: a.cfg.MaxAttempts(),
		Backoff:     a.cfg.Backoff(),
	})

	consumer := rabbitmq.NewConsumer(consumeCh, dispatcher, rabbitmq.ConsumerConfig{
		Destination:   destination,
		Workers:       a.cfg.Consumer.Workers,
		PrefetchCount: a.cfg.PrefetchFor(destination),
		Metrics:       a.metrics,
		Observer:      a.observer,
		Logger:        a.logger,
	})
	return consumer.Start(ctx, a.processor.Process)
}

func (a *app) startMetricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.client.HealthCheck(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return server
}
