package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"catalogd/pkg/bus"
	"catalogd/pkg/db"
	"catalogd/pkg/telemetry"
	"catalogd/pkg/tunnel"
	"catalogd/services/catalog/internal/config"
	"catalogd/services/catalog/internal/discovery"
	"catalogd/services/catalog/internal/events"
	"catalogd/services/catalog/internal/reconcile"
	"catalogd/services/catalog/internal/scheduler"
	"catalogd/services/catalog/internal/store"
	"catalogd/services/catalog/internal/webhook"
)

func main() {
	if err := run("catalogd"); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
			}
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	orm, err := db.OpenORM(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open orm: %w", err)
	}
	defer func() {
		if err := db.CloseORM(orm); err != nil {
			logger.Printf("WARN orm close: %v", err)
		}
	}()

	gateway, err := store.New(orm, pool)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}

	var eventBus *bus.Bus
	if cfg.Bus.URL != "" {
		eventBus, err = bus.New(cfg.Bus.URL, serviceName)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		defer eventBus.Close()
	} else {
		logger.Printf("INFO bus disabled, no NATS_URL configured")
	}

	registry := discovery.NewRegistry(logger)

	var notifier reconcile.Notifier
	if eventBus != nil {
		notifier = reconcile.NewBusNotifier(eventBus)
	}
	engine := reconcile.New(gateway, registry, notifier, logger)
	pipeline := events.NewPipeline(gateway, engine, logger)

	errCh := make(chan error, 4)

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(gateway, engine, logger)
		go func() {
			if err := sched.Run(ctx); err != nil {
				errCh <- fmt.Errorf("scheduler: %w", err)
			}
		}()
	} else {
		logger.Printf("INFO scheduler disabled")
	}

	if cfg.Bridge.Enabled {
		bridge := events.NewBridge(gateway, pipeline, logger)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				errCh <- fmt.Errorf("sqs bridge: %w", err)
			}
		}()
	}

	if cfg.Webhook.Enabled {
		var intro tunnel.Introspector
		if cfg.Webhook.PublicURL != "" {
			intro = tunnel.Static(cfg.Webhook.PublicURL)
		} else {
			intro = tunnel.NewClient(cfg.Webhook.AgentURL)
		}
		registrar := webhook.NewSNSRegistrar()
		loop := webhook.NewLoop(gateway, intro, registrar, cfg.Webhook.ConnectorID, logger)
		go func() {
			if err := loop.Run(ctx); err != nil {
				errCh <- fmt.Errorf("webhook loop: %w", err)
			}
		}()
	}

	if eventBus != nil {
		consumer := events.NewConsumer(eventBus, pipeline, logger)
		closer, err := consumer.Start(ctx)
		if err != nil {
			return fmt.Errorf("start bus consumer: %w", err)
		}
		defer closer.Close()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context(), pool); err != nil {
			http.Error(w, "database not ready", http.StatusServiceUnavailable)
			return
		}
		if cfg.Bus.URL != "" && !eventBus.Connected() {
			http.Error(w, "bus not connected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	handler := events.NewHandler(pipeline, logger)
	routes, err := handler.Routes()
	if err != nil {
		return fmt.Errorf("build routes: %w", err)
	}
	mux.Handle("/v1/", routes)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: middleware(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: http shutdown error: %v\n", serviceName, err)
		}
	}()

	logger.Printf("INFO http listening on %s", server.Addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
