package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"asyncgate/internal/config"
	"asyncgate/internal/engine"
	"asyncgate/internal/infra/postgres"
	"asyncgate/internal/instance"
	"asyncgate/internal/observability"
	"asyncgate/internal/server/httpapi"
	"asyncgate/internal/shared/logging"
	"asyncgate/internal/sweeper"
)

func main() {
	root := &cobra.Command{
		Use:   "asyncgate-server",
		Short: "Durable task substrate: ledger, leases, receipts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
		SilenceUsage: true,
	}
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context())
		},
		SilenceUsage: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "asyncgate-server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logger := logging.NewComponentLogger("Main")

	settings, err := config.Load()
	if err != nil {
		return err
	}
	instanceID := instance.Detect(settings.InstanceID)
	if err := instance.Validate(instanceID, settings.Environment); err != nil {
		return err
	}
	logger.Info("starting asyncgate (instance=%s env=%s)", instanceID, settings.Environment)

	pool, err := pgxpool.New(ctx, settings.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	stores := postgres.NewStores(pool, storeConfig(settings, instanceID), logging.NewComponentLogger("Store"))
	if err := stores.EnsureSchema(ctx); err != nil {
		return err
	}

	collector, err := observability.NewCollector(observability.Config{
		Enabled:        settings.MetricsEnabled,
		PrometheusPort: settings.PrometheusPort,
	}, logging.NewComponentLogger("Metrics"))
	if err != nil {
		return err
	}

	tracer, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:        settings.TracingEnabled,
		Exporter:       settings.TracingExporter,
		OTLPEndpoint:   settings.TracingOTLPEndpoint,
		ZipkinEndpoint: settings.TracingZipkinEndpoint,
		SampleRate:     settings.TracingSampleRate,
		InstanceID:     instanceID,
	})
	if err != nil {
		return err
	}

	eng := engine.New(stores, engineConfig(settings), instanceID,
		engine.WithLogger(logging.NewComponentLogger("Engine")),
		engine.WithMetrics(collector),
	)

	handlerOpts := []httpapi.Option{httpapi.WithLogger(logging.NewComponentLogger("HTTPAPI"))}
	if settings.TracingEnabled {
		handlerOpts = append(handlerOpts, httpapi.WithTracer(tracer.Tracer()))
	}
	if settings.CORSEnabled {
		handlerOpts = append(handlerOpts, httpapi.WithCORS())
	}
	handler := httpapi.NewHandler(eng, handlerOpts...)
	srv := &http.Server{
		Addr:         settings.HTTPAddr,
		Handler:      handler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	sweep := sweeper.New(eng, settings.SweepInterval(), settings.SweepBatch,
		logging.NewComponentLogger("Sweeper"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening on %s", settings.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := sweep.Run(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown: %v", err)
		}
		if err := collector.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown: %v", err)
		}
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracing shutdown: %v", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("asyncgate stopped")
	return err
}

func migrate(ctx context.Context) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := pgxpool.New(ctx, settings.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	stores := postgres.NewStores(pool, storeConfig(settings, "migrate"), logging.Nop())
	if err := stores.EnsureSchema(ctx); err != nil {
		return err
	}
	fmt.Println("schema up to date")
	return nil
}

func storeConfig(s *config.Settings, instanceID string) postgres.Config {
	return postgres.Config{
		DefaultMaxAttempts:  s.DefaultMaxAttempts,
		DefaultRetryBackoff: time.Duration(s.DefaultRetryBackoffSeconds) * time.Second,
		MaxRetryBackoff:     time.Duration(s.MaxRetryBackoffSeconds) * time.Second,
		MaxLeaseRenewals:    s.MaxLeaseRenewals,
		MaxLeaseLifetime:    time.Duration(s.MaxLeaseLifetimeSeconds) * time.Second,
		MaxBodyBytes:        s.MaxBodyBytes,
		MaxParents:          s.MaxParents,
		MaxArtifacts:        s.MaxArtifacts,
		StrictLocatability:  s.StrictLocatability,
		InstanceID:          instanceID,
	}
}

func engineConfig(s *config.Settings) engine.Config {
	return engine.Config{
		DefaultLeaseTTL:               s.DefaultLeaseTTL(),
		MaxLeaseTTL:                   s.MaxLeaseTTL(),
		MaxClaimTasks:                 s.MaxClaimTasks,
		DefaultListLimit:              s.DefaultListLimit,
		MaxListLimit:                  s.MaxListLimit,
		ObligationCandidateMultiplier: s.ObligationCandidateMultiplier,
		ObligationCandidateHardCap:    s.ObligationCandidateHardCap,
		SweepBatch:                    s.SweepBatch,
		ExpiryJitterMax:               time.Duration(s.ExpiryJitterMaxSeconds) * time.Second,
	}
}
