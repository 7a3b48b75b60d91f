package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"PerpVAMM/internal/config"
	"PerpVAMM/internal/core"
	"PerpVAMM/internal/event"
	"PerpVAMM/internal/ingestion"
	"PerpVAMM/internal/ledger"
	"PerpVAMM/internal/observability"
	"PerpVAMM/internal/oracle"
	"PerpVAMM/internal/persistence"
	"PerpVAMM/internal/projection"
	"PerpVAMM/internal/query"
	"PerpVAMM/internal/server"
	"PerpVAMM/internal/store"
	"PerpVAMM/internal/vault"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the clearing house with its gRPC, HTTP and NATS surfaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}
			closer := observability.ConfigureLogging(cfg.LogOptions())
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger("main")
	logger.Info().Msg("PerpVAMM starting")

	db, err := openDB(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info().Msg("postgres connected")

	if err := persistence.NewMigrator(db).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)

	// Persist blocks the core (backpressure); projection and publish drop
	// when full.
	persistChan := make(chan event.Output, cfg.Core.PersistChanSize)
	projectionChan := make(chan event.Output, cfg.Core.ProjectionChanSize)
	publishChan := make(chan event.Output, cfg.Core.PublishChanSize)
	directives := make(chan event.Directive, cfg.Core.DirectiveChanSize)

	st := store.NewPostgres(db)
	vaults := vault.NewLedger()
	feed := oracle.NewService()
	coreLogger := observability.NewLogger("core")

	ch, err := core.NewClearingHouse(st, vaults, feed, core.Options{
		PersistChan:         persistChan,
		ProjectionChan:      projectionChan,
		IdempotencyCapacity: cfg.Core.IdempotencyCapacity,
		DBChecker:           persistence.NewPostgresIdempotencyChecker(db),
		Metrics:             metrics,
		Logger:              &coreLogger,
	})
	if err != nil {
		return err
	}

	writer := persistence.NewHistoryWriter(db)
	if err := recoverState(ctx, cfg, db, writer, ch, vaults, logger); err != nil {
		return err
	}

	// --- Pipeline: drains the core's outputs, outlives the ingress ---
	pipeline, pipelineCtx := errgroup.WithContext(context.Background())

	persistWorker := persistence.NewPersistenceWorker(writer, persistChan, cfg.Core.PersistBatchSize, cfg.Core.PersistFlushTimeout, metrics).
		WithMaxBackoff(cfg.Core.PersistMaxBackoff)

	var subscriber *ingestion.NATSSubscriber
	if cfg.NATS.Enabled {
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}
		logger.Info().Str("url", cfg.NATS.URL).Msg("NATS connected")
		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats %s", nc.Status())
			}
			return nil
		})

		persistWorker.WithPublish(publishChan)
		publisher := ingestion.NewHistoryPublisher(js, publishChan, metrics)
		pipeline.Go(func() error { return publisher.Run(pipelineCtx) })
		subscriber = ingestion.NewNATSSubscriber(js, directives, feed, metrics)
	}

	pipeline.Go(func() error {
		defer close(publishChan)
		return persistWorker.Run(pipelineCtx)
	})
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics)
	pipeline.Go(func() error { return projWorker.Run(pipelineCtx) })

	// --- Ingress: everything that feeds the core ---
	queryService := query.NewQueryService(st, feed, ch, db, metrics)
	service := server.NewService(ingestion.NewCommandIngest(ch, metrics), queryService, db, ch, core.GenesisHash())
	grpcServer := server.NewGRPCServer(cfg.GRPC.Addr, cfg.HTTP.Addr, server.ServerDeps{
		Service:       service,
		HealthChecker: healthChecker,
	})

	ingress, ingressCtx := errgroup.WithContext(ctx)
	ingress.Go(func() error { return ch.Run(ingressCtx, directives) })
	ingress.Go(func() error { return grpcServer.StartGRPC(ingressCtx) })
	ingress.Go(func() error { return grpcServer.StartHTTPGateway(ingressCtx) })
	ingress.Go(func() error {
		select {
		case <-pipelineCtx.Done():
			return fmt.Errorf("output pipeline stopped: %w", context.Cause(pipelineCtx))
		case <-ingressCtx.Done():
			return nil
		}
	})
	if subscriber != nil {
		if err := subscriber.Subscribe(ingressCtx); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		ingress.Go(func() error {
			<-ingressCtx.Done()
			subscriber.Stop()
			return nil
		})
	}

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Int64("sequence", ch.Sequence()).
		Str("grpc", cfg.GRPC.Addr).
		Str("http", cfg.HTTP.Addr).
		Bool("nats", cfg.NATS.Enabled).
		Msg("PerpVAMM ready")

	ingressErr := ingress.Wait()
	if errors.Is(ingressErr, context.Canceled) {
		ingressErr = nil
	}
	healthChecker.SetReady(false)
	logger.Info().Err(ingressErr).Msg("ingress stopped, draining outputs")

	// Nothing sends on the output channels once the core loop and the
	// servers have returned.
	close(persistChan)
	close(projectionChan)

	drained := make(chan error, 1)
	go func() { drained <- pipeline.Wait() }()
	var pipelineErr error
	select {
	case pipelineErr = <-drained:
	case <-time.After(30 * time.Second):
		pipelineErr = errors.New("timed out draining outputs")
	}
	if errors.Is(pipelineErr, context.Canceled) {
		pipelineErr = nil
	}
	logger.Info().
		Int64("sequence", ch.Sequence()).
		Err(pipelineErr).
		Msg("PerpVAMM stopped")
	return errors.Join(ingressErr, pipelineErr)
}

// recoverState resumes the chain from the history tables, or bootstraps a
// fresh exchange and seeds its insurance vault.
func recoverState(
	ctx context.Context,
	cfg *config.Config,
	db *sql.DB,
	writer *persistence.HistoryWriter,
	ch *core.ClearingHouse,
	vaults *vault.Ledger,
	logger zerolog.Logger,
) error {
	defaults, err := cfg.Protocol.Defaults()
	if err != nil {
		return err
	}
	if err := ch.Bootstrap(ctx, defaults); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	rec, err := persistence.NewRecoveryLoader(db).Load(ctx, cfg.Core.RecentDirectiveIDs)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if !rec.Empty() {
		if err := vaults.Restore(rec.Balances); err != nil {
			return fmt.Errorf("restore vaults: %w", err)
		}
		ch.Restore(rec.Sequence, rec.StateHash)
		ch.WarmIdempotency(rec.RecentDirectiveIDs)
		logger.Info().
			Int64("sequence", rec.Sequence).
			Int("directive_ids", len(rec.RecentDirectiveIDs)).
			Int("accounts", len(rec.Balances)).
			Msg("state recovered")
		return nil
	}

	seed, err := cfg.Protocol.InsuranceSeedAmount()
	if err != nil {
		return err
	}
	if seed.IsZero() {
		logger.Info().Msg("cold start")
		return nil
	}
	j := vault.FundingJournal(defaults.Protocol.InsuranceVault, seed, time.Now().Unix())
	if err := writer.WriteJournals(ctx, []ledger.Journal{j}); err != nil {
		return fmt.Errorf("record insurance seed: %w", err)
	}
	if err := vaults.Transfer(ctx, j); err != nil {
		return fmt.Errorf("seed insurance vault: %w", err)
	}
	logger.Info().Str("amount", seed.String()).Msg("cold start, insurance vault seeded")
	return nil
}
