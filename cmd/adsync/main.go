package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adtechlabs/adsync/internal/pipeline"
	"github.com/adtechlabs/adsync/pkg/bootstrap"
	"github.com/adtechlabs/adsync/pkg/cdc"
	"github.com/adtechlabs/adsync/pkg/config"
	"github.com/adtechlabs/adsync/pkg/logger"
	"github.com/adtechlabs/adsync/pkg/metrics"
	"github.com/adtechlabs/adsync/pkg/schema"
	"github.com/adtechlabs/adsync/pkg/seed"
	"github.com/adtechlabs/adsync/pkg/sink"
	"github.com/adtechlabs/adsync/pkg/source"
	"github.com/adtechlabs/adsync/pkg/transform"
	"github.com/adtechlabs/adsync/pkg/typeconv"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "adsync",
		Short: "AdSync - PostgreSQL to ClickHouse advertising data synchronization",
		Long: `AdSync keeps an analytical ClickHouse store consistent with an operational
PostgreSQL database holding advertisers, campaigns, impressions and clicks.
It offers a watermark-driven batch pipeline and a Debezium/Kafka streaming
pipeline; both rely on ClickHouse ReplacingMergeTree semantics for
idempotent upserts.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("AdSync v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var daemon bool
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Run the batch sync pipeline",
		Long: `Run one sync cycle (or a cycle per interval with --daemon): extract rows
changed since the last watermark from PostgreSQL and bulk-load them into
ClickHouse, one entity kind at a time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(daemon)
		},
	}
	batchCmd.Flags().BoolVar(&daemon, "daemon", false, "Run continuously, one cycle per SYNC_INTERVAL")
	root.AddCommand(batchCmd)

	root.AddCommand(&cobra.Command{
		Use:   "stream",
		Short: "Run the CDC streaming pipeline",
		Long: `Consume Debezium change events from Kafka and apply them to ClickHouse
one row at a time. Creates the Debezium connector on startup if needed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream()
		},
	})

	seedOpts := seed.DefaultOptions()
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the source database with sample data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(seedOpts)
		},
	}
	seedCmd.Flags().IntVar(&seedOpts.Advertisers, "advertisers", seedOpts.Advertisers, "Number of advertisers to create")
	seedCmd.Flags().IntVar(&seedOpts.CampaignsPerAdvertiser, "campaigns", seedOpts.CampaignsPerAdvertiser, "Campaigns per advertiser")
	seedCmd.Flags().IntVar(&seedOpts.ImpressionsPerCampaign, "impressions", seedOpts.ImpressionsPerCampaign, "Impressions per campaign")
	seedCmd.Flags().Float64Var(&seedOpts.ClickRatio, "click-ratio", seedOpts.ClickRatio, "Fraction of impressions that receive a click")
	root.AddCommand(seedCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and initializes the global logger.
func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Encoding: "json"}); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	return cfg, nil
}

// serveMetrics exposes the Prometheus endpoint when configured.
func serveMetrics(addr string, log *zap.Logger) {
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
}

func runBatch(daemon bool) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	log := logger.With(zap.String("pipeline", "batch"))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveMetrics(cfg.MetricsAddr, log)

	ch, err := sink.Connect(ctx, cfg.Clickhouse, log)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if err := schema.NewProvisioner(ch, cfg.Sync, log).Setup(ctx); err != nil {
		return err
	}

	pg, err := source.Connect(ctx, cfg.Postgres, log)
	if err != nil {
		return err
	}
	defer pg.Close()

	transformer := transform.New(typeconv.New(log))
	engine := pipeline.NewEngine(pg, ch, transformer, log)
	orchestrator := pipeline.NewOrchestrator(engine, log)

	summary := orchestrator.RunCycle(ctx)
	if !daemon {
		if !summary.Success {
			return fmt.Errorf("sync cycle failed")
		}
		return nil
	}

	log.Info("running in daemon mode", zap.Duration("interval", cfg.Sync.Interval))
	ticker := time.NewTicker(cfg.Sync.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return nil
		case <-ticker.C:
			orchestrator.RunCycle(ctx)
		}
	}
}

func runStream() error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	log := logger.With(zap.String("pipeline", "stream"))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveMetrics(cfg.MetricsAddr, log)

	// Required collaborators must be reachable before consuming; failure
	// here is the one fatal path.
	if err := bootstrap.WaitForKafka(ctx, cfg.Kafka.Brokers, log); err != nil {
		return err
	}
	if err := bootstrap.WaitForConnect(ctx, cfg.Debezium.ConnectorURL, log); err != nil {
		return err
	}
	if err := bootstrap.EnsureConnector(ctx, cfg.Debezium, log); err != nil {
		return err
	}

	ch, err := sink.Connect(ctx, cfg.Clickhouse, log)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	transformer := transform.New(typeconv.New(log))
	applier := cdc.NewApplier(ch, transformer, log)
	consumer := cdc.NewConsumer(cfg.Kafka, applier, log)

	if err := consumer.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutdown signal received, draining in-flight batch")
	return consumer.Stop()
}

func runSeed(opts seed.Options) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	log := logger.Get()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := source.Connect(ctx, cfg.Postgres, log)
	if err != nil {
		return err
	}
	defer pg.Close()

	return seed.New(pg, log).Run(ctx, opts)
}
