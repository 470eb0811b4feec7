package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kmilewski/listing-crawler/internal/api"
	"github.com/kmilewski/listing-crawler/internal/checkpoint"
	"github.com/kmilewski/listing-crawler/internal/config"
	"github.com/kmilewski/listing-crawler/internal/coordinator"
	"github.com/kmilewski/listing-crawler/internal/discover"
	"github.com/kmilewski/listing-crawler/internal/discover/htmlsource"
	"github.com/kmilewski/listing-crawler/internal/fetch"
	"github.com/kmilewski/listing-crawler/internal/sink"
)

// newDiscoverCmd creates and configures the 'discover' subcommand, the main
// crawl entry point.
func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Crawls the configured listing units",
		Long: `Walks every configured unit's paginated listing, appends newly
discovered item URLs to the output CSV and checkpoints progress after each
page. Units that failed a page fetch are retried in later rounds; units that
already completed are skipped.`,
		RunE: runDiscoverCommand,
	}

	cmd.Flags().Int("limit", 0, "stop after this many new items across all units (0 = uncapped)")
	cmd.Flags().Int("max-pages", 0, "maximum listing pages per unit")
	cmd.Flags().Int("retry-rounds", -1, "extra passes over incomplete units")
	cmd.Flags().Duration("retry-sleep", 0, "pause before each retry round")

	v := viper.GetViper()
	cobra.CheckErr(v.BindPFlag("discover.limit", cmd.Flags().Lookup("limit")))
	cobra.CheckErr(v.BindPFlag("discover.max_pages", cmd.Flags().Lookup("max-pages")))
	cobra.CheckErr(v.BindPFlag("discover.retry_rounds", cmd.Flags().Lookup("retry-rounds")))
	cobra.CheckErr(v.BindPFlag("discover.retry_sleep", cmd.Flags().Lookup("retry-sleep")))

	return cmd
}

func runDiscoverCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord, store, err := buildCrawl(cfg, logger)
	if err != nil {
		return err
	}

	var srv *api.Server
	srvErr := make(chan error, 1)
	if cfg.Server.Enabled {
		srv = api.New(cfg.Server.Addr, store, logger)
		go func() { srvErr <- srv.Start() }()
	}

	runErr := coord.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api_shutdown_fail", zap.Error(err))
		}
		if err := <-srvErr; err != nil {
			logger.Warn("api_serve_fail", zap.Error(err))
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run discovery: %w", runErr)
	}
	logger.Info("discover_command_finished")
	return nil
}

// buildCrawl assembles the fetch, sink, checkpoint and scheduling layers
// from the config.
func buildCrawl(cfg *config.Config, logger *zap.Logger) (*coordinator.Coordinator, *checkpoint.Store, error) {
	limiter := fetch.NewHostLimiter(cfg.HTTP.RatePerHost)
	client, err := fetch.NewClient(fetch.Config{
		UserAgent:      cfg.HTTP.UserAgent,
		AcceptLanguage: cfg.HTTP.AcceptLanguage,
		Timeout:        cfg.HTTP.Timeout,
		MaxRetries:     cfg.HTTP.MaxRetries,
		BackoffInitial: cfg.HTTP.BackoffInitial,
		BackoffMax:     cfg.HTTP.BackoffMax,
	}, limiter, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init fetch client: %w", err)
	}

	source, err := htmlsource.New(cfg.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("init source: %w", err)
	}

	csv, err := sink.NewCSV(cfg.IO.OutputCSV, discover.URLColumns, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init csv sink: %w", err)
	}
	items := discover.NewCSVItemSink(csv, source.Name())

	store, err := checkpoint.NewStore(cfg.IO.CheckpointDir, source.Name())
	if err != nil {
		return nil, nil, fmt.Errorf("init checkpoint store: %w", err)
	}
	if _, err := store.Load(); err != nil {
		return nil, nil, fmt.Errorf("load checkpoint: %w", err)
	}

	limit := discover.NewLimit(cfg.Discover.Limit)
	disc := discover.NewDiscoverer(client, source, items, store, limit, logger)

	coord := coordinator.New(disc, store, cfg.CrawlUnits(), limit, coordinator.Config{
		MaxPages:    cfg.Discover.MaxPages,
		RetryRounds: cfg.Discover.RetryRounds,
		RetrySleep:  cfg.Discover.RetrySleep,
	}, logger)

	return coord, store, nil
}
