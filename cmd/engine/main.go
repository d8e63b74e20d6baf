package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/rawblock/dao-analytics/internal/api"
	"github.com/rawblock/dao-analytics/internal/clustering"
	"github.com/rawblock/dao-analytics/internal/config"
	"github.com/rawblock/dao-analytics/internal/csvstore"
	"github.com/rawblock/dao-analytics/internal/db"
	"github.com/rawblock/dao-analytics/internal/runner"
)

type flags struct {
	mode     string
	loadFrom string
	saveTo   string

	dao       bool
	proposals bool
	strict    bool

	spec runner.ClusterSpec

	export string
}

func parseFlags(cfg *config.Config) flags {
	var f flags
	flag.StringVar(&f.mode, "mode", "analytics", "analytics | cluster | serve | schema")
	flag.StringVar(&f.loadFrom, "load-from", "db", "where to read votes, proposals and DAOs: db | csv")
	flag.StringVar(&f.saveTo, "save-to", "db", "where to write outputs: db | csv")

	flag.BoolVar(&f.dao, "dao", true, "generate DAO level analytics")
	flag.BoolVar(&f.proposals, "proposal", true, "generate proposal level analytics")
	flag.BoolVar(&f.strict, "strict", cfg.StrictReferences, "fail on votes referencing unknown proposals or DAOs")

	flag.StringVar(&f.spec.Algorithm, "algorithm", "kmeans", "kmeans | hierarchical | gmm | spectral | dbscan")
	flag.StringVar(&f.spec.Criterion, "criterion", "", "model selection criterion (silhouette when empty)")
	flag.StringVar(&f.spec.Distance, "distance", "euclidean", "distance used for clustering")
	flag.StringVar(&f.spec.ScoreDistance, "score-distance", "", "distance used for scoring (defaults to -distance)")
	flag.StringVar(&f.spec.Scaler, "scaler", "none", "none | standard | minmax")
	flag.StringVar(&f.spec.Entropy, "entropy", "shannon", "shannon | min")
	flag.StringVar(&f.spec.DAOID, "feature-dao", cfg.FeatureDAOID, "DAO whose proposals form the feature matrix (most voted when empty)")
	flag.IntVar(&f.spec.MaxProposals, "max-proposals", cfg.FeatureMaxProposals, "number of proposals in the feature matrix")
	flag.BoolVar(&f.spec.Overwrite, "overwrite", false, "replace existing cluster data")

	flag.StringVar(&f.export, "export", "", "schema mode: table to export as CSV to stdout")
	flag.Parse()
	return f
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.IsLocal() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
			Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	f := parseFlags(cfg)
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, f, &logger); err != nil {
		logger.Error().Err(err).Str("mode", f.mode).Msg("engine stopped")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, f flags, logger *zerolog.Logger) error {
	needDB := f.loadFrom == "db" || f.saveTo == "db" || f.mode == "serve" || f.mode == "schema"

	var store *db.PostgresStore
	if needDB {
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for database mode")
		}
		var err error
		store, err = db.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if cfg.MigrateOnStart {
			if err := store.Migrate(ctx); err != nil {
				return err
			}
		}
	}

	files := csvstore.New(cfg.DataDir, cfg.OutputDir, logger)

	var source runner.Source = files
	if f.loadFrom == "db" {
		source = store
	} else if f.loadFrom != "csv" {
		return fmt.Errorf("unknown -load-from %q", f.loadFrom)
	}
	var sink runner.Sink = files
	if f.saveTo == "db" {
		sink = store
	} else if f.saveTo != "csv" {
		return fmt.Errorf("unknown -save-to %q", f.saveTo)
	}

	selector := clustering.NewSelector(cfg.SelectorConfig(), logger)

	switch f.mode {
	case "analytics":
		r := runner.New(source, sink, selector, logger, nil)
		report, err := r.RunAnalytics(ctx, runner.AnalyticsOptions{DAO: f.dao, Proposals: f.proposals, Strict: f.strict})
		if err != nil {
			return err
		}
		logger.Info().
			Int("merged_rows", report.Merge.Rows).
			Int("dao_stats", report.DAOStats).
			Int("dao_percentiles", report.DAOPercentiles).
			Int("proposal_stats", report.ProposalStats).
			Int("skipped_proposals", report.SkippedAlready).
			Msg("analytics complete")
		return nil

	case "cluster":
		opts, err := f.spec.Options(cfg.FeatureOptions())
		if err != nil {
			return err
		}
		r := runner.New(source, sink, selector, logger, nil)
		report, err := r.RunCluster(ctx, opts)
		if err != nil {
			return err
		}
		event := logger.Info().
			Str("dao", report.DAOID).
			Int("voters", report.Voters).
			Int("proposals", report.Proposals).
			Str("optimal", report.Parameters.OptimalClusters).
			Float64("score", report.Parameters.Score).
			Int("clusters", report.Clusters).
			Int("noise", report.Noise).
			Float64("vbe", report.Parameters.VBE).
			Bool("saved", report.Saved)
		if report.Parameters.StabilityARI != nil {
			event = event.Float64("stability_ari", *report.Parameters.StabilityARI).Float64("stability_vi", *report.Parameters.StabilityVI)
		}
		event.Msg("clustering complete")
		if !report.Saved {
			logger.Warn().Msg("existing cluster data kept; rerun with -overwrite to replace it")
		}
		return nil

	case "schema":
		return schema(ctx, store, f.export, logger)

	case "serve":
		return serve(ctx, cfg, f, store, source, sink, selector, logger)

	default:
		return fmt.Errorf("unknown -mode %q", f.mode)
	}
}

func schema(ctx context.Context, store *db.PostgresStore, table string, logger *zerolog.Logger) error {
	if table != "" {
		w := csv.NewWriter(os.Stdout)
		n, err := store.ExportTable(ctx, table, w)
		if err != nil {
			return err
		}
		logger.Info().Str("table", table).Int("rows", n).Msg("table exported")
		return nil
	}

	columns, err := store.DescribeSchema(ctx)
	if err != nil {
		return err
	}
	current := ""
	for _, c := range columns {
		if c.Table != current {
			current = c.Table
			fmt.Printf("\n%s\n", c.Table)
		}
		fmt.Printf("  %-28s %-20s %s\n", c.Column, c.DataType, c.ConstraintType)
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, f flags, store *db.PostgresStore, source runner.Source, sink runner.Sink, selector *clustering.Selector, logger *zerolog.Logger) error {
	if !cfg.IsLocal() {
		gin.SetMode(gin.ReleaseMode)
	}

	hub := api.NewHub(cfg.AllowedOrigins, logger)
	go hub.Run()

	jobs := runner.New(source, sink, selector, logger, hub.PublishRunEvent)

	router := api.SetupRouter(ctx, api.Deps{
		Store:          store,
		Jobs:           jobs,
		Hub:            hub,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		AuthToken:      cfg.APIAuthToken,
		Release:        !cfg.IsLocal(),
		RateLimitRPM:   cfg.RateLimitRPM,
		RateLimitBurst: cfg.RateLimitBurst,
		Features:       cfg.FeatureOptions(),
		Strict:         f.strict,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("load_from", f.loadFrom).Str("save_to", f.saveTo).Msg("engine listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
