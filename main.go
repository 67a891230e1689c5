package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type reportFlags struct {
	state    string
	district string
	forecast bool
	jsonOut  string
	alerts   string
	minTier  string
	db       bool
	dbDriver string
	dbSchema string
	dbTag    string
	initDB   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitWithError(err)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "migration-pulse",
		Short:         "District migration load index over Aadhaar enrollment and demographic batches",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Optional YAML config file")

	loadConfig := func() (*Config, error) {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return &cfg, nil
	}

	root.AddCommand(newReportCmd(loadConfig), newServeCmd(loadConfig), newBuildCacheCmd(loadConfig))
	return root
}

func newReportCmd(loadConfig func() (*Config, error)) *cobra.Command {
	var flags reportFlags

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the migration load report for a state or district",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db-driver") {
				cfg.Store.Driver = flags.dbDriver
			}
			if cmd.Flags().Changed("db-schema") {
				cfg.Store.Schema = flags.dbSchema
			}
			if cmd.Flags().Changed("db-tag") {
				cfg.Store.Tag = flags.dbTag
			}
			return runReport(cmd.Context(), cmd.OutOrStdout(), cfg, flags)
		},
	}

	cmd.Flags().StringVar(&flags.state, "state", "", "State to report on (default: first state alphabetically)")
	cmd.Flags().StringVar(&flags.district, "district", AllDistricts, "District within the state")
	cmd.Flags().BoolVar(&flags.forecast, "forecast", false, "Include the 3-month inflow forecast and action plan")
	cmd.Flags().StringVar(&flags.jsonOut, "json", "", "Optional JSON output path")
	cmd.Flags().StringVar(&flags.alerts, "alerts", "", "Optional CSV output for pressure alerts")
	cmd.Flags().StringVar(&flags.minTier, "min-tier", string(StatusWarning), "Minimum tier for alerts (STABLE, WARNING, CRITICAL)")
	cmd.Flags().BoolVar(&flags.db, "db", false, "Store the run in the database (requires MIGRATION_PULSE_DB_URL or DATABASE_URL)")
	cmd.Flags().StringVar(&flags.dbDriver, "db-driver", "pgx", "Database driver (pgx, sqlite3)")
	cmd.Flags().StringVar(&flags.dbSchema, "db-schema", "migration_pulse", "Postgres schema for run tables")
	cmd.Flags().StringVar(&flags.dbTag, "db-tag", "", "Optional label for this run")
	cmd.Flags().BoolVar(&flags.initDB, "init-db", false, "Initialize database schema and seed data if empty")
	return cmd
}

func runReport(ctx context.Context, out io.Writer, cfg *Config, flags reportFlags) error {
	log := newLogger("report")
	metrics := NewMetrics()
	analyzer := NewAnalyzer(cfg, metrics)
	snapshots := NewSnapshotCache(NewLoader(cfg, log, metrics), analyzer.Index)

	snap, err := snapshots.Get(ctx)
	if err != nil {
		return err
	}
	if !snap.Ready() {
		for _, warning := range snap.Warnings() {
			log.Warn().Msg(warning)
		}
		return fmt.Errorf("%w (enrollment: %s, demographic: %s)", ErrNoData,
			datasetReason(snap.Enrollment.Reason, len(snap.Enrollment.Rows)),
			datasetReason(snap.Demographic.Reason, len(snap.Demographic.Rows)))
	}

	report, err := analyzer.buildReport(snap, reportOptions{
		State:    flags.state,
		District: flags.district,
		Forecast: flags.forecast,
	}, time.Now())
	if err != nil {
		return err
	}

	printReport(out, report)

	if flags.jsonOut != "" {
		if err := writeJSON(report, flags.jsonOut); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nJSON report saved to %s\n", flags.jsonOut)
	}

	if flags.alerts != "" {
		if err := writeAlertsCSV(snap.MLI, analyzer.Index, flags.alerts, flags.minTier); err != nil {
			return err
		}
		fmt.Fprintf(out, "Alert CSV saved to %s\n", flags.alerts)
	}

	if !flags.db && !flags.initDB {
		return nil
	}

	storeCfg := cfg.Store
	if storeCfg.URL == "" {
		storeCfg.URL = dbURLFromEnv()
	}
	store, err := OpenRunStore(ctx, storeCfg, analyzer.Index)
	if err != nil {
		return err
	}
	defer store.Close()

	run := AnalysisRun{
		Mode:              report.Mode,
		EnrollmentSource:  snap.Enrollment.Source,
		DemographicSource: snap.Demographic.Source,
		State:             report.View.State,
		District:          report.View.District,
		PredictedVolume:   report.PredictedVolume,
		Rows:              snap.MLI,
		Forecast:          report.Forecast,
	}

	seeded := false
	if flags.initDB {
		runID, err := store.SeedIfEmpty(ctx, run, storeCfg.Tag)
		if err != nil {
			return err
		}
		if runID != "" {
			seeded = true
			fmt.Fprintf(out, "\nSeeded database with initial run (run_id=%s)\n", runID)
		}
	}
	if flags.db {
		if seeded {
			fmt.Fprintln(out, "Skipped duplicate insert; current report already used for seed.")
			return nil
		}
		runID, err := store.SaveRun(ctx, run, storeCfg.Tag)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nStored run in database (run_id=%s)\n", runID)
	}
	return nil
}

func datasetReason(reason string, rows int) string {
	if reason != "" {
		return reason
	}
	return fmt.Sprintf("%d rows", rows)
}

func newServeCmd(loadConfig func() (*Config, error)) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")
	return cmd
}

func runServe(ctx context.Context, cfg *Config) error {
	log := newLogger("server")
	metrics := NewMetrics()
	analyzer := NewAnalyzer(cfg, metrics)
	snapshots := NewSnapshotCache(NewLoader(cfg, log, metrics), analyzer.Index)

	// Load once up front so the first request does not pay for it.
	snap, err := snapshots.Get(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	if !snap.Ready() {
		log.Warn().Strs("warnings", snap.Warnings()).Msg("Data missing. Analytics endpoints will return 503")
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      NewRouter(NewHandler(snapshots, analyzer, cfg, log), metrics),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("mode", string(snap.Mode)).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-sigCtx.Done():
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}

func newBuildCacheCmd(loadConfig func() (*Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "build-cache",
		Short: "Convert raw batches into the Parquet caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runBuildCache(cmd.Context(), cmd.OutOrStdout(), cfg, newLogger("build-cache"))
		},
	}
}

// runBuildCache writes one cache per dataset. A dataset with no batches is
// skipped, not an error, so either cache can be rebuilt on its own.
func runBuildCache(ctx context.Context, out io.Writer, cfg *Config, log zerolog.Logger) error {
	targets := []struct {
		name        string
		root        string
		cache       string
		dateColumns []string
	}{
		{name: "enrollment", root: cfg.Paths.EnrollmentRoot, cache: cfg.Paths.EnrollmentCache},
		{name: "demographic", root: cfg.Paths.DemographicRoot, cache: cfg.Paths.DemographicCache, dateColumns: cfg.Columns.Date},
	}

	for _, target := range targets {
		if strings.TrimSpace(target.cache) == "" {
			return fmt.Errorf("%s cache path is not configured", target.name)
		}
		files, err := discoverBatches(target.root, cfg.Batches.Extensions)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			log.Warn().Str("dataset", target.name).Str("root", target.root).Msg("No batch files found, cache not written")
			continue
		}

		var frames []frame
		for _, path := range files {
			f, err := readBatch(ctx, path)
			if err != nil {
				if errors.Is(err, errMalformedBatch) {
					log.Warn().Err(err).Str("dataset", target.name).Msg("Skipping malformed batch")
					continue
				}
				return err
			}
			frames = append(frames, f)
		}
		if len(frames) == 0 {
			log.Warn().Str("dataset", target.name).Msg("No readable batches, cache not written")
			continue
		}

		dateColumn := ""
		if len(target.dateColumns) > 0 {
			headers, _ := unionFrames(frames)
			matches, _ := resolveColumns(headers, columnResolver{Field: "date", Candidates: target.dateColumns})
			if matches[0].Found() {
				dateColumn = headers[matches[0].Index]
			}
		}

		rows, err := writeParquetCache(target.cache, frames, dateColumn, cfg.Batches.DateLayouts)
		if err != nil {
			return fmt.Errorf("build %s cache: %w", target.name, err)
		}
		log.Info().
			Str("dataset", target.name).
			Str("cache", target.cache).
			Int("files", len(frames)).
			Int("rows", rows).
			Msg("Cache written")
		fmt.Fprintf(out, "%s cache saved to %s (%d rows from %d files)\n", target.name, target.cache, rows, len(frames))
	}
	return nil
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
