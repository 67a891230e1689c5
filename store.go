package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// AnalysisRun is one persisted pipeline result.
type AnalysisRun struct {
	Mode              LoadMode
	EnrollmentSource  DatasetSource
	DemographicSource DatasetSource
	State             string
	District          string
	PredictedVolume   int64
	Rows              []MLIRow
	Forecast          []ForecastPoint
}

// RunStore persists analysis runs to Postgres (driver "pgx") or SQLite
// (driver "sqlite3"). SQLite has no schemas, so the schema is ignored there.
type RunStore struct {
	db     *sql.DB
	driver string
	schema string
	engine IndexEngine
}

var schemaPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func sanitizeSchema(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("db schema is required")
	}
	if !schemaPattern.MatchString(value) {
		return "", fmt.Errorf("invalid schema name: %s", value)
	}
	return value, nil
}

func OpenRunStore(ctx context.Context, cfg StoreConfig, engine IndexEngine) (*RunStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "pgx"
	}
	if driver != "pgx" && driver != "sqlite3" {
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("database URL missing; set MIGRATION_PULSE_DB_URL or DATABASE_URL")
	}

	schema := ""
	if driver == "pgx" {
		var err error
		if schema, err = sanitizeSchema(cfg.Schema); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(driver, cfg.URL)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite3" {
		// Each connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 12*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	store := &RunStore{db: db, driver: driver, schema: schema, engine: engine}
	if err := store.ensureSchema(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *RunStore) Close() error {
	return s.db.Close()
}

func (s *RunStore) table(name string) string {
	if s.schema == "" {
		return name
	}
	return s.schema + "." + name
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *RunStore) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *RunStore) ensureSchema(ctx context.Context) error {
	idType, dateType, realType, tsType, nowDefault := "uuid", "date", "double precision", "timestamptz", "now()"
	if s.driver == "sqlite3" {
		idType, dateType, realType, tsType, nowDefault = "text", "text", "real", "text", "CURRENT_TIMESTAMP"
	}

	var statements []string
	if s.schema != "" {
		statements = append(statements, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s.schema))
	}
	statements = append(statements,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id %s PRIMARY KEY,
			mode text NOT NULL,
			enrollment_source text NOT NULL,
			demographic_source text NOT NULL,
			region_count integer NOT NULL,
			critical_count integer NOT NULL,
			avg_mli %s NOT NULL,
			selected_state text,
			selected_district text,
			predicted_volume bigint NOT NULL,
			run_tag text,
			created_at %s NOT NULL DEFAULT %s
		)`, s.table("mli_runs"), idType, realType, tsType, nowDefault),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id %s PRIMARY KEY,
			run_id %s NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			state text NOT NULL,
			district text NOT NULL,
			new_births bigint NOT NULL,
			migrant_inflow bigint NOT NULL,
			child_updates bigint NOT NULL,
			adult_updates bigint NOT NULL,
			mli %s NOT NULL,
			status text NOT NULL
		)`, s.table("mli_region_rows"), idType, idType, s.table("mli_runs"), realType),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id %s PRIMARY KEY,
			run_id %s NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			month %s NOT NULL,
			migrant_inflow bigint NOT NULL,
			kind text NOT NULL
		)`, s.table("mli_forecast_points"), idType, idType, s.table("mli_runs"), dateType),
	)

	indexPrefix := "migration_pulse"
	if s.schema != "" {
		indexPrefix = s.schema
	}
	statements = append(statements,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_mli_region_rows_run_idx ON %s (run_id)`, indexPrefix, s.table("mli_region_rows")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_mli_region_rows_status_idx ON %s (status)`, indexPrefix, s.table("mli_region_rows")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_mli_forecast_points_run_idx ON %s (run_id)`, indexPrefix, s.table("mli_forecast_points")),
	)

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SeedIfEmpty stores run only when no run exists yet. It returns an empty id
// when it skipped.
func (s *RunStore) SeedIfEmpty(ctx context.Context, run AnalysisRun, tag string) (string, error) {
	count, err := s.CountRuns(ctx)
	if err != nil {
		return "", err
	}
	if count > 0 {
		return "", nil
	}
	return s.SaveRun(ctx, run, tag)
}

func (s *RunStore) CountRuns(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table("mli_runs"))).Scan(&count)
	return count, err
}

func (s *RunStore) SaveRun(ctx context.Context, run AnalysisRun, tag string) (string, error) {
	runID := uuid.New()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, s.rebind(fmt.Sprintf(`
		INSERT INTO %s (
			id, mode, enrollment_source, demographic_source, region_count,
			critical_count, avg_mli, selected_state, selected_district,
			predicted_volume, run_tag
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)`, s.table("mli_runs"))),
		runID.String(),
		string(run.Mode),
		string(run.EnrollmentSource),
		string(run.DemographicSource),
		len(run.Rows),
		s.engine.criticalCount(run.Rows),
		averageMLI(run.Rows),
		nullString(run.State),
		nullString(run.District),
		run.PredictedVolume,
		nullString(tag),
	)
	if err != nil {
		return "", err
	}

	insertRow := s.rebind(fmt.Sprintf(`
		INSERT INTO %s (
			id, run_id, state, district, new_births, migrant_inflow,
			child_updates, adult_updates, mli, status
		) VALUES (?,?,?,?,?,?,?,?,?,?)`, s.table("mli_region_rows")))
	for _, row := range run.Rows {
		_, err = tx.ExecContext(ctx, insertRow,
			uuid.New().String(),
			runID.String(),
			row.State,
			row.District,
			row.NewBirths,
			row.MigrantInflow,
			row.ChildUpdates,
			row.AdultUpdates,
			row.MLI,
			string(s.engine.ClassifyPressure(row.MLI)),
		)
		if err != nil {
			return "", err
		}
	}

	insertPoint := s.rebind(fmt.Sprintf(`
		INSERT INTO %s (id, run_id, month, migrant_inflow, kind)
		VALUES (?,?,?,?,?)`, s.table("mli_forecast_points")))
	for _, point := range run.Forecast {
		_, err = tx.ExecContext(ctx, insertPoint,
			uuid.New().String(),
			runID.String(),
			s.dateValue(point.Month),
			point.MigrantInflow,
			string(point.Kind),
		)
		if err != nil {
			return "", err
		}
	}

	if err = tx.Commit(); err != nil {
		return "", err
	}
	return runID.String(), nil
}

func (s *RunStore) dateValue(value time.Time) any {
	if s.driver == "sqlite3" {
		return formatDate(value)
	}
	return dateOnly(value)
}

func nullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
