package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBuildCacheWritesBothCaches(t *testing.T) {
	cfg := fixtureConfig(t)

	var out bytes.Buffer
	require.NoError(t, runBuildCache(t.Context(), &out, cfg, zerolog.Nop()))
	assert.Contains(t, out.String(), "enrollment cache saved to")
	assert.Contains(t, out.String(), "demographic cache saved to")
	assert.True(t, cacheExists(cfg.Paths.EnrollmentCache))
	assert.True(t, cacheExists(cfg.Paths.DemographicCache))

	f, err := readParquetFrame(t.Context(), cfg.Paths.DemographicCache)
	require.NoError(t, err)
	assert.Equal(t, []string{"date", "state", "district", "demo_age_5_17", "demo_age_17_"}, f.Headers)
	assert.Equal(t, "2025-01-15", f.Rows[0][0])
	assert.Len(t, f.Rows, 5)
}

func TestRunBuildCacheSkipsMissingRoot(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.Paths.EnrollmentRoot, "a.csv"), enrollmentCSV)

	var out bytes.Buffer
	require.NoError(t, runBuildCache(t.Context(), &out, cfg, zerolog.Nop()))
	assert.True(t, cacheExists(cfg.Paths.EnrollmentCache))
	assert.False(t, cacheExists(cfg.Paths.DemographicCache))
}

func TestRunReportStoresRun(t *testing.T) {
	cfg := fixtureConfig(t)
	cfg.Store.Driver = "sqlite3"
	cfg.Store.URL = filepath.Join(t.TempDir(), "runs.db")
	dir := t.TempDir()

	var out bytes.Buffer
	err := runReport(t.Context(), &out, cfg, reportFlags{
		state:    "Tamil Nadu",
		district: AllDistricts,
		forecast: true,
		jsonOut:  filepath.Join(dir, "report.json"),
		alerts:   filepath.Join(dir, "alerts.csv"),
		minTier:  "CRITICAL",
		db:       true,
		initDB:   true,
	})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "State Report: Tamil Nadu has recorded 1,300 total updates.")
	assert.Contains(t, text, "JSON report saved to")
	assert.Contains(t, text, "Seeded database with initial run")
	assert.Contains(t, text, "Skipped duplicate insert")

	_, err = os.Stat(filepath.Join(dir, "alerts.csv"))
	assert.NoError(t, err)
}

func TestRunReportMissingData(t *testing.T) {
	err := runReport(t.Context(), &bytes.Buffer{}, testConfig(t), reportFlags{minTier: "WARNING"})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	assert.True(t, names["report"])
	assert.True(t, names["serve"])
	assert.True(t, names["build-cache"])

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, "index:\n  warning: 5\n  critical: 1\n")
	root.SetArgs([]string{"build-cache", "--config", configPath})
	root.SetOut(&bytes.Buffer{})
	assert.ErrorContains(t, root.Execute(), "index.warning must not exceed index.critical")
}
