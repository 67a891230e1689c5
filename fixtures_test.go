package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	enrollmentCSV = "state,district,age_0_5\n" +
		"Tamil Nadu,Chennai,101\n" +
		"Tamil Nadu,Madurai,400\n" +
		"Kerala,Kochi,50\n"

	// Chennai: 600 inflow over two months. Madurai: 700 in one month.
	// Kochi stays under the inflow floor. Mysuru has no enrollment row.
	demographicCSV = "date,state,district,demo_age_5_17,demo_age_17_\n" +
		"2025-01-15,Tamil Nadu,Chennai,100,200\n" +
		"2025-02-15,Tamil Nadu,Chennai,100,200\n" +
		"2025-01-15,Tamil Nadu,Madurai,300,400\n" +
		"2025-01-20,Kerala,Kochi,10,20\n" +
		"2025-01-20,Karnataka,Mysuru,1000,1000\n"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// testConfig returns the default config with every path under a temp dir.
// Nothing is written.
func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Paths = PathsConfig{
		EnrollmentRoot:   filepath.Join(dir, "enrolment"),
		DemographicRoot:  filepath.Join(dir, "demographic"),
		EnrollmentCache:  filepath.Join(dir, "enrolment_data.parquet"),
		DemographicCache: filepath.Join(dir, "demographic_data.parquet"),
	}
	return &cfg
}

// fixtureConfig writes the standard enrollment and demographic batches.
func fixtureConfig(t *testing.T) *Config {
	t.Helper()
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.Paths.EnrollmentRoot, "batch_01.csv"), enrollmentCSV)
	writeFile(t, filepath.Join(cfg.Paths.DemographicRoot, "batch_01.csv"), demographicCSV)
	return cfg
}

func testLoader(cfg *Config) *Loader {
	return NewLoader(cfg, zerolog.Nop(), nil)
}

func loadSnapshot(t *testing.T, cfg *Config) *Snapshot {
	t.Helper()
	cache := NewSnapshotCache(testLoader(cfg), NewIndexEngine(cfg.Index))
	snap, err := cache.Get(t.Context())
	require.NoError(t, err)
	return snap
}

func findRow(rows []MLIRow, state, district string) (MLIRow, bool) {
	for _, row := range rows {
		if row.State == state && row.District == district {
			return row, true
		}
	}
	return MLIRow{}, false
}
