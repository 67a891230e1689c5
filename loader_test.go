package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestLoadEnrollmentNestedBatches(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.Paths.EnrollmentRoot, "2025", "march", "part_a.csv"),
		"state,district,age_0_5\nTamil Nadu,Chennai,60\n")
	writeFile(t, filepath.Join(cfg.Paths.EnrollmentRoot, "part_b.csv"),
		"state,district,age_0_5\ntamil nadu,Chennai,41\nKerala,Kochi,7\n")
	writeFile(t, filepath.Join(cfg.Paths.EnrollmentRoot, "notes.txt"), "not a batch")

	ds, err := testLoader(cfg).LoadEnrollment(t.Context())
	require.NoError(t, err)

	assert.Equal(t, DatasetLoaded, ds.Status)
	assert.Equal(t, SourceBatches, ds.Source)
	assert.Equal(t, 2, ds.Files)
	assert.Equal(t, []EnrollmentAggregate{
		{RegionKey: RegionKey{State: "Kerala", District: "Kochi"}, NewBirths: 7},
		{RegionKey: RegionKey{State: "Tamil Nadu", District: "Chennai"}, NewBirths: 101},
	}, ds.Rows)
}

func TestLoadMissingRootIsUnavailable(t *testing.T) {
	cfg := testConfig(t)

	enrollment, err := testLoader(cfg).LoadEnrollment(t.Context())
	require.NoError(t, err)
	assert.Equal(t, DatasetUnavailable, enrollment.Status)
	assert.Equal(t, SourceNone, enrollment.Source)
	assert.Empty(t, enrollment.Rows)
	assert.Contains(t, enrollment.Reason, "no batch files")

	demographic, err := testLoader(cfg).LoadDemographicSeries(t.Context())
	require.NoError(t, err)
	assert.True(t, demographic.Empty())
}

func TestLoadCorruptCacheFallsBackToBatches(t *testing.T) {
	cfg := fixtureConfig(t)
	writeFile(t, cfg.Paths.EnrollmentCache, "this is not parquet")

	ds, err := testLoader(cfg).LoadEnrollment(t.Context())
	require.NoError(t, err)

	assert.Equal(t, DatasetLoaded, ds.Status)
	assert.Equal(t, SourceBatches, ds.Source)
	assert.Len(t, ds.Rows, 3)
	require.Len(t, ds.Warnings, 1)
	assert.Contains(t, ds.Warnings[0], "fell back to raw batches")
}

func TestLoadCacheMissingColumnFallsBackToBatches(t *testing.T) {
	cfg := fixtureConfig(t)
	_, err := writeParquetCache(cfg.Paths.EnrollmentCache, []frame{{
		Headers: []string{"state", "district"},
		Rows:    [][]string{{"Goa", "North Goa"}},
	}}, "", cfg.Batches.DateLayouts)
	require.NoError(t, err)

	ds, err := testLoader(cfg).LoadEnrollment(t.Context())
	require.NoError(t, err)

	assert.Equal(t, DatasetLoaded, ds.Status)
	assert.Equal(t, SourceBatches, ds.Source)
	assert.Len(t, ds.Rows, 3)
	require.Len(t, ds.Warnings, 1)
	assert.Contains(t, ds.Warnings[0], "missing birth_proxy column")
}

func TestLoadDemographicCacheWithoutChildColumn(t *testing.T) {
	cfg := fixtureConfig(t)
	_, err := writeParquetCache(cfg.Paths.DemographicCache, []frame{{
		Headers: []string{"date", "state", "district", "demo_age_17_"},
		Rows:    [][]string{{"2025-01-15", "Goa", "North Goa", "5"}},
	}}, "date", cfg.Batches.DateLayouts)
	require.NoError(t, err)

	ds, err := testLoader(cfg).LoadDemographicSeries(t.Context())
	require.NoError(t, err)

	assert.Equal(t, DatasetUnavailable, ds.Status)
	assert.Contains(t, ds.Reason, "child_update")
}

func TestLoadDemographicFromCache(t *testing.T) {
	cfg := testConfig(t)
	source := filepath.Join(t.TempDir(), "raw.csv")
	writeFile(t, source, "date,state,district,demo_age_5_17,demo_age_17_\n"+
		"15-01-2025,Tamil Nadu,Chennai,100,200\n"+
		"not-a-date,Tamil Nadu,Chennai,1,2\n")

	f, err := readBatch(t.Context(), source)
	require.NoError(t, err)
	rows, err := writeParquetCache(cfg.Paths.DemographicCache, []frame{f}, "date", cfg.Batches.DateLayouts)
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	ds, err := testLoader(cfg).LoadDemographicSeries(t.Context())
	require.NoError(t, err)

	assert.Equal(t, SourceCache, ds.Source)
	require.Len(t, ds.Rows, 2)
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), ds.Rows[0].Date)
	assert.Equal(t, int64(300), ds.Rows[0].MigrantInflow())
	assert.True(t, ds.Rows[1].Date.IsZero())
	assert.Equal(t, int64(3), ds.Rows[1].MigrantInflow())
}

func TestLoadDemographicAlternateChildColumn(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.Paths.DemographicRoot, "a.csv"),
		"date,state,district,demo_age,demo_age_17_\n2025-01-01,Goa,North Goa,5,6\n")
	writeFile(t, filepath.Join(cfg.Paths.DemographicRoot, "b.csv"),
		"date,state,district,demo_age_5_17,demo_age_17_\n2025-02-01,Goa,North Goa,7,8\n")

	ds, err := testLoader(cfg).LoadDemographicSeries(t.Context())
	require.NoError(t, err)

	require.Len(t, ds.Rows, 2)
	assert.Equal(t, int64(5), ds.Rows[0].ChildUpdates)
	assert.Equal(t, int64(7), ds.Rows[1].ChildUpdates)
}

func TestLoadDemographicWithoutChildColumn(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.Paths.DemographicRoot, "a.csv"),
		"date,state,district,demo_age_17_\n2025-01-01,Goa,North Goa,6\n")

	ds, err := testLoader(cfg).LoadDemographicSeries(t.Context())
	require.NoError(t, err)

	assert.Equal(t, DatasetUnavailable, ds.Status)
	assert.Contains(t, ds.Reason, "child_update")
	require.NotEmpty(t, ds.Warnings)
}

func TestLoadDemographicKeepsUnparseableDates(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.Paths.DemographicRoot, "a.csv"),
		"date,state,district,demo_age_5_17,demo_age_17_\n"+
			"sometime,Goa,North Goa,5,6\n"+
			"03-02-2025,Goa,North Goa,1,1\n")

	ds, err := testLoader(cfg).LoadDemographicSeries(t.Context())
	require.NoError(t, err)

	require.Len(t, ds.Rows, 2)
	assert.True(t, ds.Rows[0].Date.IsZero())
	assert.Equal(t, time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC), ds.Rows[1].Date)
	assert.Zero(t, ds.DroppedRows)
}

func TestLoadDropsNonNumericRows(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.Paths.DemographicRoot, "a.csv"),
		"date,state,district,demo_age_5_17,demo_age_17_\n"+
			"2025-01-01,Goa,North Goa,five,6\n"+
			"2025-01-01,Goa,North Goa,,6\n"+
			"2025-01-01,,North Goa,1,1\n")

	ds, err := testLoader(cfg).LoadDemographicSeries(t.Context())
	require.NoError(t, err)

	require.Len(t, ds.Rows, 1)
	assert.Equal(t, int64(6), ds.Rows[0].MigrantInflow())
	assert.Equal(t, 2, ds.DroppedRows)
}

func TestLoadSkipsMalformedBatch(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.Paths.EnrollmentRoot, "empty.csv"), "")
	writeFile(t, filepath.Join(cfg.Paths.EnrollmentRoot, "good.csv"), "state,district,age_0_5\nGoa,North Goa,3\n")

	ds, err := testLoader(cfg).LoadEnrollment(t.Context())
	require.NoError(t, err)

	assert.Equal(t, DatasetLoaded, ds.Status)
	assert.Len(t, ds.Rows, 1)
	require.Len(t, ds.Warnings, 1)
	assert.Contains(t, ds.Warnings[0], "malformed batch")
}

func TestLoadEnrollmentFromWorkbook(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(cfg.Paths.EnrollmentRoot, "batch.xlsx")
	writeFile(t, path, "")

	book := excelize.NewFile()
	require.NoError(t, book.SetSheetRow("Sheet1", "A1", &[]any{"State", "District", "Age_0_5"}))
	require.NoError(t, book.SetSheetRow("Sheet1", "A2", &[]any{"Bihar", "Patna", 42}))
	require.NoError(t, book.SaveAs(path))
	require.NoError(t, book.Close())

	ds, err := testLoader(cfg).LoadEnrollment(t.Context())
	require.NoError(t, err)

	require.Len(t, ds.Rows, 1)
	assert.Equal(t, "Patna", ds.Rows[0].District)
	assert.Equal(t, int64(42), ds.Rows[0].NewBirths)
}

func TestParseCount(t *testing.T) {
	cases := []struct {
		value string
		want  int64
		ok    bool
	}{
		{"12", 12, true},
		{" 7 ", 7, true},
		{"", 0, true},
		{"1e+06", 1000000, true},
		{"12.0", 12, true},
		{"twelve", 0, false},
		{"NaN", 0, false},
	}
	for _, tc := range cases {
		got, err := parseCount(tc.value)
		if !tc.ok {
			assert.Error(t, err, tc.value)
			continue
		}
		require.NoError(t, err, tc.value)
		assert.Equal(t, tc.want, got, tc.value)
	}
}
