package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var reportTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestBuildReportDefaultsToFirstState(t *testing.T) {
	cfg := fixtureConfig(t)
	analyzer := NewAnalyzer(cfg, nil)

	report, err := analyzer.buildReport(loadSnapshot(t, cfg), reportOptions{}, reportTime)
	require.NoError(t, err)

	assert.Equal(t, "Kerala", report.View.Label)
	assert.Equal(t, "2025-06-01T12:00:00Z", report.GeneratedAt)
	assert.Equal(t, ModeFallback, report.Mode)
	require.Len(t, report.States, 2)
	assert.Equal(t, "Tamil Nadu", report.States[0].State, "states with critical districts sort first")
	assert.Nil(t, report.Forecast)
}

func TestBuildReportWithForecast(t *testing.T) {
	cfg := fixtureConfig(t)
	analyzer := NewAnalyzer(cfg, nil)

	report, err := analyzer.buildReport(loadSnapshot(t, cfg), reportOptions{
		State:    "Tamil Nadu",
		District: AllDistricts,
		Forecast: true,
	}, reportTime)
	require.NoError(t, err)

	assert.False(t, report.View.IsDistrict)
	assert.Len(t, report.Forecast, 5)
	assert.Equal(t, PredictedVolume(report.Forecast), report.PredictedVolume)
	assert.Contains(t, report.Advice, "Increase Ration allocations for the 1 critical districts")
}

func TestBuildReportErrors(t *testing.T) {
	cfg := fixtureConfig(t)
	analyzer := NewAnalyzer(cfg, nil)

	_, err := analyzer.buildReport(loadSnapshot(t, cfg), reportOptions{State: "Punjab"}, reportTime)
	assert.ErrorContains(t, err, "no MLI rows")

	_, err = analyzer.buildReport(loadSnapshot(t, testConfig(t)), reportOptions{}, reportTime)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestPrintReport(t *testing.T) {
	color.NoColor = true
	cfg := fixtureConfig(t)
	analyzer := NewAnalyzer(cfg, nil)
	report, err := analyzer.buildReport(loadSnapshot(t, cfg), reportOptions{
		State:    "Tamil Nadu",
		District: "Chennai",
		Forecast: true,
	}, reportTime)
	require.NoError(t, err)

	var buf bytes.Buffer
	printReport(&buf, report)
	out := buf.String()

	assert.Contains(t, out, "System: Fallback mode (raw batch scan)")
	assert.Contains(t, out, "Descriptive Analytics (Chennai)")
	assert.Contains(t, out, "Risk status: CRITICAL")
	assert.Contains(t, out, "Prescriptive Analytics (Chennai)")
	assert.Contains(t, out, "2025-03-03")
}

func TestWriteAlertsCSV(t *testing.T) {
	cfg := fixtureConfig(t)
	snap := loadSnapshot(t, cfg)
	path := filepath.Join(t.TempDir(), "alerts.csv")

	require.NoError(t, writeAlertsCSV(snap.MLI, NewIndexEngine(cfg.Index), path, "warning"))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, "state", records[0][0])
	assert.Equal(t, []string{"Chennai", "CRITICAL"}, []string{records[1][1], records[1][3]})
	assert.Equal(t, []string{"Madurai", "WARNING"}, []string{records[2][1], records[2][3]})

	err = writeAlertsCSV(snap.MLI, NewIndexEngine(cfg.Index), path, "severe")
	assert.ErrorContains(t, err, "invalid --min-tier value")
}

func TestWriteJSON(t *testing.T) {
	cfg := fixtureConfig(t)
	report, err := NewAnalyzer(cfg, nil).buildReport(loadSnapshot(t, cfg), reportOptions{State: "Tamil Nadu"}, reportTime)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, writeJSON(report, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "fallback", decoded["mode"])
	assert.Equal(t, report.Summary, decoded["summary"])
	assert.NotContains(t, decoded, "forecast")
}

func TestTierRank(t *testing.T) {
	rank, ok := tierRank(" critical ")
	assert.True(t, ok)
	assert.Equal(t, 2, rank)

	_, ok = tierRank("overdue")
	assert.False(t, ok)
}
