package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

type DatasetSummary struct {
	Status      DatasetStatus `json:"status"`
	Source      DatasetSource `json:"source"`
	Rows        int           `json:"rows"`
	Files       int           `json:"files"`
	DroppedRows int           `json:"dropped_rows"`
	Reason      string        `json:"reason,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
}

func summarizeDataset[T any](ds Dataset[T]) DatasetSummary {
	return DatasetSummary{
		Status:      ds.Status,
		Source:      ds.Source,
		Rows:        len(ds.Rows),
		Files:       ds.Files,
		DroppedRows: ds.DroppedRows,
		Reason:      ds.Reason,
		Warnings:    ds.Warnings,
	}
}

type StateSummary struct {
	State         string  `json:"state"`
	Districts     int     `json:"districts"`
	TotalInflow   int64   `json:"total_inflow"`
	NaturalGrowth int64   `json:"natural_growth"`
	AvgMLI        float64 `json:"avg_mli"`
	CriticalCount int     `json:"critical_count"`
}

type Report struct {
	GeneratedAt     string          `json:"generated_at"`
	Mode            LoadMode        `json:"mode"`
	Enrollment      DatasetSummary  `json:"enrollment"`
	Demographic     DatasetSummary  `json:"demographic"`
	States          []StateSummary  `json:"states"`
	View            RegionView      `json:"view"`
	Summary         string          `json:"summary"`
	Forecast        []ForecastPoint `json:"forecast,omitempty"`
	PredictedVolume int64           `json:"predicted_volume,omitempty"`
	Advice          string          `json:"advice,omitempty"`
}

type reportOptions struct {
	State    string
	District string
	Forecast bool
}

// Analyzer bundles the engines and presentation settings used by both the
// terminal report and the HTTP API.
type Analyzer struct {
	Index    IndexEngine
	Forecast ForecastEngine
	Report   ReportConfig
	Metrics  *Metrics
}

func NewAnalyzer(cfg *Config, metrics *Metrics) Analyzer {
	return Analyzer{
		Index:    NewIndexEngine(cfg.Index),
		Forecast: NewForecastEngine(cfg.Forecast),
		Report:   cfg.Report,
		Metrics:  metrics,
	}
}

// forecastFor runs the forecast for a selection and records the outcome.
func (a Analyzer) forecastFor(snap *Snapshot, state, district string) []ForecastPoint {
	points := a.Forecast.Generate(snap.Demographic.Rows, state, district)
	a.Metrics.ForecastGenerated(points)
	return points
}

// buildReport assembles a report for one selection. An empty state selects
// the first state alphabetically, as the dashboard does.
func (a Analyzer) buildReport(snap *Snapshot, opts reportOptions, now time.Time) (Report, error) {
	if !snap.Ready() {
		return Report{}, ErrNoData
	}

	state := opts.State
	if strings.TrimSpace(state) == "" {
		names := StateNames(snap.MLI)
		if len(names) == 0 {
			return Report{}, ErrNoData
		}
		state = names[0]
	}

	view, ok := a.Index.BuildView(snap.MLI, state, opts.District, a.Report)
	if !ok {
		return Report{}, fmt.Errorf("no MLI rows for state %q district %q", state, opts.District)
	}

	report := Report{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Mode:        snap.Mode,
		Enrollment:  summarizeDataset(snap.Enrollment),
		Demographic: summarizeDataset(snap.Demographic),
		States:      a.stateSummaries(snap.MLI),
		View:        view,
		Summary:     a.Index.DescriptiveSummary(view.Rows, view.Label, view.IsDistrict),
	}

	if opts.Forecast {
		district := AllDistricts
		if view.IsDistrict {
			district = view.District
		}
		report.Forecast = a.forecastFor(snap, view.State, district)
		if len(report.Forecast) > 0 {
			report.PredictedVolume = PredictedVolume(report.Forecast)
			report.Advice = a.Index.PrescriptiveAdvice(view.Rows, view.Label, report.PredictedVolume, view.IsDistrict)
		}
	}
	return report, nil
}

func (a Analyzer) stateSummaries(rows []MLIRow) []StateSummary {
	var out []StateSummary
	for _, state := range StateNames(rows) {
		stateRows := FilterRows(rows, state, "")
		out = append(out, StateSummary{
			State:         state,
			Districts:     len(stateRows),
			TotalInflow:   totalInflow(stateRows),
			NaturalGrowth: totalBirths(stateRows),
			AvgMLI:        averageMLI(stateRows),
			CriticalCount: a.Index.criticalCount(stateRows),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CriticalCount > out[j].CriticalCount
	})
	return out
}

func printReport(w io.Writer, report Report) {
	fmt.Fprintln(w, "Migration Pulse: District Migration Load Report")
	fmt.Fprintln(w, strings.Repeat("=", 48))
	if report.Mode == ModeHighPerformance {
		fmt.Fprintln(w, color.GreenString("System: High-Performance (Parquet cache)"))
	} else {
		fmt.Fprintln(w, color.YellowString("System: Fallback mode (raw batch scan)"))
	}
	fmt.Fprintf(w, "Enrollment: %d regions from %s (%d files, %d rows dropped)\n",
		report.Enrollment.Rows, report.Enrollment.Source, report.Enrollment.Files, report.Enrollment.DroppedRows)
	fmt.Fprintf(w, "Demographic: %d records from %s (%d files, %d rows dropped)\n",
		report.Demographic.Rows, report.Demographic.Source, report.Demographic.Files, report.Demographic.DroppedRows)
	for _, warning := range append(append([]string{}, report.Enrollment.Warnings...), report.Demographic.Warnings...) {
		fmt.Fprintln(w, color.YellowString("Warning: %s", warning))
	}

	fmt.Fprintln(w, "\nState overview")
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"State", "Districts", "Total Inflow", "Natural Growth", "Avg MLI", "Critical"})
	for _, entry := range report.States {
		table.Append([]string{
			entry.State,
			strconv.Itoa(entry.Districts),
			formatThousands(entry.TotalInflow),
			formatThousands(entry.NaturalGrowth),
			fmt.Sprintf("%.2f", entry.AvgMLI),
			strconv.Itoa(entry.CriticalCount),
		})
	}
	table.Render()

	view := report.View
	fmt.Fprintf(w, "\nDescriptive Analytics (%s)\n", view.Label)
	fmt.Fprintln(w, strings.Repeat("-", 48))
	fmt.Fprintln(w, report.Summary)
	comparison := "N/A"
	if view.Multiplier != nil {
		comparison = fmt.Sprintf("%.1fx vs State Avg", *view.Multiplier)
	}
	fmt.Fprintf(w, "Total inflow: %s | Natural growth: %s | Avg MLI: %.2f (%s)\n",
		formatThousands(view.TotalInflow), formatThousands(view.NaturalGrowth), view.AvgMLI, comparison)
	if view.IsDistrict {
		fmt.Fprintf(w, "Risk status: %s | Children (5-17): %s | Adults (18+): %s\n",
			statusColor(view.Status), formatThousands(view.Rows[0].ChildUpdates), formatThousands(view.Rows[0].AdultUpdates))
	} else {
		fmt.Fprintf(w, "Critical districts: %d\n", view.CriticalCount)
		if len(view.Hotspots) > 0 {
			fmt.Fprintln(w, "\nDistrict pressure hotspots")
			hot := tablewriter.NewWriter(w)
			hot.SetHeader([]string{"District", "MLI", "Inflow", "Births", "Children", "Adults"})
			for _, row := range view.Hotspots {
				hot.Append([]string{
					row.District,
					fmt.Sprintf("%.2f", row.MLI),
					formatThousands(row.MigrantInflow),
					formatThousands(row.NewBirths),
					formatThousands(row.ChildUpdates),
					formatThousands(row.AdultUpdates),
				})
			}
			hot.Render()
		}
	}

	if report.Advice == "" && len(report.Forecast) == 0 {
		return
	}
	fmt.Fprintf(w, "\nPrescriptive Analytics (%s)\n", view.Label)
	fmt.Fprintln(w, strings.Repeat("-", 48))
	if len(report.Forecast) == 0 {
		fmt.Fprintln(w, "Insufficient historical data for prediction.")
		return
	}
	fmt.Fprintln(w, report.Advice)
	fmt.Fprintln(w, "\n3-Month Trajectory")
	traj := tablewriter.NewWriter(w)
	traj.SetHeader([]string{"Month", "Migrant Inflow", "Type"})
	for _, point := range report.Forecast {
		traj.Append([]string{formatDate(point.Month), formatThousands(point.MigrantInflow), string(point.Kind)})
	}
	traj.Render()
}

func statusColor(status PressureStatus) string {
	switch status {
	case StatusCritical:
		return color.RedString(string(status))
	case StatusWarning:
		return color.YellowString(string(status))
	default:
		return color.GreenString(string(status))
	}
}

func writeJSON(report Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func tierRank(value string) (int, bool) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(StatusStable):
		return 0, true
	case string(StatusWarning):
		return 1, true
	case string(StatusCritical):
		return 2, true
	default:
		return 0, false
	}
}

// writeAlertsCSV exports every region whose pressure status is at or above
// minTier.
func writeAlertsCSV(rows []MLIRow, engine IndexEngine, path string, minTier string) error {
	threshold, ok := tierRank(minTier)
	if !ok {
		return fmt.Errorf("invalid --min-tier value: %s", minTier)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{
		"state",
		"district",
		"mli",
		"status",
		"migrant_inflow",
		"new_births",
		"child_updates",
		"adult_updates",
	}); err != nil {
		return err
	}

	for _, row := range rows {
		status := engine.ClassifyPressure(row.MLI)
		rank, _ := tierRank(string(status))
		if rank < threshold {
			continue
		}
		record := []string{
			row.State,
			row.District,
			strconv.FormatFloat(row.MLI, 'f', 4, 64),
			string(status),
			strconv.FormatInt(row.MigrantInflow, 10),
			strconv.FormatInt(row.NewBirths, 10),
			strconv.FormatInt(row.ChildUpdates, 10),
			strconv.FormatInt(row.AdultUpdates, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
