package main

import (
	"math"
	"sort"
	"strings"
	"time"
)

// ForecastEngine extrapolates monthly inflow with a clamped average growth
// rate. It is a trend line, not a time-series model.
type ForecastEngine struct {
	Horizon    int
	StrideDays int
	MaxGrowth  float64
}

func NewForecastEngine(cfg ForecastConfig) ForecastEngine {
	return ForecastEngine{Horizon: cfg.Horizon, StrideDays: cfg.StrideDays, MaxGrowth: cfg.MaxGrowth}
}

// Generate returns the historical monthly series for the region followed by
// Horizon predicted points. It returns nil when the region has no records or
// fewer than two distinct months.
func (e ForecastEngine) Generate(records []DemographicRecord, state, district string) []ForecastPoint {
	state = normalizeState(state)
	district = strings.TrimSpace(district)

	monthly := map[time.Time]int64{}
	matched := 0
	for _, record := range records {
		if normalizeState(record.State) != state {
			continue
		}
		if isDistrictFilter(district) && record.District != district {
			continue
		}
		matched++
		if record.Date.IsZero() {
			continue
		}
		monthly[monthStart(record.Date)] += record.MigrantInflow()
	}
	if matched == 0 || len(monthly) < 2 {
		return nil
	}

	months := make([]time.Time, 0, len(monthly))
	for month := range monthly {
		months = append(months, month)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	points := make([]ForecastPoint, 0, len(months)+e.Horizon)
	values := make([]int64, 0, len(months))
	for _, month := range months {
		points = append(points, ForecastPoint{Month: month, MigrantInflow: monthly[month], Kind: Historical})
		values = append(values, monthly[month])
	}

	growth := e.clamp(averageGrowth(values))
	last := months[len(months)-1]
	current := float64(values[len(values)-1])
	for i := 1; i <= e.Horizon; i++ {
		current *= 1 + growth
		points = append(points, ForecastPoint{
			Month:         last.AddDate(0, 0, e.StrideDays*i),
			MigrantInflow: int64(current),
			Kind:          Predicted,
		})
	}
	return points
}

func (e ForecastEngine) clamp(growth float64) float64 {
	return math.Max(-e.MaxGrowth, math.Min(e.MaxGrowth, growth))
}

// averageGrowth is the mean period-over-period change. A step whose previous
// value is zero has no defined change and is skipped; if every step is
// skipped the growth is zero.
func averageGrowth(values []int64) float64 {
	sum := 0.0
	terms := 0
	for t := 1; t < len(values); t++ {
		prev := values[t-1]
		if prev == 0 {
			continue
		}
		sum += float64(values[t]-prev) / float64(prev)
		terms++
	}
	if terms == 0 {
		return 0
	}
	return sum / float64(terms)
}

// PredictedVolume sums the predicted points of a series.
func PredictedVolume(points []ForecastPoint) int64 {
	var total int64
	for _, point := range points {
		if point.Kind == Predicted {
			total += point.MigrantInflow
		}
	}
	return total
}
