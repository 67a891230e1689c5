package main

import (
	"sort"
)

// RegionView is what the dashboard shows for one selection: a whole state or
// a single district within it.
type RegionView struct {
	Label         string   `json:"label"`
	State         string   `json:"state"`
	District      string   `json:"district,omitempty"`
	IsDistrict    bool     `json:"is_district"`
	Rows          []MLIRow `json:"rows"`
	TotalInflow   int64    `json:"total_inflow"`
	NaturalGrowth int64    `json:"natural_growth"`
	AvgMLI        float64  `json:"avg_mli"`
	StateAvgMLI   float64  `json:"state_avg_mli"`
	// Multiplier is AvgMLI relative to the state average; nil when the state
	// average is zero.
	Multiplier    *float64       `json:"multiplier,omitempty"`
	Status        PressureStatus `json:"status,omitempty"`
	CriticalCount int            `json:"critical_count"`
	Hotspots      []MLIRow       `json:"hotspots"`
	TopInflow     []MLIRow       `json:"top_inflow"`
}

// BuildView selects state/district from the MLI table. ok is false when the
// selection matches no rows.
func (e IndexEngine) BuildView(rows []MLIRow, state, district string, report ReportConfig) (RegionView, bool) {
	stateRows := FilterRows(rows, state, "")
	viewRows := FilterRows(rows, state, district)
	if len(viewRows) == 0 {
		return RegionView{}, false
	}

	view := RegionView{
		Label:         viewRows[0].State,
		State:         viewRows[0].State,
		IsDistrict:    isDistrictFilter(district),
		Rows:          viewRows,
		TotalInflow:   totalInflow(viewRows),
		NaturalGrowth: totalBirths(viewRows),
		AvgMLI:        averageMLI(viewRows),
		StateAvgMLI:   averageMLI(stateRows),
		CriticalCount: e.criticalCount(viewRows),
	}
	if view.IsDistrict {
		view.District = viewRows[0].District
		view.Label = viewRows[0].District
		view.Status = e.ClassifyPressure(view.AvgMLI)
	}
	if view.StateAvgMLI > 0 {
		multiplier := view.AvgMLI / view.StateAvgMLI
		view.Multiplier = &multiplier
	}

	view.Hotspots = topRows(viewRows, report.HotspotTopN, func(r MLIRow) bool { return r.MLI > 0 },
		func(a, b MLIRow) bool { return a.MLI > b.MLI })
	view.TopInflow = topRows(viewRows, report.InflowTopN, nil,
		func(a, b MLIRow) bool { return a.MigrantInflow > b.MigrantInflow })
	return view, true
}

func topRows(rows []MLIRow, n int, keep func(MLIRow) bool, less func(a, b MLIRow) bool) []MLIRow {
	out := make([]MLIRow, 0, len(rows))
	for _, row := range rows {
		if keep == nil || keep(row) {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
