package main

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// AllDistricts is the district selector value meaning "no district filter".
const AllDistricts = "All Districts"

type PressureStatus string

const (
	StatusStable   PressureStatus = "STABLE"
	StatusWarning  PressureStatus = "WARNING"
	StatusCritical PressureStatus = "CRITICAL"
)

// IndexEngine derives the migration load index and the text built on it.
type IndexEngine struct {
	InflowFloor int64
	Critical    float64
	Warning     float64
}

func NewIndexEngine(cfg IndexConfig) IndexEngine {
	return IndexEngine{InflowFloor: cfg.InflowFloor, Critical: cfg.Critical, Warning: cfg.Warning}
}

// AggregateDemographics groups records by region. Null-dated records still
// count toward the totals.
func AggregateDemographics(records []DemographicRecord) []DemographicAggregate {
	byKey := map[RegionKey]*DemographicAggregate{}
	for _, record := range records {
		key := newRegionKey(record.State, record.District)
		agg, ok := byKey[key]
		if !ok {
			agg = &DemographicAggregate{RegionKey: key}
			byKey[key] = agg
		}
		agg.ChildUpdates += record.ChildUpdates
		agg.AdultUpdates += record.AdultUpdates
		agg.MigrantInflow += record.MigrantInflow()
	}

	out := make([]DemographicAggregate, 0, len(byKey))
	for _, agg := range byKey {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].less(out[j].RegionKey)
	})
	return out
}

// CalculateMLI inner-joins births and inflow on the normalized region key.
// Regions missing from either side are dropped.
func (e IndexEngine) CalculateMLI(enrollment []EnrollmentAggregate, records []DemographicRecord) []MLIRow {
	births := make(map[RegionKey]int64, len(enrollment))
	for _, row := range enrollment {
		births[newRegionKey(row.State, row.District)] += row.NewBirths
	}

	rows := make([]MLIRow, 0)
	for _, agg := range AggregateDemographics(records) {
		newBirths, ok := births[agg.RegionKey]
		if !ok {
			continue
		}
		rows = append(rows, MLIRow{
			RegionKey:     agg.RegionKey,
			NewBirths:     newBirths,
			MigrantInflow: agg.MigrantInflow,
			ChildUpdates:  agg.ChildUpdates,
			AdultUpdates:  agg.AdultUpdates,
			MLI:           e.mli(agg.MigrantInflow, newBirths),
		})
	}
	return rows
}

func (e IndexEngine) mli(inflow, births int64) float64 {
	if inflow < e.InflowFloor {
		return 0.0
	}
	return float64(inflow) / float64(births+1)
}

func (e IndexEngine) ClassifyPressure(mli float64) PressureStatus {
	switch {
	case mli > e.Critical:
		return StatusCritical
	case mli > e.Warning:
		return StatusWarning
	default:
		return StatusStable
	}
}

func (e IndexEngine) criticalCount(rows []MLIRow) int {
	count := 0
	for _, row := range rows {
		if row.MLI > e.Critical {
			count++
		}
	}
	return count
}

// DescriptiveSummary describes a non-empty row subset in one sentence.
func (e IndexEngine) DescriptiveSummary(rows []MLIRow, regionName string, isDistrict bool) string {
	inflow := totalInflow(rows)
	avgPressure := averageMLI(rows)

	if isDistrict {
		status := e.ClassifyPressure(avgPressure)
		return fmt.Sprintf("District Report: %s has received %s updates. "+
			"The local infrastructure pressure score is %.2f (%s).",
			regionName, formatThousands(inflow), avgPressure, status)
	}
	return fmt.Sprintf("State Report: %s has recorded %s total updates. "+
		"Currently, %d districts are flagged as high-stress zones.",
		regionName, formatThousands(inflow), e.criticalCount(rows))
}

// PrescriptiveAdvice turns the index and a forecast volume into an action
// plan. In district mode rows holds exactly one row.
func (e IndexEngine) PrescriptiveAdvice(rows []MLIRow, regionName string, forecastVolume int64, isDistrict bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Strategic Plan (%s): Predicted influx: +%s migrants.\n\n", regionName, formatThousands(forecastVolume))

	if isDistrict {
		var mli float64
		if len(rows) > 0 {
			mli = rows[0].MLI
		}
		for i, action := range e.districtActions(mli) {
			fmt.Fprintf(&b, "%d. %s\n", i+1, action)
		}
		return b.String()
	}

	critical := e.criticalCount(rows)
	fmt.Fprintf(&b, "1. Supply Chain: Increase Ration allocations for the %d critical districts.\n", critical)
	b.WriteString("2. Long Term: Review urban expansion budget for Q3.")
	return b.String()
}

func (e IndexEngine) districtActions(mli float64) []string {
	switch e.ClassifyPressure(mli) {
	case StatusCritical:
		return []string{
			"Action: Open 2 temporary Aadhaar Seva Kendras near industrial zones.",
			"Resource: Alert Municipal Corporation to increase water tanker frequency by 15%.",
		}
	case StatusWarning:
		return []string{"Action: Conduct spot-checks at rental housing clusters."}
	default:
		return []string{"Action: Routine monitoring. No specific intervention needed."}
	}
}

// StateNames lists the distinct states, sorted.
func StateNames(rows []MLIRow) []string {
	seen := map[string]bool{}
	var out []string
	for _, row := range rows {
		if !seen[row.State] {
			seen[row.State] = true
			out = append(out, row.State)
		}
	}
	sort.Strings(out)
	return out
}

// DistrictNames lists the distinct districts of one state, sorted.
func DistrictNames(rows []MLIRow, state string) []string {
	state = normalizeState(state)
	seen := map[string]bool{}
	var out []string
	for _, row := range rows {
		if row.State != state || seen[row.District] {
			continue
		}
		seen[row.District] = true
		out = append(out, row.District)
	}
	sort.Strings(out)
	return out
}

// FilterRows selects a state and optionally one district. An empty district
// or AllDistricts keeps the whole state.
func FilterRows(rows []MLIRow, state, district string) []MLIRow {
	state = normalizeState(state)
	district = strings.TrimSpace(district)
	var out []MLIRow
	for _, row := range rows {
		if row.State != state {
			continue
		}
		if isDistrictFilter(district) && row.District != district {
			continue
		}
		out = append(out, row)
	}
	return out
}

func isDistrictFilter(district string) bool {
	return district != "" && district != AllDistricts
}

func totalInflow(rows []MLIRow) int64 {
	var total int64
	for _, row := range rows {
		total += row.MigrantInflow
	}
	return total
}

func totalBirths(rows []MLIRow) int64 {
	var total int64
	for _, row := range rows {
		total += row.NewBirths
	}
	return total
}

func averageMLI(rows []MLIRow) float64 {
	if len(rows) == 0 {
		return 0
	}
	sum := 0.0
	for _, row := range rows {
		sum += row.MLI
	}
	return sum / float64(len(rows))
}

// formatThousands renders 1234567 as "1,234,567".
func formatThousands(value int64) string {
	return message.NewPrinter(language.English).Sprintf("%d", value)
}
