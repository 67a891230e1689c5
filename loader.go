package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Loader produces the two canonical tables from the columnar cache, falling
// back to a scan of raw batches.
type Loader struct {
	cfg     *Config
	log     zerolog.Logger
	metrics *Metrics
}

func NewLoader(cfg *Config, log zerolog.Logger, metrics *Metrics) *Loader {
	return &Loader{cfg: cfg, log: log, metrics: metrics}
}

// datasetPaths describes what one loader call needs from the frames it reads.
type datasetPaths struct {
	name      string
	cachePath string
	root      string
	// required lists the columns a cache must carry to be used. A cache
	// missing one of them is treated like a corrupt cache.
	required []columnResolver
}

// frameSet is the outcome of the cache-then-batches fallback chain.
type frameSet struct {
	source   DatasetSource
	frames   []frame
	files    int
	warnings []string
	reason   string
}

// LoadEnrollment returns enrollment aggregated to region granularity.
func (l *Loader) LoadEnrollment(ctx context.Context) (Dataset[EnrollmentAggregate], error) {
	start := time.Now()
	resolvers := []columnResolver{
		{Field: "state", Candidates: l.cfg.Columns.State},
		{Field: "district", Candidates: l.cfg.Columns.District},
		{Field: "birth_proxy", Candidates: l.cfg.Columns.BirthProxy},
	}
	paths := datasetPaths{
		name:      "enrollment",
		cachePath: l.cfg.Paths.EnrollmentCache,
		root:      l.cfg.Paths.EnrollmentRoot,
		required:  resolvers,
	}

	set, err := l.frames(ctx, paths)
	if err != nil {
		return Dataset[EnrollmentAggregate]{}, err
	}
	if set.reason != "" {
		return l.finishEnrollment(paths, start, unavailable[EnrollmentAggregate](set.reason, set.warnings)), nil
	}

	totals := map[RegionKey]int64{}
	dropped := 0
	usable := 0
	missing := ""
	warnings := set.warnings
	for _, f := range set.frames {
		dropped += f.Dropped
		matches, missingField := resolveColumns(f.Headers, resolvers...)
		if missingField != "" {
			missing = missingField
			warnings = append(warnings, fmt.Sprintf("%s: missing %s column, batch skipped", f.Source, missingField))
			continue
		}
		usable++
		stateIdx, districtIdx, birthIdx := matches[0].Index, matches[1].Index, matches[2].Index
		for _, record := range f.Rows {
			state := getValue(record, stateIdx)
			district := getValue(record, districtIdx)
			births, err := parseCount(getValue(record, birthIdx))
			if state == "" || district == "" || err != nil {
				dropped++
				continue
			}
			totals[newRegionKey(state, district)] += births
		}
	}
	if usable == 0 {
		return l.finishEnrollment(paths, start, unavailable[EnrollmentAggregate]("missing "+missing+" column", warnings)), nil
	}

	rows := make([]EnrollmentAggregate, 0, len(totals))
	for key, births := range totals {
		rows = append(rows, EnrollmentAggregate{RegionKey: key, NewBirths: births})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].less(rows[j].RegionKey)
	})

	return l.finishEnrollment(paths, start, Dataset[EnrollmentAggregate]{
		Status:      DatasetLoaded,
		Source:      set.source,
		Rows:        rows,
		Warnings:    warnings,
		Files:       set.files,
		DroppedRows: dropped,
	}), nil
}

// LoadDemographicSeries returns demographic records at record granularity.
// Grouping is left to the consumers.
func (l *Loader) LoadDemographicSeries(ctx context.Context) (Dataset[DemographicRecord], error) {
	start := time.Now()
	resolvers := []columnResolver{
		{Field: "state", Candidates: l.cfg.Columns.State},
		{Field: "district", Candidates: l.cfg.Columns.District},
		{Field: "date", Candidates: l.cfg.Columns.Date},
		{Field: "child_update", Candidates: l.cfg.Columns.ChildUpdate},
		{Field: "adult_update", Candidates: l.cfg.Columns.AdultUpdate},
	}
	// A cache without either child column is used as is and comes out
	// Unavailable; any other missing column sends the load to the batches.
	paths := datasetPaths{
		name:      "demographic",
		cachePath: l.cfg.Paths.DemographicCache,
		root:      l.cfg.Paths.DemographicRoot,
		required:  []columnResolver{resolvers[0], resolvers[1], resolvers[2], resolvers[4]},
	}

	set, err := l.frames(ctx, paths)
	if err != nil {
		return Dataset[DemographicRecord]{}, err
	}
	if set.reason != "" {
		return l.finishDemographic(paths, start, unavailable[DemographicRecord](set.reason, set.warnings)), nil
	}

	var records []DemographicRecord
	dropped := 0
	usable := 0
	missing := ""
	warnings := set.warnings
	for _, f := range set.frames {
		dropped += f.Dropped
		matches, missingField := resolveColumns(f.Headers, resolvers...)
		if missingField != "" {
			missing = missingField
			warnings = append(warnings, fmt.Sprintf("%s: missing %s column, batch skipped", f.Source, missingField))
			continue
		}
		usable++
		child := matches[3]
		l.log.Debug().
			Str("source", f.Source).
			Str("child_field", child.Name).
			Str("match", child.Kind.String()).
			Msg("Resolved child update column")

		for _, record := range f.Rows {
			state := getValue(record, matches[0].Index)
			district := getValue(record, matches[1].Index)
			if state == "" || district == "" {
				dropped++
				continue
			}
			childCount, err := parseCount(getValue(record, child.Index))
			if err != nil {
				dropped++
				continue
			}
			adultCount, err := parseCount(getValue(record, matches[4].Index))
			if err != nil {
				dropped++
				continue
			}
			records = append(records, DemographicRecord{
				RegionKey:    newRegionKey(state, district),
				Date:         parseDateOrNull(getValue(record, matches[2].Index), l.cfg.Batches.DateLayouts),
				ChildUpdates: childCount,
				AdultUpdates: adultCount,
			})
		}
	}
	if usable == 0 {
		return l.finishDemographic(paths, start, unavailable[DemographicRecord]("missing "+missing+" column", warnings)), nil
	}

	return l.finishDemographic(paths, start, Dataset[DemographicRecord]{
		Status:      DatasetLoaded,
		Source:      set.source,
		Rows:        records,
		Warnings:    warnings,
		Files:       set.files,
		DroppedRows: dropped,
	}), nil
}

// frames runs the fallback chain: cache first, then raw batches. A corrupt
// cache, or one missing a required column, is a warning, never an error.
func (l *Loader) frames(ctx context.Context, paths datasetPaths) (frameSet, error) {
	var warnings []string

	if cacheExists(paths.cachePath) {
		f, err := readParquetFrame(ctx, paths.cachePath)
		if err == nil {
			_, missing := resolveColumns(f.Headers, paths.required...)
			if missing == "" {
				return frameSet{source: SourceCache, frames: []frame{f}, files: 1}, nil
			}
			err = fmt.Errorf("missing %s column", missing)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return frameSet{}, ctxErr
		}
		l.log.Warn().
			Err(err).
			Str("dataset", paths.name).
			Str("cache", paths.cachePath).
			Msg("Cache file failed. Falling back to raw batches")
		warnings = append(warnings, fmt.Sprintf("cache %s unreadable, fell back to raw batches: %v", paths.cachePath, err))
		l.metrics.CacheFallback(paths.name)
	}

	files, err := discoverBatches(paths.root, l.cfg.Batches.Extensions)
	if err != nil {
		return frameSet{}, fmt.Errorf("load %s: %w", paths.name, err)
	}
	if len(files) == 0 {
		l.log.Info().Str("dataset", paths.name).Str("root", paths.root).Msg("No batch files found")
		return frameSet{warnings: warnings, reason: "no batch files under " + paths.root}, nil
	}

	set := frameSet{source: SourceBatches, files: len(files), warnings: warnings}
	for _, path := range files {
		f, err := readBatch(ctx, path)
		if err != nil {
			if errors.Is(err, errMalformedBatch) {
				l.log.Warn().Err(err).Str("dataset", paths.name).Msg("Skipping malformed batch")
				set.warnings = append(set.warnings, err.Error())
				continue
			}
			return frameSet{}, fmt.Errorf("load %s: %w", paths.name, err)
		}
		set.frames = append(set.frames, f)
	}
	if len(set.frames) == 0 {
		set.reason = "no readable batch files under " + paths.root
	}
	return set, nil
}

func (l *Loader) finishEnrollment(paths datasetPaths, start time.Time, ds Dataset[EnrollmentAggregate]) Dataset[EnrollmentAggregate] {
	l.observe(paths, start, ds.Status, ds.Source, len(ds.Rows), ds.Files, ds.DroppedRows, ds.Reason)
	return ds
}

func (l *Loader) finishDemographic(paths datasetPaths, start time.Time, ds Dataset[DemographicRecord]) Dataset[DemographicRecord] {
	l.observe(paths, start, ds.Status, ds.Source, len(ds.Rows), ds.Files, ds.DroppedRows, ds.Reason)
	return ds
}

func (l *Loader) observe(paths datasetPaths, start time.Time, status DatasetStatus, source DatasetSource, rows, files, dropped int, reason string) {
	elapsed := time.Since(start)
	l.metrics.ObserveLoad(paths.name, string(source), elapsed, rows, dropped)

	event := l.log.Info()
	if status != DatasetLoaded {
		event = l.log.Warn().Str("reason", reason)
	}
	event.
		Str("dataset", paths.name).
		Str("status", string(status)).
		Str("source", string(source)).
		Int("rows", rows).
		Int("files", files).
		Int("dropped_rows", dropped).
		Dur("elapsed", elapsed).
		Msg("Dataset loaded")
}

// parseCount parses a count cell. Empty cells count as zero; cache readers may
// render integral floats such as "12" or "1e+06".
func parseCount(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid count: %q", value)
	}
	return int64(f), nil
}
