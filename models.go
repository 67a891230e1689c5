package main

import (
	"errors"
	"time"
)

// ErrNoData is returned by presentation code when a dataset is unavailable or
// empty and analytics must not run.
var ErrNoData = errors.New("data missing: enrollment or demographic dataset is empty")

type DatasetStatus string

const (
	DatasetLoaded      DatasetStatus = "loaded"
	DatasetUnavailable DatasetStatus = "unavailable"
)

type DatasetSource string

const (
	SourceNone    DatasetSource = "none"
	SourceCache   DatasetSource = "cache"
	SourceBatches DatasetSource = "batches"
)

// Dataset is the result of one loader call. Unavailable carries a Reason and
// no rows; Loaded may still have zero rows if every row was dropped.
type Dataset[T any] struct {
	Status      DatasetStatus `json:"status"`
	Source      DatasetSource `json:"source"`
	Rows        []T           `json:"-"`
	Reason      string        `json:"reason,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
	Files       int           `json:"files"`
	DroppedRows int           `json:"dropped_rows"`
}

func (d Dataset[T]) Empty() bool {
	return d.Status != DatasetLoaded || len(d.Rows) == 0
}

func unavailable[T any](reason string, warnings []string) Dataset[T] {
	return Dataset[T]{Status: DatasetUnavailable, Source: SourceNone, Reason: reason, Warnings: warnings}
}

type EnrollmentAggregate struct {
	RegionKey
	NewBirths int64 `json:"new_births"`
}

// DemographicRecord is one raw observation. A zero Date means the source date
// could not be parsed.
type DemographicRecord struct {
	RegionKey
	Date         time.Time
	ChildUpdates int64
	AdultUpdates int64
}

func (r DemographicRecord) MigrantInflow() int64 {
	return r.ChildUpdates + r.AdultUpdates
}

type DemographicAggregate struct {
	RegionKey
	MigrantInflow int64 `json:"migrant_inflow"`
	ChildUpdates  int64 `json:"child_updates"`
	AdultUpdates  int64 `json:"adult_updates"`
}

type MLIRow struct {
	RegionKey
	NewBirths     int64   `json:"new_births"`
	MigrantInflow int64   `json:"migrant_inflow"`
	ChildUpdates  int64   `json:"child_updates"`
	AdultUpdates  int64   `json:"adult_updates"`
	MLI           float64 `json:"mli"`
}

type PointKind string

const (
	Historical PointKind = "Historical"
	Predicted  PointKind = "Predicted"
)

type ForecastPoint struct {
	Month         time.Time `json:"month"`
	MigrantInflow int64     `json:"migrant_inflow"`
	Kind          PointKind `json:"kind"`
}
