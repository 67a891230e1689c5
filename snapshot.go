package main

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type LoadMode string

const (
	ModeHighPerformance LoadMode = "high-performance"
	ModeFallback        LoadMode = "fallback"
)

// Snapshot is one complete, immutable load: both canonical tables plus the
// MLI table derived from them.
type Snapshot struct {
	Enrollment  Dataset[EnrollmentAggregate]
	Demographic Dataset[DemographicRecord]
	MLI         []MLIRow
	Mode        LoadMode
	LoadedAt    time.Time
}

// Ready reports whether analytics may run on this snapshot.
func (s *Snapshot) Ready() bool {
	return !s.Enrollment.Empty() && !s.Demographic.Empty()
}

func (s *Snapshot) Warnings() []string {
	var out []string
	out = append(out, s.Enrollment.Warnings...)
	out = append(out, s.Demographic.Warnings...)
	return out
}

func modeFor(enrollment DatasetSource, demographic DatasetSource) LoadMode {
	if enrollment == SourceCache && demographic == SourceCache {
		return ModeHighPerformance
	}
	return ModeFallback
}

// SnapshotCache memoizes the load for the lifetime of the process. The first
// Get does the work; every later or concurrent Get sees the same result,
// error included. There is no invalidation.
type SnapshotCache struct {
	loader *Loader
	engine IndexEngine
	now    func() time.Time

	once sync.Once
	snap *Snapshot
	err  error
}

func NewSnapshotCache(loader *Loader, engine IndexEngine) *SnapshotCache {
	return &SnapshotCache{loader: loader, engine: engine, now: time.Now}
}

func (c *SnapshotCache) Get(ctx context.Context) (*Snapshot, error) {
	c.once.Do(func() {
		c.snap, c.err = c.load(ctx)
	})
	return c.snap, c.err
}

func (c *SnapshotCache) load(ctx context.Context) (*Snapshot, error) {
	enrollment, err := c.loader.LoadEnrollment(ctx)
	if err != nil {
		return nil, fmt.Errorf("data load error: %w", err)
	}
	demographic, err := c.loader.LoadDemographicSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("data load error: %w", err)
	}

	snap := &Snapshot{
		Enrollment:  enrollment,
		Demographic: demographic,
		Mode:        modeFor(enrollment.Source, demographic.Source),
		LoadedAt:    c.now(),
	}
	if snap.Ready() {
		snap.MLI = c.engine.CalculateMLI(enrollment.Rows, demographic.Rows)
	}
	return snap, nil
}
