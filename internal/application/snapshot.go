package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spxsignals/internal/analytics/crossmarket"
	"github.com/sawpanic/spxsignals/internal/analytics/fib"
	"github.com/sawpanic/spxsignals/internal/snapshot"
)

const dateLayout = "2006-01-02"

// Snapshot is the composite published to the shared snapshot slot.
type Snapshot struct {
	AsOfDate    string                      `json:"asOfDate"`
	Basis       crossmarket.BasisState      `json:"basis"`
	SpyImpact   *crossmarket.SpyImpactState `json:"spyImpact,omitempty"`
	FibLevels   []fib.Level                 `json:"fibLevels"`
	Degraded    []string                    `json:"degraded,omitempty"`
	GeneratedAt time.Time                   `json:"generatedAt"`
}

type SnapshotOptions struct {
	ForceRefresh bool
	AsOfDate     string
	Wait         snapshot.WaitOptions
}

// BuildSnapshot computes the composite directly. The basis is required; impact
// and fibonacci failures degrade the snapshot instead of failing it.
func (s *Service) BuildSnapshot(ctx context.Context, opts SnapshotOptions) (Snapshot, error) {
	asOf := s.asOfDate(opts.AsOfDate)

	basis, err := s.Basis.GetBasisState(ctx, crossmarket.BasisOptions{ForceRefresh: opts.ForceRefresh})
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to compute basis: %w", err)
	}

	snap := Snapshot{AsOfDate: asOf, Basis: basis, FibLevels: []fib.Level{}}

	impact, err := s.Impact.GetSpyImpactState(ctx, crossmarket.ImpactOptions{ForceRefresh: opts.ForceRefresh, Basis: &basis})
	if err != nil {
		log.Warn().Err(err).Msg("SPY impact unavailable for snapshot")
		snap.Degraded = append(snap.Degraded, "spy_impact")
	} else {
		snap.SpyImpact = &impact
	}

	levels, err := s.Fib.GetFibLevels(ctx, fib.Options{ForceRefresh: opts.ForceRefresh, Basis: &basis, AsOfDate: asOf})
	if err != nil {
		log.Warn().Err(err).Msg("Fibonacci levels unavailable for snapshot")
		snap.Degraded = append(snap.Degraded, "fib_levels")
	} else {
		snap.FibLevels = levels
	}

	snap.GeneratedAt = s.now().UTC()
	return snap, nil
}

// Snapshot returns the shared composite, building it under the cross-process
// build lock when no fresh copy exists. The shared slot only ever holds today's
// composite: other dates are built locally and never published.
func (s *Service) Snapshot(ctx context.Context, opts SnapshotOptions) (Snapshot, snapshot.Outcome, error) {
	asOf := s.asOfDate(opts.AsOfDate)
	opts.AsOfDate = asOf

	if asOf != s.now().UTC().Format(dateLayout) {
		snap, err := s.BuildSnapshot(ctx, opts)
		return snap, snapshot.OutcomeLocal, err
	}

	build := snapshot.BuildOptions{Force: opts.ForceRefresh, Wait: opts.Wait}
	return snapshot.BuildOrWait(ctx, s.Snapshots, build, func(ctx context.Context) (Snapshot, error) {
		return s.BuildSnapshot(ctx, opts)
	})
}

// asOfDate normalises input to YYYY-MM-DD, defaulting to today in UTC.
func (s *Service) asOfDate(input string) string {
	d := strings.TrimSpace(input)
	if _, err := time.Parse(dateLayout, d); err != nil {
		return s.now().UTC().Format(dateLayout)
	}
	return d
}
