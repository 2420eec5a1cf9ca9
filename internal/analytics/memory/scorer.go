// Package memory scores a proposed setup against the outcomes of the same setup
// near the same price in recent sessions.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spxsignals/internal/analytics/coalesce"
	"github.com/sawpanic/spxsignals/internal/domain/indicators"
	"github.com/sawpanic/spxsignals/internal/infrastructure/cache"
	"github.com/sawpanic/spxsignals/internal/metrics"
	"github.com/sawpanic/spxsignals/internal/persistence"
)

const (
	CacheKeyPrefix = "spx_command_center:memory"
	CacheTTL       = 90 * time.Second

	DefaultLookbackSessions = 20
	DefaultTolerancePoints  = 4.0

	maxLookback  = 120
	minTolerance = 0.25
	maxTolerance = 50.0

	queryLimit = 900

	neutralScore      = 50.0
	minScore          = 20.0
	maxScore          = 85.0
	fullConfidenceRes = 8.0

	dateLayout = "2006-01-02"
)

// errFailOpen marks computations whose result must be the neutral context and
// must not be cached.
var errFailOpen = errors.New("memory lookup failed open")

type Query struct {
	SessionDate      string
	SetupType        string
	Direction        string
	EntryMid         float64
	LookbackSessions int
	TolerancePoints  float64
	ForceRefresh     bool
}

// Context is the historical-analog summary for one setup. Score only deviates
// from 50 in proportion to Confidence.
type Context struct {
	Tests            int      `json:"tests"`
	Resolved         int      `json:"resolved"`
	Wins             int      `json:"wins"`
	Losses           int      `json:"losses"`
	WinRatePct       *float64 `json:"winRatePct"`
	Confidence       float64  `json:"confidence"`
	Score            float64  `json:"score"`
	LookbackSessions int      `json:"lookbackSessions"`
	TolerancePoints  float64  `json:"tolerancePoints"`
}

// Neutral returns the no-evidence context.
func Neutral(lookback int, tolerance float64) Context {
	return Context{
		Score:            neutralScore,
		LookbackSessions: lookback,
		TolerancePoints:  tolerance,
	}
}

type Scorer struct {
	repo    persistence.SetupInstanceRepo
	group   *coalesce.Group[Context]
	metrics *metrics.Registry
	now     func() time.Time
}

// NewScorer creates a Scorer. repo may be nil when no setup history is
// configured; every lookup then returns the neutral context.
func NewScorer(repo persistence.SetupInstanceRepo, c cache.Cache, m *metrics.Registry) *Scorer {
	return &Scorer{
		repo:    repo,
		group:   coalesce.NewGroup[Context]("memory", c, m),
		metrics: m,
		now:     time.Now,
	}
}

// GetLevelMemoryContext never fails: store errors yield the neutral context.
func (s *Scorer) GetLevelMemoryContext(ctx context.Context, q Query) Context {
	q = s.normalize(q)
	neutral := Neutral(q.LookbackSessions, q.TolerancePoints)

	if q.SetupType == "" || q.Direction == "" || !isFinite(q.EntryMid) || q.EntryMid <= 0 {
		return neutral
	}
	if s.repo == nil {
		log.Debug().Str("setup_type", q.SetupType).Msg("Setup history not configured, using neutral memory")
		return neutral
	}

	req := coalesce.Request{Key: CacheKey(q), TTL: CacheTTL, Force: q.ForceRefresh}
	result, err := s.group.Do(ctx, req, func(ctx context.Context) (Context, error) {
		return s.compute(ctx, q)
	})
	if err != nil {
		return neutral
	}
	return result
}

// CacheKey derives the shared cache key from every normalized input.
func CacheKey(q Query) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s:%d:%s",
		CacheKeyPrefix, q.SessionDate, q.SetupType, q.Direction,
		indicators.RoundKey(q.EntryMid, 1), q.LookbackSessions,
		indicators.RoundKey(q.TolerancePoints, 2))
}

func (s *Scorer) compute(ctx context.Context, q Query) (Context, error) {
	rows, err := s.repo.ListPriorInstances(ctx, q.SetupType, q.Direction, q.SessionDate, queryLimit)
	if err != nil {
		log.Warn().Err(err).
			Str("setup_type", q.SetupType).
			Str("direction", q.Direction).
			Str("session_date", q.SessionDate).
			Msg("Setup history query failed, using neutral memory")
		s.metrics.RecordMemoryFailOpen()
		return Context{}, fmt.Errorf("%w: %v", errFailOpen, err)
	}

	result := Summarize(rows, q.EntryMid, q.LookbackSessions, q.TolerancePoints)
	log.Debug().
		Str("setup_type", q.SetupType).
		Str("direction", q.Direction).
		Int("rows", len(rows)).
		Int("tests", result.Tests).
		Float64("score", result.Score).
		Msg("Level memory computed")
	return result, nil
}

// Summarize scores rows, which must be ordered newest session first. Rows are
// admitted until lookback distinct sessions are seen, then filtered to entries
// within tolerance of entryMid.
func Summarize(rows []persistence.SetupInstance, entryMid float64, lookback int, tolerance float64) Context {
	out := Neutral(lookback, tolerance)
	sessions := make(map[string]struct{}, lookback)

	for _, row := range rows {
		session := row.Session()
		if _, seen := sessions[session]; !seen {
			if len(sessions) >= lookback {
				continue
			}
			sessions[session] = struct{}{}
		}

		mid, ok := row.EntryMid()
		if !ok || math.Abs(mid-entryMid) > tolerance {
			continue
		}

		out.Tests++
		if !row.Resolved() {
			continue
		}
		out.Resolved++
		switch {
		case row.Win():
			out.Wins++
		case row.Loss():
			out.Losses++
		}
	}

	if out.Resolved == 0 {
		return out
	}

	winRate := float64(out.Wins) / float64(out.Resolved) * 100
	confidence := indicators.Clamp(float64(out.Resolved)/fullConfidenceRes, 0, 1)
	score := indicators.Clamp(neutralScore+(winRate-neutralScore)*confidence, minScore, maxScore)

	rounded := indicators.Round(winRate, 2)
	out.WinRatePct = &rounded
	out.Confidence = indicators.Round(confidence, 2)
	out.Score = indicators.Round(score, 2)
	return out
}

func (s *Scorer) normalize(q Query) Query {
	q.SetupType = strings.TrimSpace(q.SetupType)
	q.Direction = strings.TrimSpace(q.Direction)

	date := strings.TrimSpace(q.SessionDate)
	if len(date) > len(dateLayout) {
		date = date[:len(dateLayout)]
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		date = s.now().UTC().Format(dateLayout)
	}
	q.SessionDate = date

	if q.LookbackSessions <= 0 {
		q.LookbackSessions = DefaultLookbackSessions
	}
	if q.LookbackSessions > maxLookback {
		q.LookbackSessions = maxLookback
	}

	if !isFinite(q.TolerancePoints) || q.TolerancePoints <= 0 {
		q.TolerancePoints = DefaultTolerancePoints
	}
	q.TolerancePoints = indicators.Clamp(q.TolerancePoints, minTolerance, maxTolerance)
	return q
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
