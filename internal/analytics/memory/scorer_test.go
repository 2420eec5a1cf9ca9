package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/spxsignals/internal/infrastructure/cache"
	"github.com/sawpanic/spxsignals/internal/metrics"
	"github.com/sawpanic/spxsignals/internal/persistence"
)

type fakeRepo struct {
	mu    sync.Mutex
	rows  []persistence.SetupInstance
	err   error
	calls int
	args  []interface{}
}

func (f *fakeRepo) ListPriorInstances(ctx context.Context, setupType, direction, before string, limit int) ([]persistence.SetupInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.args = []interface{}{setupType, direction, before, limit}
	return f.rows, f.err
}

func (f *fakeRepo) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func instance(day int, low, high float64, outcome string) persistence.SetupInstance {
	inst := persistence.SetupInstance{
		SessionDate:   time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC),
		SetupType:     "fade_at_wall",
		Direction:     "bearish",
		EntryZoneLow:  &low,
		EntryZoneHigh: &high,
	}
	if outcome != "" {
		inst.FinalOutcome = &outcome
	}
	return inst
}

func repeat(n, day int, outcome string) []persistence.SetupInstance {
	rows := make([]persistence.SetupInstance, n)
	for i := range rows {
		rows[i] = instance(day-i, 6010, 6014, outcome)
	}
	return rows
}

func query() Query {
	return Query{SessionDate: "2026-03-20", SetupType: "fade_at_wall", Direction: "bearish", EntryMid: 6012}
}

func TestSummarize_Scores(t *testing.T) {
	tests := []struct {
		name       string
		rows       []persistence.SetupInstance
		wantScore  float64
		wantConf   float64
		wantWins   int
		wantLosses int
	}{
		{
			name:      "no rows is neutral",
			wantScore: 50,
		},
		{
			name:      "unresolved rows are neutral",
			rows:      repeat(3, 19, ""),
			wantScore: 50,
		},
		{
			name:      "all wins cap at 85",
			rows:      repeat(10, 19, persistence.OutcomeT1BeforeStop),
			wantScore: 85,
			wantConf:  1,
			wantWins:  10,
		},
		{
			name:       "all losses floor at 20",
			rows:       repeat(10, 19, persistence.OutcomeStopBeforeT1),
			wantScore:  20,
			wantConf:   1,
			wantLosses: 10,
		},
		{
			name:      "half confidence",
			rows:      repeat(4, 19, persistence.OutcomeT2BeforeStop),
			wantScore: 75,
			wantConf:  0.5,
			wantWins:  4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.rows, 6012, 20, 4)
			assert.Equal(t, tt.wantScore, got.Score)
			assert.Equal(t, tt.wantConf, got.Confidence)
			assert.Equal(t, tt.wantWins, got.Wins)
			assert.Equal(t, tt.wantLosses, got.Losses)
			assert.GreaterOrEqual(t, got.Score, 20.0)
			assert.LessOrEqual(t, got.Score, 85.0)
			if got.Resolved == 0 {
				assert.Nil(t, got.WinRatePct)
				assert.Equal(t, 0.0, got.Confidence)
			}
		})
	}
}

func TestSummarize_MixedOutcomes(t *testing.T) {
	rows := []persistence.SetupInstance{
		instance(19, 6010, 6014, persistence.OutcomeT1BeforeStop),
		instance(19, 6011, 6013, persistence.OutcomeStopBeforeT1),
		instance(18, 6009, 6015, "expired"),
		instance(18, 6010, 6014, ""),
	}

	got := Summarize(rows, 6012, 20, 4)
	assert.Equal(t, 4, got.Tests)
	assert.Equal(t, 3, got.Resolved)
	assert.Equal(t, 1, got.Wins)
	assert.Equal(t, 1, got.Losses)
	require.NotNil(t, got.WinRatePct)
	assert.Equal(t, 33.33, *got.WinRatePct)
	assert.Equal(t, 0.38, got.Confidence)
	// 50 + (33.333 - 50) * 0.375
	assert.Equal(t, 43.75, got.Score)
}

func TestSummarize_LookbackAndTolerance(t *testing.T) {
	missing := instance(17, 0, 0, persistence.OutcomeT1BeforeStop)
	missing.EntryZoneLow, missing.EntryZoneHigh = nil, nil

	rows := []persistence.SetupInstance{
		instance(19, 6010, 6014, persistence.OutcomeT1BeforeStop),
		instance(18, 6010, 6014, persistence.OutcomeT1BeforeStop),
		instance(17, 6010, 6014, persistence.OutcomeStopBeforeT1), // third session, dropped
		instance(19, 6011, 6013, persistence.OutcomeT1BeforeStop), // admitted session, kept
		instance(18, 6030, 6034, persistence.OutcomeStopBeforeT1), // outside tolerance
		missing,
	}

	got := Summarize(rows, 6012, 2, 4)
	assert.Equal(t, 3, got.Tests)
	assert.Equal(t, 3, got.Wins)
	assert.Equal(t, 0, got.Losses)
	assert.Equal(t, 2, got.LookbackSessions)
	assert.Equal(t, 4.0, got.TolerancePoints)
}

func TestScorer_NormalizesQuery(t *testing.T) {
	s := NewScorer(nil, nil, nil)
	s.now = func() time.Time { return time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC) }

	q := s.normalize(Query{SessionDate: "bad", SetupType: " breakout ", Direction: "bullish", TolerancePoints: -3})
	assert.Equal(t, "2026-10-19", q.SessionDate)
	assert.Equal(t, "breakout", q.SetupType)
	assert.Equal(t, DefaultLookbackSessions, q.LookbackSessions)
	assert.Equal(t, DefaultTolerancePoints, q.TolerancePoints)

	q = s.normalize(Query{SessionDate: "2026-03-20T13:30:00Z", LookbackSessions: 500, TolerancePoints: 0.1})
	assert.Equal(t, "2026-03-20", q.SessionDate)
	assert.Equal(t, 120, q.LookbackSessions)
	assert.Equal(t, 0.25, q.TolerancePoints)

	q = s.normalize(Query{LookbackSessions: 7, TolerancePoints: 80})
	assert.Equal(t, 7, q.LookbackSessions)
	assert.Equal(t, 50.0, q.TolerancePoints)
}

func TestCacheKey(t *testing.T) {
	q := Query{
		SessionDate: "2026-03-20", SetupType: "fade_at_wall", Direction: "bearish",
		EntryMid: 6012.34, LookbackSessions: 20, TolerancePoints: 4,
	}
	assert.Equal(t, "spx_command_center:memory:2026-03-20:fade_at_wall:bearish:6012.3:20:4.00", CacheKey(q))
}

func TestScorer_QueriesAndCaches(t *testing.T) {
	repo := &fakeRepo{rows: repeat(8, 19, persistence.OutcomeT1BeforeStop)}
	s := NewScorer(repo, cache.NewMemory(), nil)
	ctx := context.Background()

	got := s.GetLevelMemoryContext(ctx, query())
	assert.Equal(t, 85.0, got.Score)
	assert.Equal(t, []interface{}{"fade_at_wall", "bearish", "2026-03-20", 900}, repo.args)

	again := s.GetLevelMemoryContext(ctx, query())
	assert.Equal(t, got, again)
	assert.Equal(t, 1, repo.callCount())

	forced := query()
	forced.ForceRefresh = true
	s.GetLevelMemoryContext(ctx, forced)
	assert.Equal(t, 2, repo.callCount())
}

func TestScorer_EmptyResultIsCached(t *testing.T) {
	repo := &fakeRepo{}
	s := NewScorer(repo, cache.NewMemory(), nil)
	ctx := context.Background()

	got := s.GetLevelMemoryContext(ctx, query())
	assert.Equal(t, 50.0, got.Score)
	assert.Equal(t, 0.0, got.Confidence)
	assert.Nil(t, got.WinRatePct)

	s.GetLevelMemoryContext(ctx, query())
	assert.Equal(t, 1, repo.callCount())
}

func TestScorer_FailsOpen(t *testing.T) {
	promReg := prometheus.NewRegistry()
	reg := metrics.NewRegistry(promReg)
	repo := &fakeRepo{err: errors.New("relation does not exist")}
	store := cache.NewMemory()
	s := NewScorer(repo, store, reg)
	ctx := context.Background()

	got := s.GetLevelMemoryContext(ctx, query())
	assert.Equal(t, Neutral(DefaultLookbackSessions, DefaultTolerancePoints), got)

	s.GetLevelMemoryContext(ctx, query())
	assert.Equal(t, 2, repo.callCount(), "fail-open results must not be cached")

	m := &dto.Metric{}
	require.NoError(t, reg.MemoryFailOpen.Write(m))
	assert.Equal(t, 2.0, m.GetCounter().GetValue())
}

func TestScorer_InvalidInputSkipsStore(t *testing.T) {
	repo := &fakeRepo{rows: repeat(8, 19, persistence.OutcomeT1BeforeStop)}
	s := NewScorer(repo, nil, nil)

	for _, q := range []Query{
		{SessionDate: "2026-03-20", Direction: "bearish", EntryMid: 6012},
		{SessionDate: "2026-03-20", SetupType: "fade_at_wall", EntryMid: 6012},
		{SessionDate: "2026-03-20", SetupType: "fade_at_wall", Direction: "bearish"},
	} {
		got := s.GetLevelMemoryContext(context.Background(), q)
		assert.Equal(t, 50.0, got.Score)
	}
	assert.Equal(t, 0, repo.callCount())

	none := NewScorer(nil, nil, nil)
	assert.Equal(t, 50.0, none.GetLevelMemoryContext(context.Background(), query()).Score)
}
