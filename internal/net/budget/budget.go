package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBudgetExhausted is returned when the daily budget is spent.
var ErrBudgetExhausted = errors.New("daily budget exhausted")

// ExhaustedError reports when the budget will be available again.
type ExhaustedError struct {
	Provider string
	Used     int64
	Limit    int64
	ETA      time.Time
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted for %s: %d/%d requests used, resets at %s",
		e.Provider, e.Used, e.Limit, e.ETA.Format("15:04 UTC"))
}

func (e *ExhaustedError) Unwrap() error { return ErrBudgetExhausted }

// Stats is a point-in-time view of a Tracker.
type Stats struct {
	Provider    string    `json:"provider"`
	Limit       int64     `json:"limit"`
	Used        int64     `json:"used"`
	Remaining   int64     `json:"remaining"`
	Utilization float64   `json:"utilization"`
	NextReset   time.Time `json:"next_reset"`
	Warning     bool      `json:"warning"`
	Exhausted   bool      `json:"exhausted"`
}

// Tracker counts requests against a daily limit that resets at a fixed UTC hour.
// A limit of zero or less disables the budget.
type Tracker struct {
	provider      string
	limit         int64
	resetHour     int
	warnThreshold float64
	now           func() time.Time

	mu        sync.Mutex
	used      int64
	lastReset time.Time
	warned    bool
}

func NewTracker(provider string, limit int64, resetHour int, warnThreshold float64) *Tracker {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	if warnThreshold <= 0 || warnThreshold > 1 {
		warnThreshold = 0.8
	}
	t := &Tracker{
		provider:      provider,
		limit:         limit,
		resetHour:     resetHour,
		warnThreshold: warnThreshold,
		now:           time.Now,
	}
	t.lastReset = lastResetTime(t.now().UTC(), resetHour)
	return t
}

func lastResetTime(now time.Time, resetHour int) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), resetHour, 0, 0, 0, time.UTC)
	if now.Hour() >= resetHour {
		return today
	}
	return today.AddDate(0, 0, -1)
}

// rollLocked starts a new budget day when the reset time has passed.
func (t *Tracker) rollLocked() {
	now := t.now().UTC()
	if !now.Before(t.lastReset.Add(24 * time.Hour)) {
		t.used = 0
		t.warned = false
		t.lastReset = lastResetTime(now, t.resetHour)
	}
}

// Consume takes one request from the budget. The second result is true exactly
// once per budget day, on the request that crosses the warning threshold.
func (t *Tracker) Consume() (crossedWarning bool, err error) {
	if t.limit <= 0 {
		return false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()

	if t.used >= t.limit {
		return false, &ExhaustedError{
			Provider: t.provider,
			Used:     t.used,
			Limit:    t.limit,
			ETA:      t.lastReset.Add(24 * time.Hour),
		}
	}
	t.used++

	if !t.warned && float64(t.used)/float64(t.limit) >= t.warnThreshold {
		t.warned = true
		return true, nil
	}
	return false, nil
}

func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()

	s := Stats{
		Provider:  t.provider,
		Limit:     t.limit,
		Used:      t.used,
		NextReset: t.lastReset.Add(24 * time.Hour),
	}
	if t.limit > 0 {
		s.Remaining = t.limit - t.used
		s.Utilization = float64(t.used) / float64(t.limit)
		s.Warning = s.Utilization >= t.warnThreshold
		s.Exhausted = t.used >= t.limit
	}
	return s
}
