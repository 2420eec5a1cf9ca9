package persistence

import (
	"context"
	"time"
)

// Setup outcomes recorded in final_outcome.
const (
	OutcomeT1BeforeStop = "t1_before_stop"
	OutcomeT2BeforeStop = "t2_before_stop"
	OutcomeStopBeforeT1 = "stop_before_t1"
)

// SetupInstance is one historical setup occurrence with its resolved outcome
type SetupInstance struct {
	SessionDate   time.Time  `json:"session_date" db:"session_date"`
	SetupType     string     `json:"setup_type" db:"setup_type"`
	Direction     string     `json:"direction" db:"direction"`
	EntryZoneLow  *float64   `json:"entry_zone_low,omitempty" db:"entry_zone_low"`
	EntryZoneHigh *float64   `json:"entry_zone_high,omitempty" db:"entry_zone_high"`
	FinalOutcome  *string    `json:"final_outcome,omitempty" db:"final_outcome"`
	TriggeredAt   *time.Time `json:"triggered_at,omitempty" db:"triggered_at"`
}

// EntryMid returns the midpoint of the entry zone, false when either bound is missing
func (s SetupInstance) EntryMid() (float64, bool) {
	if s.EntryZoneLow == nil || s.EntryZoneHigh == nil {
		return 0, false
	}
	return (*s.EntryZoneLow + *s.EntryZoneHigh) / 2, true
}

// Session returns the session date as YYYY-MM-DD
func (s SetupInstance) Session() string {
	return s.SessionDate.UTC().Format("2006-01-02")
}

// Resolved reports whether the instance has a final outcome
func (s SetupInstance) Resolved() bool {
	return s.FinalOutcome != nil && *s.FinalOutcome != ""
}

// Win reports whether a target was hit before the stop
func (s SetupInstance) Win() bool {
	if s.FinalOutcome == nil {
		return false
	}
	return *s.FinalOutcome == OutcomeT1BeforeStop || *s.FinalOutcome == OutcomeT2BeforeStop
}

// Loss reports whether the stop was hit before the first target
func (s SetupInstance) Loss() bool {
	return s.FinalOutcome != nil && *s.FinalOutcome == OutcomeStopBeforeT1
}

// SetupInstanceRepo provides read access to historical setup instances
type SetupInstanceRepo interface {
	// ListPriorInstances returns instances of setupType/direction from sessions
	// strictly before the given YYYY-MM-DD date, newest session first and, within
	// a session, newest trigger first.
	ListPriorInstances(ctx context.Context, setupType, direction, before string, limit int) ([]SetupInstance, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Setups SetupInstanceRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
}
