package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/spxsignals/internal/persistence"
)

// setupInstanceRepo implements SetupInstanceRepo over spx_setup_instances
type setupInstanceRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSetupInstanceRepo creates a new PostgreSQL setup instance repository
func NewSetupInstanceRepo(db *sqlx.DB, timeout time.Duration) persistence.SetupInstanceRepo {
	return &setupInstanceRepo{
		db:      db,
		timeout: timeout,
	}
}

// ListPriorInstances retrieves earlier-session instances, newest first
func (r *setupInstanceRepo) ListPriorInstances(ctx context.Context, setupType, direction, before string, limit int) ([]persistence.SetupInstance, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT session_date, setup_type, direction, entry_zone_low, entry_zone_high,
		       final_outcome, triggered_at
		FROM spx_setup_instances
		WHERE setup_type = $1 AND direction = $2 AND session_date < $3
		ORDER BY session_date DESC, triggered_at DESC
		LIMIT $4`

	rows, err := r.db.QueryxContext(ctx, query, setupType, direction, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query setup instances: %w", err)
	}
	defer rows.Close()

	var instances []persistence.SetupInstance
	for rows.Next() {
		var inst persistence.SetupInstance
		if err := rows.StructScan(&inst); err != nil {
			return nil, fmt.Errorf("failed to scan setup instance: %w", err)
		}
		instances = append(instances, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate setup instances: %w", err)
	}

	return instances, nil
}
