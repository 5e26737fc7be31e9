package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/woozymasta/vigil/internal/models"
)

const patternColumns = `server_id, computed_at, peak_day, peak_hour, peak_avg, peak_window_avg,
	baseline, training_score, active_hours, samples, distinct_days, training_mode, suppressed`

// SavePattern replaces the stored activity pattern of a server.
func (r *Repository) SavePattern(ctx context.Context, p models.ActivityPattern) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_patterns (`+patternColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			computed_at     = excluded.computed_at,
			peak_day        = excluded.peak_day,
			peak_hour       = excluded.peak_hour,
			peak_avg        = excluded.peak_avg,
			peak_window_avg = excluded.peak_window_avg,
			baseline        = excluded.baseline,
			training_score  = excluded.training_score,
			active_hours    = excluded.active_hours,
			samples         = excluded.samples,
			distinct_days   = excluded.distinct_days,
			training_mode   = excluded.training_mode,
			suppressed      = excluded.suppressed
	`,
		p.ServerID, unix(p.ComputedAt), p.PeakDay, p.PeakHour, p.PeakAvg, p.PeakWindowAvg,
		p.Baseline, p.TrainingScore, p.ActiveHours, p.Samples, p.DistinctDays,
		boolInt(p.TrainingMode), boolInt(p.Suppressed),
	)
	if err != nil {
		return fmt.Errorf("save pattern %s: %w", p.ServerID, err)
	}

	return nil
}

// GetPattern retrieves the stored activity pattern of a server.
func (r *Repository) GetPattern(ctx context.Context, serverID string) (models.ActivityPattern, error) {
	var (
		p                  models.ActivityPattern
		computed           int64
		training, suppress int
	)
	err := r.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM activity_patterns WHERE server_id = ?`, serverID).Scan(
		&p.ServerID, &computed, &p.PeakDay, &p.PeakHour, &p.PeakAvg, &p.PeakWindowAvg,
		&p.Baseline, &p.TrainingScore, &p.ActiveHours, &p.Samples, &p.DistinctDays,
		&training, &suppress,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ActivityPattern{}, ErrNotFound
	}
	if err != nil {
		return models.ActivityPattern{}, err
	}

	p.ComputedAt = fromUnix(computed)
	p.TrainingMode = training != 0
	p.Suppressed = suppress != 0

	return p, nil
}

// ServerIDsWithSnapshots returns every server that has at least one snapshot since the given time.
func (r *Repository) ServerIDsWithSnapshots(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT server_id FROM snapshots WHERE captured_at >= ? ORDER BY server_id`, unix(since))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
