package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/woozymasta/vigil/internal/models"
)

const snapshotColumns = `server_id, captured_at, players_current, players_max, online, mission, content_hash`

// RecordSnapshot appends one snapshot and advances the owning server's last_seen when newer.
// A row already present for (server, captured_at) makes the call a no-op; the returned
// flag reports whether a new row was written.
func (r *Repository) RecordSnapshot(ctx context.Context, s models.Snapshot) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	at := unix(s.CapturedAt)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id, captured_at) DO NOTHING
	`, s.ServerID, at, s.PlayersCurrent, s.PlayersMax, boolInt(s.Online), s.Mission, s.ContentHash)
	if err != nil {
		return false, fmt.Errorf("insert snapshot: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE servers SET last_seen = ? WHERE id = ? AND last_seen < ?`,
		at, s.ServerID, at,
	); err != nil {
		return false, fmt.Errorf("advance last_seen: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	return inserted > 0, nil
}

// ListSnapshots returns a server's snapshots captured at or after since, oldest first.
// A zero since returns the full history.
func (r *Repository) ListSnapshots(ctx context.Context, serverID string, since time.Time) ([]models.Snapshot, error) {
	var sinceUnix int64
	if !since.IsZero() {
		sinceUnix = unix(since)
	}

	return r.querySnapshots(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE server_id = ? AND captured_at >= ?
		ORDER BY captured_at
	`, serverID, sinceUnix)
}

// SnapshotsAt returns every snapshot of one capture time, i.e. one ingestion cycle.
func (r *Repository) SnapshotsAt(ctx context.Context, capturedAt time.Time) ([]models.Snapshot, error) {
	return r.querySnapshots(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE captured_at = ?
		ORDER BY server_id
	`, unix(capturedAt))
}

// PeakConcurrent returns the highest population-wide player total of any single
// capture time within [from, to).
func (r *Repository) PeakConcurrent(ctx context.Context, from, to time.Time) (int, error) {
	var peak int
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(total), 0) FROM (
			SELECT SUM(players_current) AS total
			FROM snapshots
			WHERE captured_at >= ? AND captured_at < ?
			GROUP BY captured_at
		)
	`, unix(from), unix(to)).Scan(&peak)

	return peak, err
}

func (r *Repository) querySnapshots(ctx context.Context, query string, args ...any) ([]models.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var snaps []models.Snapshot
	for rows.Next() {
		var (
			s      models.Snapshot
			at     int64
			online int
		)
		if err := rows.Scan(&s.ServerID, &at, &s.PlayersCurrent, &s.PlayersMax, &online, &s.Mission, &s.ContentHash); err != nil {
			return nil, err
		}
		s.CapturedAt = fromUnix(at)
		s.Online = online != 0
		snaps = append(snaps, s)
	}

	return snaps, rows.Err()
}
