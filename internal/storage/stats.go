package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/woozymasta/vigil/internal/models"
)

// ErrPastDay is returned when a write targets a daily row older than the current day.
var ErrPastDay = errors.New("daily stat for a past day is immutable")

const dailyColumns = `stat_date, captured_at, total_servers, active_servers, total_players,
	peak_concurrent, solo_sessions, multiplayer_sessions, unique_hosts, password_protected,
	discord_linked, srs_enabled, framework_counts, terrain_counts, country_counts`

// UpsertDailyStat writes the summary of s.Date. The row of today (YYYY-MM-DD) may be
// overwritten any number of times. A row of an earlier day only moves forward: a
// later capture of that day (archive replay) replaces it, anything else yields
// ErrPastDay. The flag reports whether the row changed.
func (r *Repository) UpsertDailyStat(ctx context.Context, s models.DailyStat, today string) (bool, error) {
	frameworks, err := encodeCounts(s.FrameworkCounts)
	if err != nil {
		return false, err
	}
	terrains, err := encodeCounts(s.TerrainCounts)
	if err != nil {
		return false, err
	}
	countries, err := encodeCounts(s.CountryCounts)
	if err != nil {
		return false, err
	}

	// Date strings compare lexicographically in calendar order.
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO ecosystem_daily_stats (`+dailyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stat_date) DO UPDATE SET
			captured_at          = excluded.captured_at,
			total_servers        = excluded.total_servers,
			active_servers       = excluded.active_servers,
			total_players        = excluded.total_players,
			peak_concurrent      = excluded.peak_concurrent,
			solo_sessions        = excluded.solo_sessions,
			multiplayer_sessions = excluded.multiplayer_sessions,
			unique_hosts         = excluded.unique_hosts,
			password_protected   = excluded.password_protected,
			discord_linked       = excluded.discord_linked,
			srs_enabled          = excluded.srs_enabled,
			framework_counts     = excluded.framework_counts,
			terrain_counts       = excluded.terrain_counts,
			country_counts       = excluded.country_counts
		WHERE excluded.stat_date >= ? OR excluded.captured_at > ecosystem_daily_stats.captured_at
	`,
		s.Date, unix(s.CapturedAt), s.TotalServers, s.ActiveServers, s.TotalPlayers,
		s.PeakConcurrent, s.SoloSessions, s.MultiplayerSessions, s.UniqueHosts, s.PasswordProtected,
		s.DiscordLinked, s.SRSEnabled, frameworks, terrains, countries,
		today,
	)
	if err != nil {
		return false, fmt.Errorf("upsert daily stat %s: %w", s.Date, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrPastDay
	}

	return true, nil
}

// GetDailyStat retrieves the summary of one date (YYYY-MM-DD).
func (r *Repository) GetDailyStat(ctx context.Context, date string) (models.DailyStat, error) {
	s, err := scanDaily(r.db.QueryRowContext(ctx,
		`SELECT `+dailyColumns+` FROM ecosystem_daily_stats WHERE stat_date = ?`, date))
	if errors.Is(err, sql.ErrNoRows) {
		return models.DailyStat{}, ErrNotFound
	}

	return s, err
}

// ListDailyStats returns summaries with from <= stat_date <= to in date order.
// An empty bound is open.
func (r *Repository) ListDailyStats(ctx context.Context, from, to string) ([]models.DailyStat, error) {
	query := `SELECT ` + dailyColumns + ` FROM ecosystem_daily_stats WHERE 1=1`
	var args []any
	if from != "" {
		query += ` AND stat_date >= ?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND stat_date <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY stat_date`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stats []models.DailyStat
	for rows.Next() {
		s, err := scanDaily(rows)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

func scanDaily(row rowScanner) (models.DailyStat, error) {
	var (
		s                             models.DailyStat
		captured                      int64
		frameworks, terrains, country string
	)
	err := row.Scan(&s.Date, &captured, &s.TotalServers, &s.ActiveServers, &s.TotalPlayers,
		&s.PeakConcurrent, &s.SoloSessions, &s.MultiplayerSessions, &s.UniqueHosts, &s.PasswordProtected,
		&s.DiscordLinked, &s.SRSEnabled, &frameworks, &terrains, &country)
	if err != nil {
		return models.DailyStat{}, err
	}
	s.CapturedAt = fromUnix(captured)

	if s.FrameworkCounts, err = decodeCounts(frameworks); err != nil {
		return models.DailyStat{}, err
	}
	if s.TerrainCounts, err = decodeCounts(terrains); err != nil {
		return models.DailyStat{}, err
	}
	if s.CountryCounts, err = decodeCounts(country); err != nil {
		return models.DailyStat{}, err
	}

	return s, nil
}

func encodeCounts(m map[string]int) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode counts: %w", err)
	}

	return string(b), nil
}

func decodeCounts(raw string) (map[string]int, error) {
	m := make(map[string]int)
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode counts: %w", err)
	}

	return m, nil
}
