package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/woozymasta/vigil/internal/models"
)

const serverColumns = `
	id, address, port, fingerprint, display_name, normalized_name,
	players_current, players_max, password_required, mission, description,
	terrain, era, game_mode, framework, language, discord_url, srs_address,
	host_cluster_id, first_seen, last_seen`

// ServerFilter narrows ListServers. Zero values disable a condition.
type ServerFilter struct {
	SeenSince time.Time
	// FirstSeenBy excludes servers that appeared after it.
	FirstSeenBy time.Time
	Address     string
	Limit       int
	Offset      int
}

// UpsertServer inserts the server bound to (Address, Port) or updates it in place.
// s.LastSeen is the observation time. Mutable fields are overwritten only when the
// observation is not older than the stored last_seen, so replaying old archives never
// regresses a row; first_seen and last_seen only ever widen. Empty enrichment values
// keep the stored ones.
func (r *Repository) UpsertServer(ctx context.Context, s models.Server) (models.Server, error) {
	if s.ID == "" {
		s.ID = models.ServerID(s.Address, s.Port)
	}
	seen := unix(s.LastSeen)

	query := `
	INSERT INTO servers (
		id, address, port, fingerprint, display_name, normalized_name,
		players_current, players_max, password_required, mission, description,
		terrain, era, game_mode, framework, language, discord_url, srs_address,
		first_seen, last_seen
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(address, port) DO UPDATE SET
		fingerprint       = CASE WHEN excluded.last_seen >= servers.last_seen THEN excluded.fingerprint ELSE servers.fingerprint END,
		display_name      = CASE WHEN excluded.last_seen >= servers.last_seen THEN excluded.display_name ELSE servers.display_name END,
		normalized_name   = CASE WHEN excluded.last_seen >= servers.last_seen THEN excluded.normalized_name ELSE servers.normalized_name END,
		players_current   = CASE WHEN excluded.last_seen >= servers.last_seen THEN excluded.players_current ELSE servers.players_current END,
		players_max       = CASE WHEN excluded.last_seen >= servers.last_seen THEN excluded.players_max ELSE servers.players_max END,
		password_required = CASE WHEN excluded.last_seen >= servers.last_seen THEN excluded.password_required ELSE servers.password_required END,
		mission           = CASE WHEN excluded.last_seen >= servers.last_seen THEN excluded.mission ELSE servers.mission END,
		description       = CASE WHEN excluded.last_seen >= servers.last_seen THEN excluded.description ELSE servers.description END,

		-- Enrichment is external: keep the stored value when the new one is blank
		terrain     = CASE WHEN excluded.terrain != '' AND excluded.last_seen >= servers.last_seen THEN excluded.terrain ELSE servers.terrain END,
		era         = CASE WHEN excluded.era != '' AND excluded.last_seen >= servers.last_seen THEN excluded.era ELSE servers.era END,
		game_mode   = CASE WHEN excluded.game_mode != '' AND excluded.last_seen >= servers.last_seen THEN excluded.game_mode ELSE servers.game_mode END,
		framework   = CASE WHEN excluded.framework != '' AND excluded.last_seen >= servers.last_seen THEN excluded.framework ELSE servers.framework END,
		language    = CASE WHEN excluded.language != '' AND excluded.last_seen >= servers.last_seen THEN excluded.language ELSE servers.language END,
		discord_url = CASE WHEN excluded.discord_url != '' AND excluded.last_seen >= servers.last_seen THEN excluded.discord_url ELSE servers.discord_url END,
		srs_address = CASE WHEN excluded.srs_address != '' AND excluded.last_seen >= servers.last_seen THEN excluded.srs_address ELSE servers.srs_address END,

		first_seen = MIN(servers.first_seen, excluded.first_seen),
		last_seen  = MAX(servers.last_seen, excluded.last_seen)
	RETURNING ` + serverColumns

	row := r.db.QueryRowContext(ctx, query,
		s.ID, s.Address, s.Port, s.Fingerprint, s.DisplayName, s.NormalizedName,
		s.PlayersCurrent, s.PlayersMax, boolInt(s.PasswordRequired), s.Mission, s.Description,
		s.Terrain, s.Era, s.GameMode, s.Framework, s.Language, s.DiscordURL, s.SRSAddress,
		seen, seen,
	)

	stored, err := scanServer(row)
	if err != nil {
		return models.Server{}, fmt.Errorf("upsert server %s:%d: %w", s.Address, s.Port, err)
	}

	return stored, nil
}

// GetServer retrieves a server by its identifier.
func (r *Repository) GetServer(ctx context.Context, id string) (models.Server, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	s, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Server{}, ErrNotFound
	}

	return s, err
}

// GetServerByEndpoint retrieves the server currently bound to address:port.
func (r *Repository) GetServerByEndpoint(ctx context.Context, address string, port int) (models.Server, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE address = ? AND port = ?`, address, port)
	s, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Server{}, ErrNotFound
	}

	return s, err
}

// ListServers returns servers sorted by last_seen descending.
func (r *Repository) ListServers(ctx context.Context, f ServerFilter) ([]models.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE 1=1`
	var args []any

	if f.Address != "" {
		query += ` AND address = ?`
		args = append(args, f.Address)
	}
	if !f.SeenSince.IsZero() {
		query += ` AND last_seen >= ?`
		args = append(args, unix(f.SeenSince))
	}
	if !f.FirstSeenBy.IsZero() {
		query += ` AND first_seen <= ?`
		args = append(args, unix(f.FirstSeenBy))
	}

	query += ` ORDER BY last_seen DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	return r.queryServers(ctx, query, args...)
}

// StaleServers returns servers whose last_seen falls in [notBefore, staleBefore),
// most recently seen first, excluding excludeID. This is the bounded pool of
// migration candidates.
func (r *Repository) StaleServers(ctx context.Context, staleBefore, notBefore time.Time, excludeID string) ([]models.Server, error) {
	return r.queryServers(ctx, `
		SELECT `+serverColumns+`
		FROM servers
		WHERE last_seen < ? AND last_seen >= ? AND id != ?
		ORDER BY last_seen DESC, id
	`, unix(staleBefore), unix(notBefore), excludeID)
}

func (r *Repository) queryServers(ctx context.Context, query string, args ...any) ([]models.Server, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var servers []models.Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}

	return servers, rows.Err()
}

func scanServer(row rowScanner) (models.Server, error) {
	var (
		s         models.Server
		password  int
		clusterID sql.NullInt64
		first     int64
		last      int64
	)

	err := row.Scan(
		&s.ID, &s.Address, &s.Port, &s.Fingerprint, &s.DisplayName, &s.NormalizedName,
		&s.PlayersCurrent, &s.PlayersMax, &password, &s.Mission, &s.Description,
		&s.Terrain, &s.Era, &s.GameMode, &s.Framework, &s.Language, &s.DiscordURL, &s.SRSAddress,
		&clusterID, &first, &last,
	)
	if err != nil {
		return models.Server{}, err
	}

	s.PasswordRequired = password != 0
	s.HostClusterID = clusterID.Int64
	s.FirstSeen = fromUnix(first)
	s.LastSeen = fromUnix(last)

	return s, nil
}
