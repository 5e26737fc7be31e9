package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/woozymasta/vigil/internal/models"
)

const clusterColumns = `id, address, member_count, active_members, country_code, first_seen, last_seen, updated_at`

// RefreshCluster recounts the servers bound to address and upserts its host cluster in
// one transaction, re-linking member servers to it. Members seen at or after activeSince
// count as active. An address without servers and without an existing cluster yields ErrNotFound;
// an existing cluster whose members are gone keeps its row with a zero count.
func (r *Repository) RefreshCluster(ctx context.Context, address, country string, activeSince, now time.Time) (models.HostCluster, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.HostCluster{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		members int
		active  int
		first   sql.NullInt64
		last    sql.NullInt64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(last_seen >= ?), 0), MIN(first_seen), MAX(last_seen)
		FROM servers WHERE address = ?
	`, unix(activeSince), address).Scan(&members, &active, &first, &last)
	if err != nil {
		return models.HostCluster{}, fmt.Errorf("count cluster members: %w", err)
	}

	if members == 0 {
		row := tx.QueryRowContext(ctx, `
			UPDATE host_clusters SET member_count = 0, active_members = 0, updated_at = ?
			WHERE address = ?
			RETURNING `+clusterColumns, unix(now), address)
		c, err := scanCluster(row)
		if errors.Is(err, sql.ErrNoRows) {
			return models.HostCluster{}, ErrNotFound
		}
		if err != nil {
			return models.HostCluster{}, err
		}
		return c, tx.Commit()
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO host_clusters (address, member_count, active_members, country_code, first_seen, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			member_count   = excluded.member_count,
			active_members = excluded.active_members,
			country_code   = CASE WHEN excluded.country_code != '' THEN excluded.country_code ELSE host_clusters.country_code END,
			first_seen     = MIN(host_clusters.first_seen, excluded.first_seen),
			last_seen      = MAX(host_clusters.last_seen, excluded.last_seen),
			updated_at     = excluded.updated_at
		RETURNING `+clusterColumns,
		address, members, active, country, first.Int64, last.Int64, unix(now),
	)
	c, err := scanCluster(row)
	if err != nil {
		return models.HostCluster{}, fmt.Errorf("upsert cluster %s: %w", address, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE servers SET host_cluster_id = ?
		WHERE address = ? AND (host_cluster_id IS NULL OR host_cluster_id != ?)
	`, c.ID, address, c.ID); err != nil {
		return models.HostCluster{}, fmt.Errorf("link cluster members: %w", err)
	}

	return c, tx.Commit()
}

// GetCluster retrieves the host cluster of an address.
func (r *Repository) GetCluster(ctx context.Context, address string) (models.HostCluster, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+clusterColumns+` FROM host_clusters WHERE address = ?`, address)
	c, err := scanCluster(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.HostCluster{}, ErrNotFound
	}

	return c, err
}

// ListClusters returns clusters with at least minMembers servers, largest first.
func (r *Repository) ListClusters(ctx context.Context, minMembers, limit int) ([]models.HostCluster, error) {
	query := `SELECT ` + clusterColumns + ` FROM host_clusters WHERE member_count >= ? ORDER BY member_count DESC, address`
	args := []any{minMembers}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var clusters []models.HostCluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}

	return clusters, rows.Err()
}

func scanCluster(row rowScanner) (models.HostCluster, error) {
	var (
		c                        models.HostCluster
		first, last, updatedUnix int64
	)
	if err := row.Scan(&c.ID, &c.Address, &c.MemberCount, &c.ActiveMembers, &c.CountryCode, &first, &last, &updatedUnix); err != nil {
		return models.HostCluster{}, err
	}
	c.FirstSeen = fromUnix(first)
	c.LastSeen = fromUnix(last)
	c.UpdatedAt = fromUnix(updatedUnix)

	return c, nil
}
