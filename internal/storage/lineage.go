package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/woozymasta/vigil/internal/models"
)

var (
	// ErrCandidateActive is returned when a lineage candidate was seen again
	// before the proposal could be written.
	ErrCandidateActive = errors.New("lineage candidate is no longer stale")

	// ErrSuccessorConfirmed is returned when confirming an edge whose previous
	// server already has a different confirmed successor.
	ErrSuccessorConfirmed = errors.New("previous server already has a confirmed successor")
)

const lineageColumns = `id, current_server_id, previous_server_id, match_type, similarity_score,
	status, note, created_at, updated_at, decided_at`

// LineageFilter narrows ListLineage. Zero values disable a condition.
type LineageFilter struct {
	Status   models.LineageStatus
	ServerID string
	Limit    int
}

// ProposeLineage records a lineage edge atomically. Inside one transaction it
// re-checks that the previous server is still stale (last_seen before staleBefore),
// returns the existing edge untouched when the pair is already linked, and
// downgrades a confirmed proposal to pending_review when the previous server
// already has a confirmed successor. The flag reports whether a row was created.
func (r *Repository) ProposeLineage(ctx context.Context, e models.LineageEdge, staleBefore time.Time) (models.LineageEdge, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.LineageEdge{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var lastSeen int64
	err = tx.QueryRowContext(ctx, `SELECT last_seen FROM servers WHERE id = ?`, e.PrevServerID).Scan(&lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LineageEdge{}, false, ErrNotFound
	}
	if err != nil {
		return models.LineageEdge{}, false, fmt.Errorf("recheck candidate: %w", err)
	}
	if lastSeen >= unix(staleBefore) {
		return models.LineageEdge{}, false, ErrCandidateActive
	}

	existing, err := scanLineage(tx.QueryRowContext(ctx,
		`SELECT `+lineageColumns+` FROM lineage_edges WHERE current_server_id = ? AND previous_server_id = ?`,
		e.CurrentServerID, e.PrevServerID,
	))
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return models.LineageEdge{}, false, fmt.Errorf("lookup lineage pair: %w", err)
	}

	if e.Status == models.LineageConfirmed {
		taken, err := hasConfirmedSuccessor(ctx, tx, e.PrevServerID, 0)
		if err != nil {
			return models.LineageEdge{}, false, err
		}
		if taken {
			e.Status = models.LineagePendingReview
			e.Note = "previous server already has a confirmed successor"
		}
	}

	now := unix(e.CreatedAt)
	created, err := scanLineage(tx.QueryRowContext(ctx, `
		INSERT INTO lineage_edges (current_server_id, previous_server_id, match_type, similarity_score,
			status, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+lineageColumns,
		e.CurrentServerID, e.PrevServerID, string(e.MatchType), e.Similarity,
		string(e.Status), e.Note, now, now,
	))
	if err != nil {
		return models.LineageEdge{}, false, fmt.Errorf("insert lineage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.LineageEdge{}, false, err
	}

	return created, true, nil
}

// DecideLineage applies a reviewer decision. Only confirmed and rejected are accepted;
// confirming fails with ErrSuccessorConfirmed if another edge already claims the same
// previous server.
func (r *Repository) DecideLineage(ctx context.Context, id int64, status models.LineageStatus, note string, at time.Time) (models.LineageEdge, error) {
	if status != models.LineageConfirmed && status != models.LineageRejected {
		return models.LineageEdge{}, ErrInvalidStatus
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.LineageEdge{}, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanLineage(tx.QueryRowContext(ctx, `SELECT `+lineageColumns+` FROM lineage_edges WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.LineageEdge{}, ErrNotFound
	}
	if err != nil {
		return models.LineageEdge{}, err
	}

	if status == models.LineageConfirmed {
		taken, err := hasConfirmedSuccessor(ctx, tx, current.PrevServerID, id)
		if err != nil {
			return models.LineageEdge{}, err
		}
		if taken {
			return models.LineageEdge{}, ErrSuccessorConfirmed
		}
	}

	if note == "" {
		note = current.Note
	}

	decided, err := scanLineage(tx.QueryRowContext(ctx, `
		UPDATE lineage_edges SET status = ?, note = ?, updated_at = ?, decided_at = ?
		WHERE id = ?
		RETURNING `+lineageColumns,
		string(status), note, unix(at), unix(at), id,
	))
	if err != nil {
		return models.LineageEdge{}, fmt.Errorf("decide lineage %d: %w", id, err)
	}

	return decided, tx.Commit()
}

// GetLineage retrieves one edge by id.
func (r *Repository) GetLineage(ctx context.Context, id int64) (models.LineageEdge, error) {
	e, err := scanLineage(r.db.QueryRowContext(ctx, `SELECT `+lineageColumns+` FROM lineage_edges WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.LineageEdge{}, ErrNotFound
	}

	return e, err
}

// ListLineage returns edges newest first. ServerID matches either side of an edge.
func (r *Repository) ListLineage(ctx context.Context, f LineageFilter) ([]models.LineageEdge, error) {
	query := `SELECT ` + lineageColumns + ` FROM lineage_edges WHERE 1=1`
	var args []any

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.ServerID != "" {
		query += ` AND (current_server_id = ? OR previous_server_id = ?)`
		args = append(args, f.ServerID, f.ServerID)
	}

	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var edges []models.LineageEdge
	for rows.Next() {
		e, err := scanLineage(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}

	return edges, rows.Err()
}

func hasConfirmedSuccessor(ctx context.Context, tx *sql.Tx, previousID string, exceptID int64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM lineage_edges
		WHERE previous_server_id = ? AND status = ? AND id != ?
	`, previousID, string(models.LineageConfirmed), exceptID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check confirmed successor: %w", err)
	}

	return n > 0, nil
}

func scanLineage(row rowScanner) (models.LineageEdge, error) {
	var (
		e                 models.LineageEdge
		matchType, status string
		created, updated  int64
		decided           sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.CurrentServerID, &e.PrevServerID, &matchType, &e.Similarity,
		&status, &e.Note, &created, &updated, &decided)
	if err != nil {
		return models.LineageEdge{}, err
	}

	e.MatchType = models.MatchType(matchType)
	e.Status = models.LineageStatus(status)
	e.CreatedAt = fromUnix(created)
	e.UpdatedAt = fromUnix(updated)
	if decided.Valid {
		t := fromUnix(decided.Int64)
		e.DecidedAt = &t
	}

	return e, nil
}
