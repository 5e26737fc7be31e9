package activity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/vigil/internal/models"
	"github.com/woozymasta/vigil/internal/retry"
	"github.com/woozymasta/vigil/internal/storage"
)

func TestServiceRecompute(t *testing.T) {
	ctx := context.Background()
	repo, err := storage.New(filepath.Join(t.TempDir(), "vigil.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	ids := make([]string, 0, 2)
	for _, addr := range []string{"10.0.0.1", "10.0.0.2"} {
		s, err := repo.UpsertServer(ctx, models.Server{
			Address: addr, Port: 10308, DisplayName: addr, NormalizedName: addr, Fingerprint: addr, LastSeen: monday,
		})
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	spike := hourly(2, func(_, day, hour int) int {
		if day == 2 && hour >= 19 && hour <= 21 {
			return 50
		}
		return 0
	})
	for _, snap := range spike {
		snap.ServerID = ids[0]
		_, err := repo.RecordSnapshot(ctx, snap)
		require.NoError(t, err)
	}
	for _, snap := range spike[:5] {
		snap.ServerID = ids[1]
		_, err := repo.RecordSnapshot(ctx, snap)
		require.NoError(t, err)
	}

	svc := NewService(repo, DefaultOptions(), retry.Policy{Attempts: 1}, 0, 2)
	svc.now = func() time.Time { return monday.Add(14 * 24 * time.Hour) }

	p, err := svc.Recompute(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, p.TrainingMode)

	stored, err := repo.GetPattern(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, p, stored)

	done, failed, err := svc.RecomputeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, done)
	assert.Zero(t, failed)

	short, err := repo.GetPattern(ctx, ids[1])
	require.NoError(t, err)
	assert.True(t, short.Suppressed)

	cells, err := svc.Heatmap(ctx, ids[0])
	require.NoError(t, err)
	assert.Len(t, cells, hoursPerWeek)
}
