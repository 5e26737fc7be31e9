package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/vigil/internal/models"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	repo, err := New(filepath.Join(t.TempDir(), "vigil.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

func seedServer(t *testing.T, repo *Repository, address string, port int, name string, seen time.Time) models.Server {
	t.Helper()

	s, err := repo.UpsertServer(context.Background(), models.Server{
		Address:        address,
		Port:           port,
		DisplayName:    name,
		NormalizedName: name,
		Fingerprint:    name,
		LastSeen:       seen,
	})
	require.NoError(t, err)

	return s
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vigil.db")

	repo, err := New(path)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = New(path)
	require.NoError(t, err)
	require.NoError(t, repo.Close())
}

func TestUpsertServer(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	created := seedServer(t, repo, "10.0.0.1", 10308, "alpha", t0)
	assert.Equal(t, models.ServerID("10.0.0.1", 10308), created.ID)
	assert.True(t, created.FirstSeen.Equal(t0))
	assert.True(t, created.LastSeen.Equal(t0))

	t.Run("newer observation overwrites", func(t *testing.T) {
		s, err := repo.UpsertServer(ctx, models.Server{
			Address: "10.0.0.1", Port: 10308, DisplayName: "alpha v2", NormalizedName: "alpha v2",
			Fingerprint: "f2", PlayersCurrent: 7, Terrain: "Caucasus", LastSeen: t0.Add(time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, created.ID, s.ID)
		assert.Equal(t, "alpha v2", s.DisplayName)
		assert.Equal(t, 7, s.PlayersCurrent)
		assert.Equal(t, "Caucasus", s.Terrain)
		assert.True(t, s.FirstSeen.Equal(t0))
		assert.True(t, s.LastSeen.Equal(t0.Add(time.Hour)))
	})

	t.Run("older observation only widens first_seen", func(t *testing.T) {
		s, err := repo.UpsertServer(ctx, models.Server{
			Address: "10.0.0.1", Port: 10308, DisplayName: "ancient", NormalizedName: "ancient",
			Fingerprint: "f0", Terrain: "Syria", LastSeen: t0.Add(-24 * time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, "alpha v2", s.DisplayName)
		assert.Equal(t, "Caucasus", s.Terrain)
		assert.True(t, s.FirstSeen.Equal(t0.Add(-24*time.Hour)))
		assert.True(t, s.LastSeen.Equal(t0.Add(time.Hour)))
	})

	t.Run("blank enrichment keeps stored value", func(t *testing.T) {
		s, err := repo.UpsertServer(ctx, models.Server{
			Address: "10.0.0.1", Port: 10308, DisplayName: "alpha v2", NormalizedName: "alpha v2",
			Fingerprint: "f2", LastSeen: t0.Add(2 * time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, "Caucasus", s.Terrain)
	})

	_, err := repo.GetServer(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	byEndpoint, err := repo.GetServerByEndpoint(ctx, "10.0.0.1", 10308)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEndpoint.ID)
}

func TestRecordSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	s := seedServer(t, repo, "10.0.0.1", 10308, "alpha", t0)

	snap := models.Snapshot{ServerID: s.ID, CapturedAt: t0.Add(time.Hour), PlayersCurrent: 5, PlayersMax: 20, Online: true}

	inserted, err := repo.RecordSnapshot(ctx, snap)
	require.NoError(t, err)
	assert.True(t, inserted)

	snap.PlayersCurrent = 99
	inserted, err = repo.RecordSnapshot(ctx, snap)
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate capture must be a no-op")

	snaps, err := repo.ListSnapshots(ctx, s.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 5, snaps[0].PlayersCurrent)
	assert.True(t, snaps[0].Online)

	stored, err := repo.GetServer(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, stored.LastSeen.Equal(t0.Add(time.Hour)))

	// An older snapshot never rewinds last_seen.
	_, err = repo.RecordSnapshot(ctx, models.Snapshot{ServerID: s.ID, CapturedAt: t0.Add(-time.Hour)})
	require.NoError(t, err)
	stored, err = repo.GetServer(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, stored.LastSeen.Equal(t0.Add(time.Hour)))
}

func TestPeakConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	a := seedServer(t, repo, "10.0.0.1", 10308, "a", t0)
	b := seedServer(t, repo, "10.0.0.2", 10308, "b", t0)

	for _, s := range []models.Snapshot{
		{ServerID: a.ID, CapturedAt: t0, PlayersCurrent: 3},
		{ServerID: b.ID, CapturedAt: t0, PlayersCurrent: 4},
		{ServerID: a.ID, CapturedAt: t0.Add(time.Hour), PlayersCurrent: 10},
		{ServerID: b.ID, CapturedAt: t0.Add(time.Hour), PlayersCurrent: 1},
	} {
		_, err := repo.RecordSnapshot(ctx, s)
		require.NoError(t, err)
	}

	peak, err := repo.PeakConcurrent(ctx, t0, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 11, peak)

	cycle, err := repo.SnapshotsAt(ctx, t0)
	require.NoError(t, err)
	assert.Len(t, cycle, 2)
}

func TestStaleServers(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	fresh := seedServer(t, repo, "10.0.0.1", 10308, "fresh", t0.Add(-time.Hour))
	stale := seedServer(t, repo, "10.0.0.2", 10308, "stale", t0.Add(-72*time.Hour))
	seedServer(t, repo, "10.0.0.3", 10308, "ancient", t0.Add(-60*24*time.Hour))

	pool, err := repo.StaleServers(ctx, t0.Add(-48*time.Hour), t0.Add(-30*24*time.Hour), fresh.ID)
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, stale.ID, pool[0].ID)
}

func TestRefreshCluster(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	seedServer(t, repo, "10.0.0.1", 10308, "one", t0)
	seedServer(t, repo, "10.0.0.1", 10309, "two", t0.Add(-72*time.Hour))
	seedServer(t, repo, "10.0.0.1", 10310, "three", t0.Add(-time.Hour))

	c, err := repo.RefreshCluster(ctx, "10.0.0.1", "DE", t0.Add(-48*time.Hour), t0)
	require.NoError(t, err)
	assert.Equal(t, 3, c.MemberCount)
	assert.Equal(t, 2, c.ActiveMembers)
	assert.Equal(t, "DE", c.CountryCode)
	assert.True(t, c.FirstSeen.Equal(t0.Add(-72*time.Hour)))

	again, err := repo.RefreshCluster(ctx, "10.0.0.1", "", t0.Add(-48*time.Hour), t0)
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, "DE", again.CountryCode, "blank country keeps the stored one")

	servers, err := repo.ListServers(ctx, ServerFilter{Address: "10.0.0.1"})
	require.NoError(t, err)
	for _, s := range servers {
		assert.Equal(t, c.ID, s.HostClusterID)
	}

	_, err = repo.RefreshCluster(ctx, "192.0.2.1", "", t0, t0)
	assert.ErrorIs(t, err, ErrNotFound)

	clusters, err := repo.ListClusters(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
}

func TestProposeLineage(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	prev := seedServer(t, repo, "10.0.0.1", 10308, "prev", t0.Add(-72*time.Hour))
	cur := seedServer(t, repo, "10.0.0.2", 10308, "cur", t0)
	other := seedServer(t, repo, "10.0.0.3", 10308, "other", t0)
	staleBefore := t0.Add(-48 * time.Hour)

	edge := models.LineageEdge{
		CurrentServerID: cur.ID, PrevServerID: prev.ID,
		MatchType: models.MatchExactName, Similarity: 1, Status: models.LineageConfirmed, CreatedAt: t0,
	}

	first, created, err := repo.ProposeLineage(ctx, edge, staleBefore)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.LineageConfirmed, first.Status)

	t.Run("same pair returns existing edge", func(t *testing.T) {
		again, created, err := repo.ProposeLineage(ctx, edge, staleBefore)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)
	})

	t.Run("second confirmed successor is downgraded", func(t *testing.T) {
		e := edge
		e.CurrentServerID = other.ID
		second, created, err := repo.ProposeLineage(ctx, e, staleBefore)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, models.LineagePendingReview, second.Status)
		assert.NotEmpty(t, second.Note)
	})

	t.Run("candidate that reappeared is refused", func(t *testing.T) {
		e := edge
		e.PrevServerID = other.ID
		e.CurrentServerID = cur.ID
		_, _, err := repo.ProposeLineage(ctx, e, staleBefore)
		assert.ErrorIs(t, err, ErrCandidateActive)
	})

	pending, err := repo.ListLineage(ctx, LineageFilter{Status: models.LineagePendingReview})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	both, err := repo.ListLineage(ctx, LineageFilter{ServerID: prev.ID})
	require.NoError(t, err)
	assert.Len(t, both, 2)
}

func TestDecideLineage(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	prev := seedServer(t, repo, "10.0.0.1", 10308, "prev", t0.Add(-72*time.Hour))
	a := seedServer(t, repo, "10.0.0.2", 10308, "a", t0)
	b := seedServer(t, repo, "10.0.0.3", 10308, "b", t0)
	staleBefore := t0.Add(-48 * time.Hour)

	ea, _, err := repo.ProposeLineage(ctx, models.LineageEdge{
		CurrentServerID: a.ID, PrevServerID: prev.ID, MatchType: models.MatchFuzzyName,
		Similarity: 0.7, Status: models.LineagePendingReview, CreatedAt: t0,
	}, staleBefore)
	require.NoError(t, err)
	eb, _, err := repo.ProposeLineage(ctx, models.LineageEdge{
		CurrentServerID: b.ID, PrevServerID: prev.ID, MatchType: models.MatchFuzzyName,
		Similarity: 0.6, Status: models.LineagePendingReview, CreatedAt: t0,
	}, staleBefore)
	require.NoError(t, err)

	_, err = repo.DecideLineage(ctx, ea.ID, models.LineagePendingReview, "", t0)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = repo.DecideLineage(ctx, 9999, models.LineageConfirmed, "", t0)
	assert.ErrorIs(t, err, ErrNotFound)

	decided, err := repo.DecideLineage(ctx, ea.ID, models.LineageConfirmed, "same discord", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.LineageConfirmed, decided.Status)
	assert.Equal(t, "same discord", decided.Note)
	require.NotNil(t, decided.DecidedAt)

	_, err = repo.DecideLineage(ctx, eb.ID, models.LineageConfirmed, "", t0)
	assert.ErrorIs(t, err, ErrSuccessorConfirmed)

	rejected, err := repo.DecideLineage(ctx, eb.ID, models.LineageRejected, "", t0)
	require.NoError(t, err)
	assert.Equal(t, models.LineageRejected, rejected.Status)

	// Decisions never touch server rows.
	stored, err := repo.GetServer(ctx, prev.ID)
	require.NoError(t, err)
	assert.Equal(t, prev, stored)
}

func TestUpsertDailyStat(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	stat := models.DailyStat{
		Date: "2025-03-10", CapturedAt: t0, TotalServers: 10, ActiveServers: 4,
		FrameworkCounts: map[string]int{"foothold": 2},
	}

	changed, err := repo.UpsertDailyStat(ctx, stat, "2025-03-10")
	require.NoError(t, err)
	assert.True(t, changed)

	stat.TotalServers = 12
	_, err = repo.UpsertDailyStat(ctx, stat, "2025-03-10")
	require.NoError(t, err)

	got, err := repo.GetDailyStat(ctx, "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, 12, got.TotalServers)
	assert.Equal(t, map[string]int{"foothold": 2}, got.FrameworkCounts)
	assert.Empty(t, got.CountryCounts)

	stat.TotalServers = 1
	_, err = repo.UpsertDailyStat(ctx, stat, "2025-03-11")
	assert.ErrorIs(t, err, ErrPastDay)

	got, err = repo.GetDailyStat(ctx, "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, 12, got.TotalServers)

	// A later capture of a closed day still advances it.
	stat.CapturedAt = t0.Add(time.Hour)
	stat.TotalServers = 15
	changed, err = repo.UpsertDailyStat(ctx, stat, "2025-03-11")
	require.NoError(t, err)
	assert.True(t, changed)

	got, err = repo.GetDailyStat(ctx, "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, 15, got.TotalServers)

	list, err := repo.ListDailyStats(ctx, "2025-03-01", "")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPatternRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	s := seedServer(t, repo, "10.0.0.1", 10308, "alpha", t0)

	_, err := repo.GetPattern(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	p := models.ActivityPattern{
		ServerID: s.ID, ComputedAt: t0, PeakDay: 2, PeakHour: 20, PeakAvg: 55,
		PeakWindowAvg: 30.2, TrainingScore: 60.4, ActiveHours: 3, Samples: 336, DistinctDays: 14, TrainingMode: true,
	}
	require.NoError(t, repo.SavePattern(ctx, p))

	p.ActiveHours = 4
	require.NoError(t, repo.SavePattern(ctx, p))

	got, err := repo.GetPattern(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}
