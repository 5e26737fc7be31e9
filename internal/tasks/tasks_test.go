package tasks

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/vigil/internal/activity"
	"github.com/woozymasta/vigil/internal/archive"
	"github.com/woozymasta/vigil/internal/config"
	"github.com/woozymasta/vigil/internal/game"
	"github.com/woozymasta/vigil/internal/identity"
	"github.com/woozymasta/vigil/internal/ingest"
	"github.com/woozymasta/vigil/internal/models"
	"github.com/woozymasta/vigil/internal/retry"
	"github.com/woozymasta/vigil/internal/storage"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newRunner(t *testing.T, query game.QueryFunc) (*Runner, *bytes.Buffer) {
	t.Helper()

	repo, err := storage.New(filepath.Join(t.TempDir(), "vigil.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	policy := retry.Policy{Attempts: 1}
	patterns := activity.NewService(repo, activity.DefaultOptions(), policy, 0, 2)
	patterns.SetClock(func() time.Time { return now })

	out := &bytes.Buffer{}
	return &Runner{
		Store:         repo,
		Pipeline:      ingest.New(repo, identity.New(repo, identity.DefaultOptions()), nil, nil, policy, 2),
		Patterns:      patterns,
		Prober:        game.NewProber(query, 2),
		Out:           out,
		Now:           func() time.Time { return now },
		SilenceWindow: 48 * time.Hour,
	}, out
}

func TestRunWithoutTask(t *testing.T) {
	r, _ := newRunner(t, nil)

	ran, err := r.Run(context.Background(), config.Tasks{})
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestIngestFile(t *testing.T) {
	r, _ := newRunner(t, nil)

	path := filepath.Join(t.TempDir(), "scrape.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"ip_address": "10.0.0.1", "port": 10308, "server_name": "Alpha", "players_current": 3, "players_max": 16},
		{"ip_address": "", "server_name": "broken"}
	]`), 0o600))

	rep, err := r.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, now, rep.CapturedAt, "bare arrays are captured now")
	assert.Equal(t, 1, rep.Recorded)
	assert.Equal(t, 1, rep.Malformed)
}

func TestRestoreAndStats(t *testing.T) {
	r, out := newRunner(t, nil)
	ctx := context.Background()
	root := t.TempDir()

	alpha := models.Observation{Address: "10.0.0.1", Port: 10308, Name: "Alpha", PlayersCurrent: 5, PlayersMax: 16}
	for h := range 3 {
		_, err := archive.Write(root, now.Add(time.Duration(h-3)*time.Hour), []models.Observation{alpha})
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "garbage.json"), []byte("nope"), 0o600))

	ran, err := r.Run(ctx, config.Tasks{Restore: root})
	require.NoError(t, err)
	assert.True(t, ran)

	server, err := r.Store.GetServer(ctx, models.ServerID("10.0.0.1", 10308))
	require.NoError(t, err)
	assert.Equal(t, now.Add(-3*time.Hour), server.FirstSeen)
	assert.Equal(t, now.Add(-time.Hour), server.LastSeen)

	snaps, err := r.Store.ListSnapshots(ctx, server.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, snaps, 3)

	// Replaying the same archive adds nothing.
	require.NoError(t, r.Restore(ctx, root))
	snaps, err = r.Store.ListSnapshots(ctx, server.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, snaps, 3)

	require.NoError(t, r.ArchiveStats(root))
	assert.Contains(t, out.String(), "4 files")
}

func TestProbe(t *testing.T) {
	query := func(ip string, _ int) (game.Info, error) {
		return game.Info{Name: "Alpha live", Map: "Foothold_Syria.miz", Players: 12, MaxPlayers: 16}, nil
	}
	r, _ := newRunner(t, query)
	ctx := context.Background()

	_, err := r.Pipeline.Run(ctx, now.Add(-time.Hour), []models.Observation{
		{Address: "10.0.0.1", Port: 10308, Name: "Alpha", Terrain: "Syria", PlayersMax: 16},
	})
	require.NoError(t, err)

	rep, err := r.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Recorded)

	server, err := r.Store.GetServer(ctx, models.ServerID("10.0.0.1", 10308))
	require.NoError(t, err)
	assert.Equal(t, "Alpha live", server.DisplayName)
	assert.Equal(t, 12, server.PlayersCurrent)
	assert.Equal(t, "Syria", server.Terrain)
	assert.Equal(t, now, server.LastSeen)
}

func TestGenerateFake(t *testing.T) {
	r, _ := newRunner(t, nil)
	ctx := context.Background()

	out := t.TempDir()
	require.NoError(t, r.GenerateFake(ctx, 6, out))
	files, err := archive.Files(out)
	require.NoError(t, err)
	assert.Len(t, files, 6)

	require.NoError(t, r.GenerateFake(ctx, 6, ""))
	servers, err := r.Store.ListServers(ctx, storage.ServerFilter{})
	require.NoError(t, err)
	assert.Len(t, servers, fakeServers)

	ran, err := r.Run(ctx, config.Tasks{RecomputePatterns: true})
	require.NoError(t, err)
	assert.True(t, ran)

	p, err := r.Store.GetPattern(ctx, servers[0].ID)
	require.NoError(t, err)
	assert.True(t, p.Suppressed, "six hours are not enough history")
}
