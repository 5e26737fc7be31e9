// Package tasks runs the one-shot command line modes: file ingestion, archive
// replay and statistics, A2S probing, pattern recompute and fake data.
package tasks

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/vigil/internal/activity"
	"github.com/woozymasta/vigil/internal/archive"
	"github.com/woozymasta/vigil/internal/config"
	"github.com/woozymasta/vigil/internal/fake"
	"github.com/woozymasta/vigil/internal/game"
	"github.com/woozymasta/vigil/internal/ingest"
	"github.com/woozymasta/vigil/internal/storage"
)

// fakeServers is the size of the generated population.
const fakeServers = 40

// Runner holds what the tasks operate on.
type Runner struct {
	Store         *storage.Repository
	Pipeline      *ingest.Pipeline
	Patterns      *activity.Service
	Prober        *game.Prober
	Out           io.Writer
	Now           func() time.Time
	SilenceWindow time.Duration
}

// Run executes the first requested task. It returns false when no task was
// requested and the caller should serve the API instead.
func (r *Runner) Run(ctx context.Context, t config.Tasks) (bool, error) {
	switch {
	case t.ArchiveStats != "":
		return true, r.ArchiveStats(t.ArchiveStats)
	case t.Input != "":
		_, err := r.IngestFile(ctx, t.Input)
		return true, err
	case t.Restore != "":
		return true, r.Restore(ctx, t.Restore)
	case t.Probe:
		_, err := r.Probe(ctx)
		return true, err
	case t.RecomputePatterns:
		_, failed, err := r.Patterns.RecomputeAll(ctx)
		if err == nil && failed > 0 {
			err = fmt.Errorf("%d patterns failed", failed)
		}
		return true, err
	case t.GenerateHours > 0:
		return true, r.GenerateFake(ctx, t.GenerateHours, t.GenerateOut)
	}

	return false, nil
}

// IngestFile ingests one scraper output or backup file as a single cycle. A bare
// observation array is treated as captured now.
func (r *Runner) IngestFile(ctx context.Context, path string) (ingest.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return ingest.Report{}, err
	}
	defer func() { _ = f.Close() }()

	cycle, err := archive.Decode(f, r.Now())
	if err != nil {
		return ingest.Report{}, fmt.Errorf("%s: %w", path, err)
	}

	return r.Pipeline.Run(ctx, cycle.CapturedAt, cycle.Observations)
}

// Restore replays a backup file or directory, one cycle per file in capture order.
// Unreadable files are logged and skipped; replay is additive so it can be resumed.
func (r *Runner) Restore(ctx context.Context, root string) error {
	files, err := archive.Files(root)
	if err != nil {
		return err
	}

	log.Info().Str("path", root).Int("files", len(files)).Msg("Restoring archive")

	var done, failed int
	for _, path := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cycle, err := archive.ReadFile(path)
		if err != nil {
			failed++
			log.Warn().Err(err).Msg("Skipping unreadable backup")
			continue
		}

		if _, err := r.Pipeline.Run(ctx, cycle.CapturedAt, cycle.Observations); err != nil {
			return err
		}
		done++
	}

	log.Info().Int("cycles", done).Int("skipped", failed).Msg("Archive restored")

	return nil
}

// ArchiveStats prints a summary of a backup directory.
func (r *Runner) ArchiveStats(root string) error {
	st, err := archive.Collect(root)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(r.Out, st.String())
	return err
}

// Probe re-queries every active server over A2S and ingests the answers as one cycle.
func (r *Runner) Probe(ctx context.Context) (ingest.Report, error) {
	at := r.Now()

	servers, err := r.Store.ListServers(ctx, storage.ServerFilter{SeenSince: at.Add(-r.SilenceWindow)})
	if err != nil {
		return ingest.Report{}, err
	}
	if len(servers) == 0 {
		log.Info().Msg("No active servers to probe")
		return ingest.Report{}, nil
	}

	log.Info().Int("count", len(servers)).Msg("Probing active servers")
	obs := r.Prober.Probe(ctx, servers)
	log.Info().Int("answered", len(obs)).Int("count", len(servers)).Msg("Probe finished")

	return r.Pipeline.Run(ctx, at, obs)
}

// GenerateFake produces hours of synthetic hourly cycles ending now. With out set
// the cycles are written as backup files, otherwise they go through the pipeline.
func (r *Runner) GenerateFake(ctx context.Context, hours int, out string) error {
	now := r.Now().UTC()
	cycles := fake.Cycles(fake.Options{
		Start:   now.Add(-time.Duration(hours) * time.Hour),
		Hours:   hours,
		Servers: fakeServers,
		Seed:    now.Unix(),
	})

	for _, c := range cycles {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if out != "" {
			if _, err := archive.Write(out, c.CapturedAt, c.Observations); err != nil {
				return err
			}
			continue
		}

		if _, err := r.Pipeline.Run(ctx, c.CapturedAt, c.Observations); err != nil {
			return err
		}
	}

	log.Info().Int("cycles", len(cycles)).Int("servers", fakeServers).Str("out", out).Msg("Fake cycles generated")

	return nil
}
