package activity

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/vigil/internal/metrics"
	"github.com/woozymasta/vigil/internal/models"
	"github.com/woozymasta/vigil/internal/retry"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence the analyzer needs.
type Store interface {
	ListSnapshots(ctx context.Context, serverID string, since time.Time) ([]models.Snapshot, error)
	SavePattern(ctx context.Context, p models.ActivityPattern) error
	ServerIDsWithSnapshots(ctx context.Context, since time.Time) ([]string, error)
}

// Service recomputes and caches activity patterns.
type Service struct {
	store   Store
	now     func() time.Time
	retry   retry.Policy
	opts    Options
	history time.Duration
	workers int
}

// NewService creates a pattern service. history bounds the analyzed window, 0 uses
// the full snapshot history.
func NewService(store Store, opts Options, policy retry.Policy, history time.Duration, workers int) *Service {
	return &Service{
		store:   store,
		now:     time.Now,
		retry:   policy,
		opts:    opts,
		history: history,
		workers: max(workers, 1),
	}
}

// SetClock replaces the clock used as the analysis reference time.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) since(at time.Time) time.Time {
	if s.history <= 0 {
		return time.Time{}
	}
	return at.Add(-s.history)
}

func (s *Service) snapshots(ctx context.Context, serverID string, at time.Time) ([]models.Snapshot, error) {
	var snaps []models.Snapshot
	err := s.retry.Do(ctx, "load snapshots", func(ctx context.Context) error {
		var err error
		snaps, err = s.store.ListSnapshots(ctx, serverID, s.since(at))
		return err
	})

	return snaps, err
}

// Recompute analyzes one server and replaces its cached pattern.
func (s *Service) Recompute(ctx context.Context, serverID string) (models.ActivityPattern, error) {
	at := s.now().UTC()

	snaps, err := s.snapshots(ctx, serverID, at)
	if err != nil {
		metrics.PatternRecomputes.WithLabelValues("error").Inc()
		return models.ActivityPattern{}, err
	}

	p := Analyze(serverID, snaps, at, s.opts)
	err = s.retry.Do(ctx, "save pattern", func(ctx context.Context) error {
		return s.store.SavePattern(ctx, p)
	})
	if err != nil {
		metrics.PatternRecomputes.WithLabelValues("error").Inc()
		return models.ActivityPattern{}, err
	}

	result := "computed"
	if p.Suppressed {
		result = "suppressed"
	}
	metrics.PatternRecomputes.WithLabelValues(result).Inc()

	return p, nil
}

// Heatmap returns the weekly grid of one server without touching the cache.
func (s *Service) Heatmap(ctx context.Context, serverID string) ([]models.HeatmapCell, error) {
	snaps, err := s.snapshots(ctx, serverID, s.now().UTC())
	if err != nil {
		return nil, err
	}

	return Heatmap(snaps, s.opts.Location), nil
}

// RecomputeAll refreshes every server with snapshots inside the history window.
// Servers are analyzed in parallel; a failing server is logged and counted.
func (s *Service) RecomputeAll(ctx context.Context) (done, failed int, err error) {
	var ids []string
	err = s.retry.Do(ctx, "list pattern servers", func(ctx context.Context) error {
		var err error
		ids, err = s.store.ServerIDsWithSnapshots(ctx, s.since(s.now().UTC()))
		return err
	})
	if err != nil {
		return 0, 0, err
	}

	var ok, bad atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if _, err := s.Recompute(gctx, id); err != nil {
				bad.Add(1)
				log.Warn().Err(err).Str("server", id).Msg("Pattern recompute failed")
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	log.Info().Int64("computed", ok.Load()).Int64("failed", bad.Load()).Msg("Activity patterns recomputed")

	return int(ok.Load()), int(bad.Load()), ctx.Err()
}
