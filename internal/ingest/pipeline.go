// Package ingest runs one ingestion cycle: per-server identity and snapshot work in a
// bounded pool, then host clusters and the daily summary once every server has settled.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/vigil/internal/daily"
	"github.com/woozymasta/vigil/internal/fingerprint"
	"github.com/woozymasta/vigil/internal/hostcluster"
	"github.com/woozymasta/vigil/internal/identity"
	"github.com/woozymasta/vigil/internal/metrics"
	"github.com/woozymasta/vigil/internal/models"
	"github.com/woozymasta/vigil/internal/retry"
	"github.com/woozymasta/vigil/internal/storage"
	"golang.org/x/sync/errgroup"
)

// ErrMalformedObservation marks input that can never be ingested.
var ErrMalformedObservation = errors.New("malformed observation")

// SnapshotStore records per-cycle snapshots.
type SnapshotStore interface {
	RecordSnapshot(ctx context.Context, s models.Snapshot) (bool, error)
}

// Report summarizes one cycle.
type Report struct {
	CapturedAt time.Time
	Daily      *models.DailyStat
	Duration   time.Duration
	Clusters   hostcluster.Summary
	Total      int
	Recorded   int
	Duplicates int
	Malformed  int
	Skipped    int
	Created    int
	Lineage    int
}

// Pipeline wires the per-cycle components together.
type Pipeline struct {
	snapshots SnapshotStore
	resolver  *identity.Resolver
	clusters  *hostcluster.Aggregator
	daily     *daily.Aggregator
	retry     retry.Policy
	workers   int
}

// New creates a pipeline running at most workers servers at a time.
func New(snapshots SnapshotStore, resolver *identity.Resolver, clusters *hostcluster.Aggregator,
	daily *daily.Aggregator, policy retry.Policy, workers int,
) *Pipeline {
	return &Pipeline{
		snapshots: snapshots,
		resolver:  resolver,
		clusters:  clusters,
		daily:     daily,
		retry:     policy,
		workers:   max(workers, 1),
	}
}

// Validate normalizes an observation in place and rejects it when it has no usable
// endpoint. A missing port defaults to models.DefaultPort.
func Validate(obs *models.Observation) error {
	obs.Address = strings.TrimSpace(obs.Address)
	obs.Name = strings.TrimSpace(obs.Name)

	if obs.Address == "" {
		return fmt.Errorf("%w: missing address", ErrMalformedObservation)
	}
	// A colon is only legal inside an IPv6 literal, never as host:port.
	if strings.ContainsAny(obs.Address, " \t/") ||
		(strings.Contains(obs.Address, ":") && net.ParseIP(obs.Address) == nil) {
		return fmt.Errorf("%w: invalid address %q", ErrMalformedObservation, obs.Address)
	}
	if obs.Port == 0 {
		obs.Port = models.DefaultPort
	}
	if obs.Port < 0 || obs.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrMalformedObservation, obs.Port)
	}
	if obs.PlayersCurrent < 0 || obs.PlayersMax < 0 {
		return fmt.Errorf("%w: negative player count", ErrMalformedObservation)
	}

	return nil
}

type outcome struct {
	address string
	created bool
	lineage bool
	fresh   bool
}

// Run ingests the observations of one capture. Every server is an isolated unit:
// malformed input is dropped, transient failures are retried and then skipped.
// Cancelling ctx stops scheduling new servers; work already committed stays.
// Clusters and the daily summary run only after every scheduled server is done.
func (p *Pipeline) Run(ctx context.Context, at time.Time, observations []models.Observation) (Report, error) {
	start := time.Now()
	at = at.UTC().Truncate(time.Second)
	rep := Report{CapturedAt: at, Total: len(observations)}

	var (
		mu        sync.Mutex
		addresses []string
		repeated  int
		seen      = make(map[string]struct{}, len(observations))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i := range observations {
		if gctx.Err() != nil {
			break
		}

		obs := observations[i]
		if err := Validate(&obs); err != nil {
			rep.Malformed++
			metrics.ObservationsTotal.WithLabelValues(metrics.OutcomeMalformed).Inc()
			log.Warn().Err(err).Int("index", i).Str("name", obs.Name).Msg("Observation rejected")
			continue
		}

		// Two rows for one endpoint in a single capture: the first one wins.
		key := fmt.Sprintf("%s:%d", obs.Address, obs.Port)
		if _, dup := seen[key]; dup {
			repeated++
			metrics.ObservationsTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()
			continue
		}
		seen[key] = struct{}{}

		g.Go(func() error {
			out, err := p.process(gctx, obs, at)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				rep.Skipped++
				metrics.ObservationsTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
				log.Warn().Err(err).Str("address", obs.Address).Int("port", obs.Port).Msg("Server skipped this cycle")
				return nil
			}

			addresses = append(addresses, out.address)
			if out.created {
				rep.Created++
			}
			if out.lineage {
				rep.Lineage++
			}
			if out.fresh {
				rep.Recorded++
				metrics.ObservationsTotal.WithLabelValues(metrics.OutcomeRecorded).Inc()
			} else {
				rep.Duplicates++
				metrics.ObservationsTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()
			}
			return nil
		})
	}
	_ = g.Wait()
	rep.Duplicates += repeated

	if err := ctx.Err(); err != nil {
		rep.Duration = time.Since(start)
		metrics.CyclesTotal.WithLabelValues("cancelled").Inc()
		return rep, fmt.Errorf("cycle %s interrupted: %w", at.Format(time.RFC3339), err)
	}

	if p.clusters != nil {
		rep.Clusters = p.clusters.Refresh(ctx, addresses, at)
	}

	if p.daily != nil {
		stat, err := p.daily.Run(ctx, at)
		switch {
		case err == nil:
			rep.Daily = &stat
		case errors.Is(err, storage.ErrPastDay):
			log.Debug().Time("captured_at", at).Msg("Daily summary of a closed day left untouched")
		default:
			log.Error().Err(err).Time("captured_at", at).Msg("Daily summary failed")
		}
	}

	rep.Duration = time.Since(start)
	metrics.CyclesTotal.WithLabelValues("completed").Inc()
	metrics.CycleDuration.Observe(rep.Duration.Seconds())

	log.Info().
		Time("captured_at", at).
		Int("total", rep.Total).
		Int("recorded", rep.Recorded).
		Int("duplicates", rep.Duplicates).
		Int("malformed", rep.Malformed).
		Int("skipped", rep.Skipped).
		Int("created", rep.Created).
		Int("lineage", rep.Lineage).
		Int("clusters", rep.Clusters.Refreshed).
		Dur("took", rep.Duration).
		Msg("Ingestion cycle finished")

	return rep, nil
}

// process resolves identity and records the snapshot of one server. Both steps are
// idempotent for a given capture time, so a retry after a partial failure is safe.
func (p *Pipeline) process(ctx context.Context, obs models.Observation, at time.Time) (outcome, error) {
	var res identity.Result
	err := p.retry.Do(ctx, "resolve server", func(ctx context.Context) error {
		var err error
		res, err = p.resolver.Resolve(ctx, obs, at)
		return err
	})
	if err != nil {
		return outcome{}, err
	}

	if res.EdgeCreated {
		metrics.LineageProposals.WithLabelValues(string(res.Edge.MatchType), string(res.Edge.Status)).Inc()
	}

	snap := models.Snapshot{
		ServerID:       res.Server.ID,
		CapturedAt:     at,
		PlayersCurrent: obs.PlayersCurrent,
		PlayersMax:     obs.PlayersMax,
		Online:         true,
		Mission:        obs.Mission,
		ContentHash:    fingerprint.Content(obs.Name, obs.Mission, obs.Description),
	}

	var fresh bool
	err = p.retry.Do(ctx, "record snapshot", func(ctx context.Context) error {
		var err error
		fresh, err = p.snapshots.RecordSnapshot(ctx, snap)
		return err
	})
	if err != nil {
		return outcome{}, err
	}

	log.Debug().
		Str("server", res.Server.ID).
		Str("address", obs.Address).
		Int("port", obs.Port).
		Int("players", obs.PlayersCurrent).
		Bool("created", res.Created).
		Msg("Server ingested")

	return outcome{
		address: obs.Address,
		created: res.Created,
		lineage: res.Edge != nil,
		fresh:   fresh,
	}, nil
}
