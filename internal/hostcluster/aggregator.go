// Package hostcluster groups servers by network address into operator clusters.
package hostcluster

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/vigil/internal/models"
	"github.com/woozymasta/vigil/internal/retry"
	"github.com/woozymasta/vigil/internal/storage"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence the aggregator needs.
type Store interface {
	RefreshCluster(ctx context.Context, address, country string, activeSince, now time.Time) (models.HostCluster, error)
}

// CountryResolver maps an address to an ISO country code, "" when unknown.
type CountryResolver interface {
	CountryCode(address string) string
}

// Summary counts the outcome of one refresh pass.
type Summary struct {
	Refreshed int
	Failed    int
}

// Aggregator recomputes host clusters for the addresses touched by a cycle.
type Aggregator struct {
	store         Store
	geo           CountryResolver
	retry         retry.Policy
	silenceWindow time.Duration
	workers       int
}

// New creates an aggregator. geo may be nil when no GeoIP database is configured.
func New(store Store, geo CountryResolver, policy retry.Policy, silenceWindow time.Duration, workers int) *Aggregator {
	return &Aggregator{
		store:         store,
		geo:           geo,
		retry:         policy,
		silenceWindow: silenceWindow,
		workers:       max(workers, 1),
	}
}

// Refresh recounts the clusters of the given addresses as of at. Each address is
// its own transaction: one failing address is logged and counted, the rest proceed.
func (a *Aggregator) Refresh(ctx context.Context, addresses []string, at time.Time) Summary {
	addresses = unique(addresses)
	activeSince := at.Add(-a.silenceWindow)

	var refreshed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for _, address := range addresses {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			country := ""
			if a.geo != nil {
				country = a.geo.CountryCode(address)
			}

			err := a.retry.Do(gctx, "refresh cluster", func(ctx context.Context) error {
				_, err := a.store.RefreshCluster(ctx, address, country, activeSince, at)
				return err
			})
			switch {
			case err == nil:
				refreshed.Add(1)
			case errors.Is(err, storage.ErrNotFound):
				// no servers and no cluster yet
			default:
				failed.Add(1)
				log.Warn().Err(err).Str("address", address).Msg("Host cluster refresh skipped")
			}

			return nil
		})
	}
	_ = g.Wait()

	return Summary{Refreshed: int(refreshed.Load()), Failed: int(failed.Load())}
}

func unique(addresses []string) []string {
	out := slices.Clone(addresses)
	slices.Sort(out)

	return slices.Compact(out)
}
