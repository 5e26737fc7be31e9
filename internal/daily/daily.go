// Package daily maintains the one-row-per-day ecosystem summary.
package daily

import (
	"context"
	"fmt"
	"time"

	"github.com/woozymasta/vigil/internal/models"
	"github.com/woozymasta/vigil/internal/retry"
	"github.com/woozymasta/vigil/internal/storage"
)

// Store is the persistence the aggregator needs.
type Store interface {
	ListServers(ctx context.Context, f storage.ServerFilter) ([]models.Server, error)
	SnapshotsAt(ctx context.Context, capturedAt time.Time) ([]models.Snapshot, error)
	PeakConcurrent(ctx context.Context, from, to time.Time) (int, error)
	UpsertDailyStat(ctx context.Context, s models.DailyStat, today string) (bool, error)
}

// CountryResolver maps an address to an ISO country code, "" when unknown.
type CountryResolver interface {
	CountryCode(address string) string
}

// Aggregator produces the summary of the day a cycle belongs to.
type Aggregator struct {
	store         Store
	geo           CountryResolver
	now           func() time.Time
	retry         retry.Policy
	silenceWindow time.Duration
}

// New creates an aggregator. geo may be nil; the country map then stays empty.
func New(store Store, geo CountryResolver, policy retry.Policy, silenceWindow time.Duration) *Aggregator {
	return &Aggregator{
		store:         store,
		geo:           geo,
		now:           time.Now,
		retry:         policy,
		silenceWindow: silenceWindow,
	}
}

// SetClock replaces the clock deciding which day is still open.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// Run summarizes the cycle captured at at and writes it as the row of its UTC date.
// Re-running for today replaces the row. A past day is replaced only by a later
// capture of that day, so replayed archives fill it cycle by cycle; otherwise
// storage.ErrPastDay is returned and the row is left untouched. The population is
// the servers already known at at, so replays over a live database ignore newcomers.
func (a *Aggregator) Run(ctx context.Context, at time.Time) (models.DailyStat, error) {
	at = at.UTC()
	dayStart := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)

	var (
		population []models.Server
		cycle      []models.Snapshot
		peak       int
	)
	err := a.retry.Do(ctx, "load daily inputs", func(ctx context.Context) error {
		var err error
		if population, err = a.store.ListServers(ctx, storage.ServerFilter{
			SeenSince:   at.Add(-a.silenceWindow),
			FirstSeenBy: at,
		}); err != nil {
			return fmt.Errorf("population: %w", err)
		}
		if cycle, err = a.store.SnapshotsAt(ctx, at); err != nil {
			return fmt.Errorf("cycle snapshots: %w", err)
		}
		if peak, err = a.store.PeakConcurrent(ctx, dayStart, dayStart.AddDate(0, 0, 1)); err != nil {
			return fmt.Errorf("peak concurrent: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.DailyStat{}, err
	}

	stat := Summarize(population, cycle, a.country)
	stat.Date = dayStart.Format(time.DateOnly)
	stat.CapturedAt = at
	stat.PeakConcurrent = max(peak, stat.TotalPlayers)

	today := a.now().UTC().Format(time.DateOnly)
	err = a.retry.Do(ctx, "upsert daily stat", func(ctx context.Context) error {
		_, err := a.store.UpsertDailyStat(ctx, stat, today)
		return err
	})
	if err != nil {
		return stat, err
	}

	return stat, nil
}

func (a *Aggregator) country(address string) string {
	if a.geo == nil {
		return ""
	}
	return a.geo.CountryCode(address)
}

// Summarize computes every field except the date, capture time and day peak.
// Session counts come from the cycle's snapshots; infrastructure counts and
// distributions come from the current server population.
func Summarize(population []models.Server, cycle []models.Snapshot, country func(string) string) models.DailyStat {
	s := models.DailyStat{
		TotalServers:    len(population),
		FrameworkCounts: make(map[string]int),
		TerrainCounts:   make(map[string]int),
		CountryCounts:   make(map[string]int),
	}

	for _, snap := range cycle {
		s.TotalPlayers += snap.PlayersCurrent
		switch {
		case snap.PlayersCurrent == 1:
			s.ActiveServers++
			s.SoloSessions++
		case snap.PlayersCurrent > 1:
			s.ActiveServers++
			s.MultiplayerSessions++
		}
	}

	hosts := make(map[string]struct{}, len(population))
	for _, srv := range population {
		hosts[srv.Address] = struct{}{}
		if srv.PasswordRequired {
			s.PasswordProtected++
		}
		if srv.DiscordURL != "" {
			s.DiscordLinked++
		}
		if srv.SRSAddress != "" {
			s.SRSEnabled++
		}
		if srv.Framework != "" {
			s.FrameworkCounts[srv.Framework]++
		}
		if srv.Terrain != "" {
			s.TerrainCounts[srv.Terrain]++
		}
		if country != nil {
			if code := country(srv.Address); code != "" {
				s.CountryCounts[code]++
			}
		}
	}
	s.UniqueHosts = len(hosts)

	return s
}
